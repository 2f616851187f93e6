package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FlowType classifies one journaled balance movement
type FlowType string

const (
	FlowDeposit  FlowType = "DEPOSIT"
	FlowWithdraw FlowType = "WITHDRAW"
	FlowTradeIn  FlowType = "TRADE_IN"
	FlowTradeOut FlowType = "TRADE_OUT"
	FlowFee      FlowType = "FEE"
)

// Balance is a user's holding of one asset
type Balance struct {
	UserID     string          `json:"userId"`
	Asset      string          `json:"asset"`
	Available  decimal.Decimal `json:"available"`
	Frozen     decimal.Decimal `json:"frozen"`
	UpdateTime int64           `json:"updateTime"`
}

// Total returns available + frozen
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Frozen)
}

// AssetFlow is one append-only journal row.
// Balance is the available balance right after the movement.
type AssetFlow struct {
	FlowID      string          `json:"flowId"`
	UserID      string          `json:"userId"`
	Asset       string          `json:"asset"`
	FlowType    FlowType        `json:"flowType"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	RelatedID   string          `json:"relatedId"`
	Description string          `json:"description"`
	CreateTime  int64           `json:"createTime"`
}

// NewFlowID returns an engine-generated flow id
func NewFlowID() string {
	return fmt.Sprintf("FLOW%d%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}
