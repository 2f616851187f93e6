package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType is LIMIT or MARKET
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderSide is BUY or SELL
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	StatusPending       OrderStatus = "PENDING"
	StatusSubmitted     OrderStatus = "SUBMITTED"
	StatusPartialFilled OrderStatus = "PARTIAL_FILLED"
	StatusFilled        OrderStatus = "FILLED"
	StatusCanceled      OrderStatus = "CANCELED"
	StatusRejected      OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is allowed
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// ParseOrderStatus converts a wire status string into an OrderStatus
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusSubmitted, StatusPartialFilled, StatusFilled, StatusCanceled, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

// Order is a user order tracked by the order ledger.
// Price is nil for market orders.
type Order struct {
	OrderID       string           `json:"orderId"`
	UserID        string           `json:"userId"`
	Symbol        string           `json:"symbol"`
	OrderType     OrderType        `json:"orderType"`
	Side          OrderSide        `json:"side"`
	Price         *decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal  `json:"quantity"`
	FilledQty     decimal.Decimal  `json:"filledQty"`
	AvgPrice      decimal.Decimal  `json:"avgPrice"`
	Status        OrderStatus      `json:"status"`
	CreateTime    int64            `json:"createTime"`
	UpdateTime    int64            `json:"updateTime"`
	ClientOrderID string           `json:"clientOrderId,omitempty"`
}

// RemainingQty returns quantity - filledQty
func (o *Order) RemainingQty() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// OrderRequest is the caller's order intent
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	OrderType     OrderType        `json:"orderType"`
	Side          OrderSide        `json:"side"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Quantity      decimal.Decimal  `json:"quantity"`
	ClientOrderID string           `json:"clientOrderId,omitempty"`
}

// Trade is one fill against an order. TradeID is assigned upstream.
type Trade struct {
	TradeID        string          `json:"tradeId"`
	OrderID        string          `json:"orderId"`
	CounterOrderID string          `json:"counterOrderId,omitempty"`
	UserID         string          `json:"userId"`
	Symbol         string          `json:"symbol"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Fee            decimal.Decimal `json:"fee"`
	FeeAsset       string          `json:"feeAsset"`
	TradeTime      int64           `json:"tradeTime"`
	IsMaker        bool            `json:"isMaker"`
}

// NewOrderID returns an engine-generated order id
func NewOrderID() string {
	return fmt.Sprintf("ORD%d%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// NowMillis returns the current unix time in milliseconds
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
