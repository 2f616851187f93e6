package ems

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ismaiel54/trading-ledger-engine/internal/model"
)

// EventType tags an outbound back-office notification
type EventType string

const (
	EventOrderSubmit EventType = "ORDER_SUBMIT"
	EventOrderCancel EventType = "ORDER_CANCEL"
	EventTradeFilled EventType = "TRADE_FILLED"
)

// TradePrefix precedes every inbound trade on the broadcast channel
const TradePrefix = "TRADE."

// Message is one outbound notification. Data is the JSON-encoded order or trade.
type Message struct {
	EventType EventType `json:"eventType"`
	OrderID   string    `json:"orderId"`
	Timestamp int64     `json:"timestamp"`
	Data      string    `json:"data"`
}

// EncodeTrade frames a trade the way the back office broadcasts it
func EncodeTrade(t model.Trade) ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trade: %w", err)
	}
	return append([]byte(TradePrefix), body...), nil
}

// DecodeTrade strips TradePrefix and decodes the trade behind it
func DecodeTrade(raw []byte) (model.Trade, error) {
	if !bytes.HasPrefix(raw, []byte(TradePrefix)) {
		return model.Trade{}, fmt.Errorf("%w: missing %q prefix", model.ErrValidation, TradePrefix)
	}
	var t model.Trade
	if err := json.Unmarshal(raw[len(TradePrefix):], &t); err != nil {
		return model.Trade{}, fmt.Errorf("failed to decode trade: %w", err)
	}
	if t.OrderID == "" || t.TradeID == "" {
		return model.Trade{}, fmt.Errorf("%w: trade requires orderId and tradeId", model.ErrValidation)
	}
	return t, nil
}
