package event

import (
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Source identifies where an inbound event came from
type Source string

const (
	SourceGateway Source = "gateway"
	SourceEMS     Source = "ems"
)

// Event is the closed set of inbound events the order ledger consumes.
// Only types in this package implement it.
type Event interface {
	isEvent()
}

// OrderResponse is the gateway's verdict on an ORDER_REQUEST
type OrderResponse struct {
	MsgID   string
	OrderID string
	Status  model.OrderStatus
	Code    int
	Message string
}

// CancelResponse is the gateway's verdict on a CANCEL_REQUEST
type CancelResponse struct {
	MsgID   string
	OrderID string
	Success bool
}

// TradeNotify is one fill, from the gateway or the EMS feed
type TradeNotify struct {
	Source         Source
	MsgID          string
	OrderID        string
	TradeID        string
	CounterOrderID string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	Fee            decimal.Decimal
	FeeAsset       string
	IsMaker        bool
	TradeTime      int64
}

func (OrderResponse) isEvent()  {}
func (CancelResponse) isEvent() {}
func (TradeNotify) isEvent()    {}

// FromTrade converts a settled-trade fact into a TradeNotify event
func FromTrade(t model.Trade, source Source) TradeNotify {
	return TradeNotify{
		Source:         source,
		OrderID:        t.OrderID,
		TradeID:        t.TradeID,
		CounterOrderID: t.CounterOrderID,
		Price:          t.Price,
		Quantity:       t.Quantity,
		Fee:            t.Fee,
		FeeAsset:       t.FeeAsset,
		IsMaker:        t.IsMaker,
		TradeTime:      t.TradeTime,
	}
}

// Trade builds the trade record of this fill against order.
// A zero TradeTime is replaced by now.
func (e TradeNotify) Trade(order model.Order, now int64) model.Trade {
	tradeTime := e.TradeTime
	if tradeTime == 0 {
		tradeTime = now
	}
	return model.Trade{
		TradeID:        e.TradeID,
		OrderID:        order.OrderID,
		CounterOrderID: e.CounterOrderID,
		UserID:         order.UserID,
		Symbol:         order.Symbol,
		Price:          e.Price,
		Quantity:       e.Quantity,
		Fee:            e.Fee,
		FeeAsset:       e.FeeAsset,
		TradeTime:      tradeTime,
		IsMaker:        e.IsMaker,
	}
}
