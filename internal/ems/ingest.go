package ems

import (
	"context"
	"sync/atomic"

	"github.com/ismaiel54/trading-ledger-engine/internal/event"
	"github.com/ismaiel54/trading-ledger-engine/internal/msg"
	"go.uber.org/zap"
)

// TradeHandler applies a trade fact
type TradeHandler interface {
	OnTradeNotify(ctx context.Context, ev event.TradeNotify) error
}

// Ingest feeds back-office trade broadcasts into the order ledger
type Ingest struct {
	handler TradeHandler
	logger  *zap.Logger

	appliedCount   int64
	discardedCount int64
}

// NewIngest creates a trade ingest
func NewIngest(handler TradeHandler, logger *zap.Logger) *Ingest {
	return &Ingest{handler: handler, logger: logger}
}

// HandleRecord processes one broadcast record. It always returns nil so a
// bad record never stalls the subscription.
func (i *Ingest) HandleRecord(ctx context.Context, rec msg.Record) error {
	trade, err := DecodeTrade(rec.Value)
	if err != nil {
		atomic.AddInt64(&i.discardedCount, 1)
		i.logger.Warn("discarding ems record",
			zap.String("topic", rec.Topic),
			zap.Int64("offset", rec.Offset),
			zap.Error(err),
		)
		return nil
	}

	if err := i.handler.OnTradeNotify(ctx, event.FromTrade(trade, event.SourceEMS)); err != nil {
		atomic.AddInt64(&i.discardedCount, 1)
		i.logger.Error("failed to apply ems trade",
			zap.String("order_id", trade.OrderID),
			zap.String("trade_id", trade.TradeID),
			zap.Error(err),
		)
		return nil
	}

	atomic.AddInt64(&i.appliedCount, 1)
	return nil
}

// Stats returns applied and discarded counters
func (i *Ingest) Stats() (applied, discarded int64) {
	return atomic.LoadInt64(&i.appliedCount), atomic.LoadInt64(&i.discardedCount)
}
