package ems

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"go.uber.org/zap"
)

// Publisher pushes one JSON message onto a topic
type Publisher interface {
	ProduceJSON(ctx context.Context, topic string, key string, v any) error
}

// Notifier mirrors order actions to the back office. Notify never blocks:
// messages go into a bounded queue drained by Run, and a full queue drops
// the message. Delivery is at-most-once.
type Notifier struct {
	publisher Publisher
	topic     string
	queue     chan Message
	logger    *zap.Logger

	enqueuedCount int64
	sentCount     int64
	droppedCount  int64
	errorCount    int64
}

// NewNotifier creates a notifier with room for queueSize pending messages
func NewNotifier(publisher Publisher, topic string, queueSize int, logger *zap.Logger) *Notifier {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Notifier{
		publisher: publisher,
		topic:     topic,
		queue:     make(chan Message, queueSize),
		logger:    logger,
	}
}

// Notify enqueues one notification; data is encoded as the message payload
func (n *Notifier) Notify(eventType EventType, orderID string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		atomic.AddInt64(&n.errorCount, 1)
		n.logger.Error("failed to encode ems notification",
			zap.String("event_type", string(eventType)),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}

	msg := Message{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: model.NowMillis(),
		Data:      string(payload),
	}

	select {
	case n.queue <- msg:
		atomic.AddInt64(&n.enqueuedCount, 1)
	default:
		atomic.AddInt64(&n.droppedCount, 1)
		n.logger.Warn("ems queue full, notification dropped",
			zap.String("event_type", string(eventType)),
			zap.String("order_id", orderID),
		)
	}
}

// Run drains the queue until ctx is done
func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-n.queue:
			n.send(ctx, msg)
		case <-ticker.C:
			n.logStats()
		}
	}
}

func (n *Notifier) send(ctx context.Context, msg Message) {
	if err := n.publisher.ProduceJSON(ctx, n.topic, msg.OrderID, msg); err != nil {
		atomic.AddInt64(&n.errorCount, 1)
		n.logger.Error("failed to notify ems",
			zap.String("event_type", string(msg.EventType)),
			zap.String("order_id", msg.OrderID),
			zap.Error(err),
		)
		return
	}
	atomic.AddInt64(&n.sentCount, 1)
	n.logger.Debug("ems notified",
		zap.String("event_type", string(msg.EventType)),
		zap.String("order_id", msg.OrderID),
	)
}

// Stats returns sent, dropped and failed counters
func (n *Notifier) Stats() (sent, dropped, failed int64) {
	return atomic.LoadInt64(&n.sentCount), atomic.LoadInt64(&n.droppedCount), atomic.LoadInt64(&n.errorCount)
}

func (n *Notifier) logStats() {
	n.logger.Info("ems notifier stats",
		zap.Int64("enqueued", atomic.LoadInt64(&n.enqueuedCount)),
		zap.Int64("sent", atomic.LoadInt64(&n.sentCount)),
		zap.Int64("dropped", atomic.LoadInt64(&n.droppedCount)),
		zap.Int64("errors", atomic.LoadInt64(&n.errorCount)),
		zap.Int("queued", len(n.queue)),
	)
}
