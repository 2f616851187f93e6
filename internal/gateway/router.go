package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ismaiel54/trading-ledger-engine/internal/event"
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"go.uber.org/zap"
)

// ErrUnknownMessageType is returned by Classify for types it does not route
var ErrUnknownMessageType = errors.New("unknown gateway message type")

// EventHandler consumes typed inbound events
type EventHandler interface {
	OnOrderResponse(ctx context.Context, ev event.OrderResponse) error
	OnCancelResponse(ctx context.Context, ev event.CancelResponse) error
	OnTradeNotify(ctx context.Context, ev event.TradeNotify) error
}

// Classify maps a wire envelope onto its typed event
func Classify(msg Message) (event.Event, error) {
	switch msg.MsgType {
	case TypeOrderResponse:
		var p OrderResponsePayload
		if err := msg.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.OrderID == "" {
			return nil, fmt.Errorf("%w: %s without orderId (code=%d, message=%q)", model.ErrValidation, msg.MsgType, p.Code, p.Message)
		}
		status, err := model.ParseOrderStatus(p.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
		}
		return event.OrderResponse{
			MsgID:   msg.MsgID,
			OrderID: p.OrderID,
			Status:  status,
			Code:    p.Code,
			Message: p.Message,
		}, nil

	case TypeCancelResponse:
		var p CancelResponsePayload
		if err := msg.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.OrderID == "" {
			return nil, fmt.Errorf("%w: %s without orderId", model.ErrValidation, msg.MsgType)
		}
		return event.CancelResponse{
			MsgID:   msg.MsgID,
			OrderID: p.OrderID,
			Success: p.Success,
		}, nil

	case TypeTradeNotify:
		var p TradeNotifyPayload
		if err := msg.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.OrderID == "" || p.TradeID == "" {
			return nil, fmt.Errorf("%w: %s requires orderId and tradeId", model.ErrValidation, msg.MsgType)
		}
		return event.TradeNotify{
			Source:         event.SourceGateway,
			MsgID:          msg.MsgID,
			OrderID:        p.OrderID,
			TradeID:        p.TradeID,
			CounterOrderID: p.CounterOrderID,
			Price:          p.Price,
			Quantity:       p.Quantity,
			Fee:            p.Fee,
			FeeAsset:       p.FeeAsset,
			IsMaker:        p.IsMaker,
			TradeTime:      p.TradeTime,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.MsgType)
	}
}

// Router classifies inbound messages and dispatches them to an EventHandler.
// Failures are logged and never propagate to the read loop.
type Router struct {
	handler EventHandler
	logger  *zap.Logger
}

// NewRouter creates a router
func NewRouter(handler EventHandler, logger *zap.Logger) *Router {
	return &Router{handler: handler, logger: logger}
}

// Dispatch routes one message; it satisfies Handler
func (r *Router) Dispatch(ctx context.Context, msg Message) {
	ev, err := Classify(msg)
	if errors.Is(err, ErrUnknownMessageType) {
		r.logger.Warn("unknown message type",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
		)
		return
	}
	if err != nil {
		r.logger.Error("failed to classify gateway message",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
			zap.Error(err),
		)
		return
	}

	switch e := ev.(type) {
	case event.OrderResponse:
		err = r.handler.OnOrderResponse(ctx, e)
	case event.CancelResponse:
		err = r.handler.OnCancelResponse(ctx, e)
	case event.TradeNotify:
		err = r.handler.OnTradeNotify(ctx, e)
	}
	if err != nil {
		r.logger.Error("failed to handle gateway event",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
			zap.Error(err),
		)
	}
}
