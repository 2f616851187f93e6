package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"go.uber.org/zap"
)

// OrderService is what the inbound server drives
type OrderService interface {
	SubmitOrder(ctx context.Context, userID string, req model.OrderRequest) (model.Order, error)
	CancelOrder(ctx context.Context, userID, orderID string) error
}

// Server accepts inbound gateway connections and answers ORDER_REQUEST and
// CANCEL_REQUEST frames synchronously on the same connection.
type Server struct {
	svc    OrderService
	logger *zap.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates an inbound gateway server
func NewServer(svc OrderService, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every
// open connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("gateway server listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	}()

	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept gateway connection: %w", err)
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Info("gateway connected", zap.String("remote", remote))
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Warn("gateway disconnected", zap.String("remote", remote))
	}()

	dec := NewDecoder(conn)
	for {
		msg, err := dec.Decode()
		if errors.Is(err, ErrMalformedFrame) {
			s.logger.Error("failed to decode gateway frame", zap.String("remote", remote), zap.Error(err))
			continue
		}
		if err != nil {
			return
		}

		s.logger.Info("received from gateway",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
		)

		resp, ok := s.handle(ctx, msg)
		if !ok {
			continue
		}
		if err := WriteMessage(conn, resp); err != nil {
			s.logger.Error("failed to write gateway response",
				zap.String("msg_id", msg.MsgID),
				zap.Error(err),
			)
			return
		}
	}
}

// handle returns the response to msg; ok is false for unknown types,
// which are logged and left unanswered.
func (s *Server) handle(ctx context.Context, msg Message) (Message, bool) {
	var (
		resp Message
		err  error
	)
	switch msg.MsgType {
	case TypeOrderRequest:
		resp, err = s.handleOrderRequest(ctx, msg)
	case TypeCancelRequest:
		resp, err = s.handleCancelRequest(ctx, msg)
	default:
		s.logger.Warn("unknown message type",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
		)
		return Message{}, false
	}

	if err != nil {
		s.logger.Error("failed to process gateway request",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
			zap.Error(err),
		)
		return s.errorResponse(msg, err), true
	}
	return resp, true
}

func (s *Server) handleOrderRequest(ctx context.Context, msg Message) (Message, error) {
	var p OrderRequestPayload
	if err := msg.DecodeData(&p); err != nil {
		return Message{}, err
	}
	userID := p.UserID
	if userID == "" {
		userID = DefaultGatewayUser
	}

	order, err := s.svc.SubmitOrder(ctx, userID, p.OrderRequest)
	if err != nil {
		return Message{}, err
	}

	s.logger.Info("sent ORDER_RESPONSE", zap.String("order_id", order.OrderID))
	return newMessage(TypeOrderResponse, msg.MsgID, OrderResponsePayload{
		OrderID: order.OrderID,
		Status:  string(order.Status),
		Code:    CodeOK,
		Message: "Order submitted successfully",
	})
}

func (s *Server) handleCancelRequest(ctx context.Context, msg Message) (Message, error) {
	var p CancelRequestPayload
	if err := msg.DecodeData(&p); err != nil {
		return Message{}, err
	}
	if p.OrderID == "" {
		return Message{}, fmt.Errorf("%w: orderId is required", model.ErrValidation)
	}
	userID := p.UserID
	if userID == "" {
		userID = DefaultGatewayUser
	}

	if err := s.svc.CancelOrder(ctx, userID, p.OrderID); err != nil {
		return Message{}, err
	}

	s.logger.Info("sent CANCEL_RESPONSE", zap.String("order_id", p.OrderID))
	return newMessage(TypeCancelResponse, msg.MsgID, CancelResponsePayload{
		OrderID: p.OrderID,
		Success: true,
		Code:    CodeOK,
		Message: "Cancel request submitted",
	})
}

func (s *Server) errorResponse(req Message, cause error) Message {
	resp, err := newMessage(responseType(req.MsgType), req.MsgID, errorResponsePayload{
		Code:    CodeError,
		Message: cause.Error(),
	})
	if err != nil {
		s.logger.Error("failed to build error response", zap.Error(err))
	}
	return resp
}
