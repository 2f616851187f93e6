package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// ErrConnectionUnavailable is returned by Send when no connection is live
var ErrConnectionUnavailable = errors.New("gateway connection is not available")

const (
	faultTarget  = "gateway"
	writeTimeout = 5 * time.Second
)

// State is the client's connection state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler consumes inbound messages
type Handler func(ctx context.Context, msg Message)

// FaultInjector drops or delays inbound frames
type FaultInjector interface {
	MaybeDrop(target, op string) bool
	MaybeDelay(ctx context.Context, target, op string) error
}

// ClientConfig configures the outbound gateway connection
type ClientConfig struct {
	Addr              string
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
}

// Client keeps one logical connection to the matching gateway and
// reconnects at a fixed interval until Run's context ends.
type Client struct {
	cfg     ClientConfig
	handler Handler
	logger  *zap.Logger
	faults  FaultInjector
	onState func(State)

	mu    sync.Mutex
	conn  net.Conn
	state State

	writeMu sync.Mutex

	sentCount     int64
	receivedCount int64
	droppedCount  int64
}

// NewClient creates a client; handler receives every inbound message
func NewClient(cfg ClientConfig, handler Handler, logger *zap.Logger) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		state:   StateDisconnected,
	}
}

// SetFaultInjector enables chaos on inbound frames. Call before Run.
func (c *Client) SetFaultInjector(f FaultInjector) {
	c.faults = f
}

// OnStateChange registers a listener for state transitions. Call before Run.
func (c *Client) OnStateChange(fn func(State)) {
	c.onState = fn
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and reconnects until ctx is done
func (c *Client) Run(ctx context.Context) error {
	reconnect := backoff.NewConstantBackOff(c.cfg.ReconnectInterval)
	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout, KeepAlive: 30 * time.Second}

	for {
		c.setState(StateConnecting, nil)
		c.logger.Info("connecting to gateway", zap.String("addr", c.cfg.Addr))

		conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
		if err != nil {
			c.setState(StateDisconnected, nil)
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("failed to connect to gateway", zap.String("addr", c.cfg.Addr), zap.Error(err))
		} else {
			if tcp, ok := conn.(*net.TCPConn); ok {
				tcp.SetNoDelay(true)
			}
			c.setState(StateConnected, conn)
			c.logger.Info("connected to gateway", zap.String("addr", c.cfg.Addr))

			c.readLoop(ctx, conn)

			c.setState(StateDisconnected, nil)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("gateway connection lost", zap.String("addr", c.cfg.Addr))
		}

		wait := reconnect.NextBackOff()
		c.logger.Info("scheduling reconnect", zap.Duration("in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Send writes msg on the live connection. It fails fast with
// ErrConnectionUnavailable when disconnected; nothing is queued.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		c.logger.Error("cannot send message, gateway not connected",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
			zap.Stringer("state", state),
		)
		return ErrConnectionUnavailable
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := WriteMessage(conn, msg); err != nil {
		// the read loop observes the closed socket and reconnects
		conn.Close()
		return fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}

	atomic.AddInt64(&c.sentCount, 1)
	c.logger.Debug("message sent",
		zap.String("msg_type", msg.MsgType),
		zap.String("msg_id", msg.MsgID),
	)
	return nil
}

// Stats returns sent, received and chaos-dropped counters
func (c *Client) Stats() (sent, received, dropped int64) {
	return atomic.LoadInt64(&c.sentCount), atomic.LoadInt64(&c.receivedCount), atomic.LoadInt64(&c.droppedCount)
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	dec := NewDecoder(conn)
	for {
		msg, err := dec.Decode()
		if errors.Is(err, ErrMalformedFrame) {
			c.logger.Error("failed to decode gateway frame", zap.Error(err))
			continue
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug("gateway read ended", zap.Error(err))
			}
			return
		}

		atomic.AddInt64(&c.receivedCount, 1)
		c.logger.Info("received gateway message",
			zap.String("msg_type", msg.MsgType),
			zap.String("msg_id", msg.MsgID),
		)

		if c.faults != nil {
			if c.faults.MaybeDrop(faultTarget, msg.MsgType) {
				atomic.AddInt64(&c.droppedCount, 1)
				continue
			}
			if err := c.faults.MaybeDelay(ctx, faultTarget, msg.MsgType); err != nil {
				return
			}
		}

		c.handler(ctx, msg)
	}
}

func (c *Client) setState(state State, conn net.Conn) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.conn = conn
	c.mu.Unlock()

	if changed && c.onState != nil {
		c.onState(state)
	}
}
