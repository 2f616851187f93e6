package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeOrderService struct {
	mu        sync.Mutex
	submitted []string
	canceled  []string
	cancelErr error
}

func (f *fakeOrderService) SubmitOrder(_ context.Context, userID string, req model.OrderRequest) (model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Symbol == "" {
		return model.Order{}, fmt.Errorf("%w: symbol is required", model.ErrValidation)
	}
	f.submitted = append(f.submitted, userID)
	return model.Order{OrderID: "ORD-" + userID, UserID: userID, Status: model.StatusPending}, nil
}

func (f *fakeOrderService) CancelOrder(_ context.Context, userID, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, userID+"/"+orderID)
	return nil
}

func startServer(t *testing.T, svc OrderService) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(svc, zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, dec *Decoder, req Message) Message {
	t.Helper()
	require.NoError(t, WriteMessage(conn, req))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := dec.Decode()
	require.NoError(t, err)
	return resp
}

func TestServer_OrderRequest(t *testing.T) {
	svc := &fakeOrderService{}
	conn := startServer(t, svc)
	dec := NewDecoder(conn)

	price := decimal.RequireFromString("100")
	req := mustMessage(t, TypeOrderRequest, OrderRequestPayload{
		OrderRequest: model.OrderRequest{
			Symbol:    "BTCUSDT",
			OrderType: model.OrderTypeLimit,
			Side:      model.SideBuy,
			Price:     &price,
			Quantity:  decimal.RequireFromString("1"),
		},
	})

	resp := roundTrip(t, conn, dec, req)
	assert.Equal(t, TypeOrderResponse, resp.MsgType)
	assert.Equal(t, req.MsgID, resp.MsgID)

	var p OrderResponsePayload
	require.NoError(t, resp.DecodeData(&p))
	assert.Equal(t, CodeOK, p.Code)
	assert.Equal(t, "ORD-"+DefaultGatewayUser, p.OrderID)
	assert.Equal(t, string(model.StatusPending), p.Status)
}

func TestServer_CancelRequestWithUser(t *testing.T) {
	svc := &fakeOrderService{}
	conn := startServer(t, svc)
	dec := NewDecoder(conn)

	req := mustMessage(t, TypeCancelRequest, CancelRequestPayload{OrderID: "ORD1", UserID: "alice"})
	resp := roundTrip(t, conn, dec, req)
	assert.Equal(t, TypeCancelResponse, resp.MsgType)
	assert.Equal(t, req.MsgID, resp.MsgID)

	var p CancelResponsePayload
	require.NoError(t, resp.DecodeData(&p))
	assert.Equal(t, CodeOK, p.Code)
	assert.True(t, p.Success)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, []string{"alice/ORD1"}, svc.canceled)
}

func TestServer_FailureBecomesErrorResponse(t *testing.T) {
	svc := &fakeOrderService{cancelErr: fmt.Errorf("%w: order ORD1", model.ErrNotFound)}
	conn := startServer(t, svc)
	dec := NewDecoder(conn)

	req := mustMessage(t, TypeCancelRequest, CancelRequestPayload{OrderID: "ORD1"})
	resp := roundTrip(t, conn, dec, req)
	assert.Equal(t, TypeCancelResponse, resp.MsgType)
	assert.Equal(t, req.MsgID, resp.MsgID)

	var p errorResponsePayload
	require.NoError(t, resp.DecodeData(&p))
	assert.Equal(t, CodeError, p.Code)
	assert.Contains(t, p.Message, "not found")

	// connection stays usable after an error
	bad := Message{MsgType: TypeOrderRequest, MsgID: "m-2", Data: "{"}
	resp = roundTrip(t, conn, dec, bad)
	assert.Equal(t, TypeOrderResponse, resp.MsgType)
	assert.Equal(t, "m-2", resp.MsgID)
}

func TestServer_UnknownTypeIsNotAnswered(t *testing.T) {
	svc := &fakeOrderService{}
	conn := startServer(t, svc)
	dec := NewDecoder(conn)

	require.NoError(t, WriteMessage(conn, Message{MsgType: "HEARTBEAT", MsgID: "hb", Data: "{}"}))

	req := mustMessage(t, TypeCancelRequest, CancelRequestPayload{OrderID: "ORD1"})
	resp := roundTrip(t, conn, dec, req)
	assert.Equal(t, req.MsgID, resp.MsgID)
}
