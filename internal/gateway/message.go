package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Message types
const (
	TypeOrderRequest   = "ORDER_REQUEST"
	TypeOrderResponse  = "ORDER_RESPONSE"
	TypeCancelRequest  = "CANCEL_REQUEST"
	TypeCancelResponse = "CANCEL_RESPONSE"
	TypeTradeNotify    = "TRADE_NOTIFY"
)

// Response codes
const (
	CodeOK    = 0
	CodeError = 9999
)

// DefaultGatewayUser owns orders submitted through the inbound server
// when the request does not name a user.
const DefaultGatewayUser = "gateway_user"

// Message is the wire envelope. Data holds the JSON-encoded payload.
type Message struct {
	MsgType   string `json:"msgType"`
	MsgID     string `json:"msgId"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
}

// NewMessage builds an envelope with a fresh msgId around payload
func NewMessage(msgType string, payload any) (Message, error) {
	return newMessage(msgType, uuid.New().String(), payload)
}

func newMessage(msgType, msgID string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{
		MsgType:   msgType,
		MsgID:     msgID,
		Timestamp: model.NowMillis(),
		Data:      string(data),
	}, nil
}

// DecodeData unmarshals the envelope payload into v
func (m Message) DecodeData(v any) error {
	if err := json.Unmarshal([]byte(m.Data), v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.MsgType, err)
	}
	return nil
}

// responseType maps a request type onto its response type
func responseType(msgType string) string {
	return strings.Replace(msgType, "REQUEST", "RESPONSE", 1)
}

// OrderRequestPayload is the ORDER_REQUEST body. Outbound it is the full
// order; inbound only the request fields and an optional userId are read.
type OrderRequestPayload struct {
	OrderID string `json:"orderId,omitempty"`
	UserID  string `json:"userId,omitempty"`
	model.OrderRequest
}

// CancelRequestPayload is the CANCEL_REQUEST body
type CancelRequestPayload struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId,omitempty"`
}

// OrderResponsePayload is the ORDER_RESPONSE body
type OrderResponsePayload struct {
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// CancelResponsePayload is the CANCEL_RESPONSE body
type CancelResponsePayload struct {
	OrderID string `json:"orderId,omitempty"`
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// TradeNotifyPayload is the TRADE_NOTIFY body
type TradeNotifyPayload struct {
	OrderID        string          `json:"orderId"`
	TradeID        string          `json:"tradeId"`
	CounterOrderID string          `json:"counterOrderId,omitempty"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Fee            decimal.Decimal `json:"fee"`
	FeeAsset       string          `json:"feeAsset"`
	IsMaker        bool            `json:"isMaker"`
	TradeTime      int64           `json:"tradeTime,omitempty"`
}

// errorResponsePayload is written back when an inbound request fails
type errorResponsePayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
