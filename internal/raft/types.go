package raft

import (
	"encoding/json"
	"fmt"
)

// CommandEnvelope wraps commands for Raft
type CommandEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Command kinds
const (
	CommandKindClaimTrade   = "CLAIM_TRADE"
	CommandKindReleaseTrade = "RELEASE_TRADE"
)

// TradeCommand claims or releases one (order_id, trade_id) pair
type TradeCommand struct {
	OrderID      string `json:"order_id"`
	TradeID      string `json:"trade_id"`
	TsUnixMillis int64  `json:"ts_unix_millis"`
}

// ProcessedTrade is a claimed trade in the FSM state
type ProcessedTrade struct {
	OrderID     string `json:"order_id"`
	TradeID     string `json:"trade_id"`
	FirstSeenTs int64  `json:"first_seen_ts"`
}

// ClaimResult is the FSM response to a trade command
type ClaimResult struct {
	Duplicate bool   `json:"duplicate"`
	OrderID   string `json:"order_id"`
	TradeID   string `json:"trade_id"`
	Error     string `json:"error,omitempty"`
}

func tradeKey(orderID, tradeID string) string {
	return orderID + "/" + tradeID
}

// EncodeCommand encodes a command into JSON bytes
func EncodeCommand(kind string, payload interface{}) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	cmd := CommandEnvelope{
		Kind:    kind,
		Payload: payloadJSON,
	}

	return json.Marshal(cmd)
}

// DecodeCommand decodes a command from JSON bytes
func DecodeCommand(data []byte) (*CommandEnvelope, error) {
	var cmd CommandEnvelope
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	return &cmd, nil
}
