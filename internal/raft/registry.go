package raft

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Registry is a trade registry replicated through the Raft log.
// Claims must be made on the leader.
type Registry struct {
	node    *Node
	timeout time.Duration
}

// NewRegistry wraps node; timeout bounds each log apply
func NewRegistry(node *Node, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Registry{node: node, timeout: timeout}
}

// Claim replicates a claim of (orderID, tradeID) and reports whether it was first
func (r *Registry) Claim(ctx context.Context, orderID, tradeID string) (bool, error) {
	res, err := r.apply(ctx, CommandKindClaimTrade, orderID, tradeID)
	if err != nil {
		return false, err
	}
	return !res.Duplicate, nil
}

// Release replicates the removal of a claim
func (r *Registry) Release(ctx context.Context, orderID, tradeID string) error {
	_, err := r.apply(ctx, CommandKindReleaseTrade, orderID, tradeID)
	return err
}

func (r *Registry) apply(ctx context.Context, kind, orderID, tradeID string) (ClaimResult, error) {
	cmd, err := EncodeCommand(kind, TradeCommand{
		OrderID:      orderID,
		TradeID:      tradeID,
		TsUnixMillis: time.Now().UnixMilli(),
	})
	if err != nil {
		return ClaimResult{}, err
	}

	resp, err := r.node.Apply(ctx, cmd, r.timeout)
	if err != nil {
		return ClaimResult{}, err
	}
	res, ok := resp.(ClaimResult)
	if !ok {
		return ClaimResult{}, fmt.Errorf("unexpected raft response %T", resp)
	}
	if res.Error != "" {
		return ClaimResult{}, errors.New(res.Error)
	}
	return res, nil
}
