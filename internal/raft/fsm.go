package raft

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// FSM holds the replicated set of claimed trades
type FSM struct {
	mu        sync.RWMutex
	processed map[string]ProcessedTrade
}

// NewFSM creates a new FSM
func NewFSM() *FSM {
	return &FSM{
		processed: make(map[string]ProcessedTrade),
	}
}

// Apply applies a log entry to the FSM
func (f *FSM) Apply(log *raft.Log) interface{} {
	cmd, err := DecodeCommand(log.Data)
	if err != nil {
		return ClaimResult{Error: err.Error()}
	}

	var tc TradeCommand
	if err := json.Unmarshal(cmd.Payload, &tc); err != nil {
		return ClaimResult{Error: fmt.Sprintf("failed to decode %s payload: %v", cmd.Kind, err)}
	}
	key := tradeKey(tc.OrderID, tc.TradeID)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Kind {
	case CommandKindClaimTrade:
		if _, exists := f.processed[key]; exists {
			return ClaimResult{Duplicate: true, OrderID: tc.OrderID, TradeID: tc.TradeID}
		}
		f.processed[key] = ProcessedTrade{
			OrderID:     tc.OrderID,
			TradeID:     tc.TradeID,
			FirstSeenTs: tc.TsUnixMillis,
		}
		return ClaimResult{OrderID: tc.OrderID, TradeID: tc.TradeID}

	case CommandKindReleaseTrade:
		delete(f.processed, key)
		return ClaimResult{OrderID: tc.OrderID, TradeID: tc.TradeID}

	default:
		return ClaimResult{Error: fmt.Sprintf("unknown command kind %q", cmd.Kind)}
	}
}

// Snapshot returns a snapshot of the FSM state
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{state: f.GetStateSnapshot()}, nil
}

// Restore restores the FSM from a snapshot
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot map[string]ProcessedTrade
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snapshot == nil {
		snapshot = make(map[string]ProcessedTrade)
	}

	f.mu.Lock()
	f.processed = snapshot
	f.mu.Unlock()
	return nil
}

// GetProcessedTrade looks up one claimed trade
func (f *FSM) GetProcessedTrade(orderID, tradeID string) (ProcessedTrade, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	trade, exists := f.processed[tradeKey(orderID, tradeID)]
	return trade, exists
}

// Len returns the number of claimed trades
func (f *FSM) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.processed)
}

// GetStateSnapshot returns a copy of the state
func (f *FSM) GetStateSnapshot() map[string]ProcessedTrade {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snapshot := make(map[string]ProcessedTrade, len(f.processed))
	for k, v := range f.processed {
		snapshot[k] = v
	}
	return snapshot
}

// fsmSnapshot implements raft.FSMSnapshot
type fsmSnapshot struct {
	state map[string]ProcessedTrade
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.state); err != nil {
		sink.Cancel()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
