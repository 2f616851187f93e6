package raft

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"go.uber.org/zap"
)

// ErrNotLeader is returned when a write reaches a follower
var ErrNotLeader = errors.New("not leader")

// Node wraps a HashiCorp Raft node
type Node struct {
	raft       *raft.Raft
	fsm        *FSM
	config     *Config
	logger     *zap.Logger
	stores     []*raftboltdb.BoltStore
	addr       raft.ServerAddress
	shutdownCh chan struct{}
}

// Start starts a Raft node
func Start(ctx context.Context, cfg *Config, logger *zap.Logger) (*Node, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fsm := NewFSM()

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.SnapshotInterval = time.Duration(cfg.SnapshotInterval) * time.Second
	raftConfig.SnapshotThreshold = uint64(cfg.SnapshotThreshold)

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "stable.db"))
	if err != nil {
		logStore.Close()
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}
	stores := []*raftboltdb.BoltStore{logStore, stableStore}
	closeStores := func() {
		for _, s := range stores {
			s.Close()
		}
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 3, os.Stderr)
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, nil, 3, 10*time.Second, os.Stderr)
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		transport.Close()
		closeStores()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	node := &Node{
		raft:       r,
		fsm:        fsm,
		config:     cfg,
		logger:     logger,
		stores:     stores,
		addr:       transport.LocalAddr(),
		shutdownCh: make(chan struct{}),
	}

	go node.monitorLeadership()

	if cfg.Bootstrap {
		// a bind port of 0 is only known once the transport listens
		advertise := raft.ServerAddress(cfg.AdvertiseAddr)
		if cfg.AdvertiseAddr == "" || cfg.AdvertiseAddr == cfg.BindAddr {
			advertise = node.addr
		}
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(cfg.NodeID),
					Address: advertise,
				},
			},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			node.Shutdown()
			return nil, fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		logger.Info("bootstrapped Raft cluster", zap.String("node_id", cfg.NodeID))
	}

	logger.Info("Raft node started",
		zap.String("node_id", cfg.NodeID),
		zap.String("bind_addr", string(transport.LocalAddr())),
		zap.Bool("bootstrap", cfg.Bootstrap),
	)

	return node, nil
}

// IsLeader returns whether this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// Leader returns the current leader address
func (n *Node) Leader() string {
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// Addr returns the transport address of this node
func (n *Node) Addr() string {
	return string(n.addr)
}

// WaitForLeader blocks until the cluster has elected a leader
func (n *Node) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if n.Leader() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no raft leader elected: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Apply applies a command to the Raft log
func (n *Node) Apply(ctx context.Context, cmd []byte, timeout time.Duration) (interface{}, error) {
	if !n.IsLeader() {
		return nil, ErrNotLeader
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	applyFuture := n.raft.Apply(cmd, timeout)
	if err := applyFuture.Error(); err != nil {
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	return applyFuture.Response(), nil
}

// GetFSM returns the FSM (for reads)
func (n *Node) GetFSM() *FSM {
	return n.fsm
}

// AddVoter adds a voter to the cluster
func (n *Node) AddVoter(serverID raft.ServerID, address raft.ServerAddress) error {
	if !n.IsLeader() {
		return ErrNotLeader
	}

	future := n.raft.AddVoter(serverID, address, 0, 0)
	return future.Error()
}

// monitorLeadership logs leadership transitions
func (n *Node) monitorLeadership() {
	for {
		select {
		case <-n.shutdownCh:
			return
		case isLeader := <-n.raft.LeaderCh():
			if isLeader {
				n.logger.Info("became leader", zap.String("node_id", n.config.NodeID))
			} else {
				n.logger.Info("lost leadership", zap.String("node_id", n.config.NodeID))
			}
		}
	}
}

// Shutdown shuts down the Raft node
func (n *Node) Shutdown() error {
	close(n.shutdownCh)
	err := n.raft.Shutdown().Error()
	for _, s := range n.stores {
		s.Close()
	}
	return err
}
