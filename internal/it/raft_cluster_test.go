package it

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	hraft "github.com/hashicorp/raft"
	"github.com/ismaiel54/trading-ledger-engine/internal/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startRaftNode(t *testing.T, id, dir string, bootstrap bool) *raft.Node {
	t.Helper()
	cfg := &raft.Config{
		NodeID:            id,
		BindAddr:          "127.0.0.1:0",
		DataDir:           filepath.Join(dir, id),
		Bootstrap:         bootstrap,
		SnapshotInterval:  20,
		SnapshotThreshold: 64,
	}
	node, err := raft.Start(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { node.Shutdown() })
	return node
}

func TestRaftRegistry_SingleNodeDeduplicates(t *testing.T) {
	node := startRaftNode(t, "node1", t.TempDir(), true)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, node.WaitForLeader(ctx))
	require.Eventually(t, node.IsLeader, 10*time.Second, 50*time.Millisecond)

	reg := raft.NewRegistry(node, 5*time.Second)

	first, err := reg.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = reg.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	assert.False(t, first, "redelivered trade must be reported as duplicate")

	require.NoError(t, reg.Release(ctx, "ORD1", "T1"))
	first, err = reg.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRaftCluster_ClaimReplicates(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("skipping integration test; set INTEGRATION=1 to run")
	}

	dir := t.TempDir()
	node1 := startRaftNode(t, "node1", dir, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, node1.WaitForLeader(ctx))
	require.Eventually(t, node1.IsLeader, 10*time.Second, 50*time.Millisecond)

	node2 := startRaftNode(t, "node2", dir, false)
	node3 := startRaftNode(t, "node3", dir, false)
	require.NoError(t, node1.AddVoter("node2", hraft.ServerAddress(node2.Addr())))
	require.NoError(t, node1.AddVoter("node3", hraft.ServerAddress(node3.Addr())))

	nodes := []*raft.Node{node1, node2, node3}
	var leader *raft.Node
	require.Eventually(t, func() bool {
		leaders := 0
		for _, n := range nodes {
			if n.IsLeader() {
				leaders++
				leader = n
			}
		}
		return leaders == 1
	}, 15*time.Second, 100*time.Millisecond)

	reg := raft.NewRegistry(leader, 5*time.Second)
	first, err := reg.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	require.True(t, first)

	for _, n := range nodes {
		n := n
		assert.Eventually(t, func() bool {
			_, ok := n.GetFSM().GetProcessedTrade("ORD1", "T1")
			return ok
		}, 10*time.Second, 50*time.Millisecond)
	}

	// followers refuse writes
	for _, n := range nodes {
		if n == leader {
			continue
		}
		_, err := raft.NewRegistry(n, time.Second).Claim(ctx, "ORD1", "T2")
		assert.ErrorIs(t, err, raft.ErrNotLeader)
	}
}
