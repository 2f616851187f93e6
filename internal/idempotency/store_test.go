package idempotency

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestClaim_Idempotency(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	assert.True(t, first, "first claim should win")

	first, err = store.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	assert.False(t, first, "redelivered trade should be a duplicate")

	// same tradeId on another order is a different fill
	first, err = store.Claim(ctx, "ORD2", "T1")
	require.NoError(t, err)
	assert.True(t, first)

	trades, err := store.listByOrder(ctx, "ORD1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "T1", trades[0].TradeID)
}

func TestRelease_AllowsReclaim(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	require.True(t, first)

	require.NoError(t, store.Release(ctx, "ORD1", "T1"))

	first, err = store.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := store.Claim(ctx, "ORD1", "T1")
			assert.NoError(t, err)
			if first {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), wins)
}

func TestClaim_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	first, err := store.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	require.True(t, first)
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	first, err = store.Claim(ctx, "ORD1", "T1")
	require.NoError(t, err)
	assert.False(t, first)
}
