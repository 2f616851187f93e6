//go:build integration
// +build integration

package idempotency

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two handles on one file stand in for two engine processes sharing a registry.
func TestIntegration_SharedRegistryFile(t *testing.T) {
	if os.Getenv("INTEGRATION") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION=1 to run.")
	}

	path := filepath.Join(t.TempDir(), "trades.db")
	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	const trades = 200

	var wins int64
	var wg sync.WaitGroup
	for _, s := range []*Store{a, b} {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for i := 0; i < trades; i++ {
				first, err := s.Claim(ctx, "ORD1", fmt.Sprintf("T%d", i))
				if !assert.NoError(t, err) {
					return
				}
				if first {
					atomic.AddInt64(&wins, 1)
				}
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int64(trades), wins, "each trade must be claimed exactly once")

	claimed, err := a.listByOrder(ctx, "ORD1")
	require.NoError(t, err)
	assert.Len(t, claimed, trades)
}
