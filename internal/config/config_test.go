package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("ledger-engine")
	require.NoError(t, err)
	assert.Equal(t, StoreBackendPebble, cfg.StoreBackend)
	assert.Equal(t, DedupBackendSQLite, cfg.DedupBackend)
	assert.Equal(t, 5*time.Second, cfg.GatewayReconnectInterval)
	assert.Equal(t, 3*time.Second, cfg.GatewayConnectTimeout)
	assert.Equal(t, "ems.orders", cfg.EmsOrdersTopic)
	assert.Equal(t, "ledger-engine", cfg.EmsConsumerGroup)
	assert.Equal(t, ":8080", cfg.HTTPAddr())
	assert.Empty(t, cfg.GatewayListenAddr)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("DEDUP_BACKEND", "raft")
	t.Setenv("GATEWAY_RECONNECT_INTERVAL_MS", "250")
	t.Setenv("PORT_HTTP", "9999")
	t.Setenv("EMS_QUEUE_SIZE", "not-a-number")

	cfg, err := LoadConfig("ledger-engine")
	require.NoError(t, err)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, DedupBackendRaft, cfg.DedupBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.GatewayReconnectInterval)
	assert.Equal(t, ":9999", cfg.HTTPAddr())
	assert.Equal(t, 1024, cfg.EmsQueueSize)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "redis")

	_, err := LoadConfig("ledger-engine")
	assert.Error(t, err)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// registers restoration of the variable godotenv is about to set
	t.Setenv("SYMBOLS_FILE", "")
	require.NoError(t, os.Unsetenv("SYMBOLS_FILE"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SYMBOLS_FILE=/etc/symbols.json\n"), 0o600))

	cfg, err := LoadConfig("ledger-engine")
	require.NoError(t, err)
	assert.Equal(t, "/etc/symbols.json", cfg.SymbolsFile)
}
