package raft

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds Raft configuration for the replicated trade registry
type Config struct {
	NodeID            string
	BindAddr          string
	AdvertiseAddr     string
	DataDir           string
	Bootstrap         bool
	SnapshotInterval  int
	SnapshotThreshold int
	ApplyTimeout      time.Duration
}

// LoadConfig loads Raft configuration from environment variables.
// The node's data lives under baseDir unless RAFT_DATA_DIR is set.
func LoadConfig(baseDir string) (*Config, error) {
	nodeID := os.Getenv("RAFT_NODE_ID")
	if nodeID == "" {
		return nil, fmt.Errorf("RAFT_NODE_ID is required")
	}

	bindAddr := getEnvAsString("RAFT_BIND_ADDR", "127.0.0.1:7000")

	return &Config{
		NodeID:            nodeID,
		BindAddr:          bindAddr,
		AdvertiseAddr:     getEnvAsString("RAFT_ADVERTISE_ADDR", bindAddr),
		DataDir:           getEnvAsString("RAFT_DATA_DIR", filepath.Join(baseDir, "raft", nodeID)),
		Bootstrap:         getEnvAsBool("RAFT_BOOTSTRAP", true),
		SnapshotInterval:  getEnvAsInt("RAFT_SNAPSHOT_INTERVAL", 20),
		SnapshotThreshold: getEnvAsInt("RAFT_SNAPSHOT_THRESHOLD", 64),
		ApplyTimeout:      time.Duration(getEnvAsInt("RAFT_APPLY_TIMEOUT_MS", 5000)) * time.Millisecond,
	}, nil
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
