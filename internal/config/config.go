package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store and trade registry backends
const (
	StoreBackendPebble = "pebble"
	StoreBackendMemory = "memory"

	DedupBackendSQLite = "sqlite"
	DedupBackendRaft   = "raft"
)

// Config holds configuration for the ledger engine and its tools
type Config struct {
	// Service name
	ServiceName string

	// Log level: debug, info, warn, error
	LogLevel string

	// HTTP API port
	HTTPPort int

	// HTTP /healthz port
	HealthPort int

	// gRPC health port
	GRPCPort int

	// Root directory for pebble, sqlite and raft data
	DataDir string

	StoreBackend string
	DedupBackend string

	// Matching gateway peer we dial
	GatewayAddr string

	// Address our inbound gateway server listens on; empty disables it
	GatewayListenAddr string

	GatewayReconnectInterval time.Duration
	GatewayConnectTimeout    time.Duration

	// Kafka brokers (comma-separated)
	KafkaBrokers string

	EmsOrdersTopic   string
	EmsTradesTopic   string
	EmsConsumerGroup string
	EmsQueueSize     int

	// Optional JSON array of symbol metadata
	SymbolsFile string
}

// LoadConfig loads configuration from a .env file, if present, and
// environment variables. Variables already set win over the file.
func LoadConfig(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:              serviceName,
		LogLevel:                 getEnvAsString("LOG_LEVEL", "info"),
		HTTPPort:                 getEnvAsInt("PORT_HTTP", 8080),
		HealthPort:               getEnvAsInt("PORT_HEALTH", 8081),
		GRPCPort:                 getEnvAsInt("PORT_GRPC", 50051),
		DataDir:                  getEnvAsString("DATA_DIR", "./data"),
		StoreBackend:             getEnvAsString("STORE_BACKEND", StoreBackendPebble),
		DedupBackend:             getEnvAsString("DEDUP_BACKEND", DedupBackendSQLite),
		GatewayAddr:              getEnvAsString("GATEWAY_ADDR", "127.0.0.1:9000"),
		GatewayListenAddr:        getEnvAsString("GATEWAY_LISTEN_ADDR", ""),
		GatewayReconnectInterval: getEnvAsDuration("GATEWAY_RECONNECT_INTERVAL_MS", 5*time.Second),
		GatewayConnectTimeout:    getEnvAsDuration("GATEWAY_CONNECT_TIMEOUT_MS", 3*time.Second),
		KafkaBrokers:             getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
		EmsOrdersTopic:           getEnvAsString("EMS_ORDERS_TOPIC", "ems.orders"),
		EmsTradesTopic:           getEnvAsString("EMS_TRADES_TOPIC", "ems.trades"),
		EmsConsumerGroup:         getEnvAsString("EMS_CONSUMER_GROUP", serviceName),
		EmsQueueSize:             getEnvAsInt("EMS_QUEUE_SIZE", 1024),
		SymbolsFile:              getEnvAsString("SYMBOLS_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendPebble, StoreBackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.DedupBackend {
	case DedupBackendSQLite, DedupBackendRaft:
	default:
		return fmt.Errorf("unknown DEDUP_BACKEND %q", c.DedupBackend)
	}
	if c.EmsQueueSize <= 0 {
		return fmt.Errorf("EMS_QUEUE_SIZE must be positive")
	}
	return nil
}

// HTTPAddr returns the API server address
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// HealthAddr returns the HTTP health server address
func (c *Config) HealthAddr() string {
	return fmt.Sprintf(":%d", c.HealthPort)
}

// GRPCAddr returns the gRPC health server address
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
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

// getEnvAsDuration reads a millisecond count
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
