package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ismaiel54/trading-ledger-engine/internal/api"
	"github.com/ismaiel54/trading-ledger-engine/internal/asset"
	"github.com/ismaiel54/trading-ledger-engine/internal/chaos"
	"github.com/ismaiel54/trading-ledger-engine/internal/config"
	"github.com/ismaiel54/trading-ledger-engine/internal/ems"
	"github.com/ismaiel54/trading-ledger-engine/internal/gateway"
	"github.com/ismaiel54/trading-ledger-engine/internal/idempotency"
	"github.com/ismaiel54/trading-ledger-engine/internal/logging"
	"github.com/ismaiel54/trading-ledger-engine/internal/msg"
	"github.com/ismaiel54/trading-ledger-engine/internal/observability"
	"github.com/ismaiel54/trading-ledger-engine/internal/order"
	"github.com/ismaiel54/trading-ledger-engine/internal/raft"
	"github.com/ismaiel54/trading-ledger-engine/internal/store"
	"github.com/ismaiel54/trading-ledger-engine/internal/symbol"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("ledger-engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ledger-engine service",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("health_port", cfg.HealthPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("data_dir", cfg.DataDir),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("dedup_backend", cfg.DedupBackend),
		zap.String("gateway_addr", cfg.GatewayAddr),
		zap.String("kafka_brokers", cfg.KafkaBrokers),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger storage
	ledgerStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer ledgerStore.Close()

	// Instrument metadata
	symbols := symbol.NewRegistry(logger)
	if cfg.SymbolsFile != "" {
		infos, err := symbol.LoadFile(cfg.SymbolsFile)
		if err != nil {
			logger.Fatal("failed to load symbols", zap.Error(err))
		}
		symbols.Upsert(infos...)
	} else {
		symbols.Upsert(symbol.DefaultSymbols()...)
	}

	// Trade idempotency registry
	trades, closeTrades, err := openTradeRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open trade registry", zap.Error(err))
	}
	defer closeTrades()

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.SetGatewayReady(false)

	// Back-office channels
	kafkaCfg := &msg.Config{
		Brokers:  msg.ParseBrokers(cfg.KafkaBrokers),
		ClientID: cfg.ServiceName,
	}
	producer, err := msg.NewProducer(kafkaCfg, logger)
	if err != nil {
		logger.Fatal("failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// EMS delivery is best-effort, so an unreachable broker only warns
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := producer.Ping(pingCtx); err != nil {
		logger.Warn("kafka brokers not reachable at startup", zap.Strings("brokers", kafkaCfg.Brokers), zap.Error(err))
	}
	pingCancel()

	consumer, err := msg.NewConsumer(kafkaCfg, cfg.EmsConsumerGroup, []string{cfg.EmsTradesTopic}, logger)
	if err != nil {
		logger.Fatal("failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	notifier := ems.NewNotifier(producer, cfg.EmsOrdersTopic, cfg.EmsQueueSize, logger)

	// Gateway client; inbound messages are routed to the order ledger
	var router *gateway.Router
	client := gateway.NewClient(gateway.ClientConfig{
		Addr:              cfg.GatewayAddr,
		ReconnectInterval: cfg.GatewayReconnectInterval,
		ConnectTimeout:    cfg.GatewayConnectTimeout,
	}, func(ctx context.Context, m gateway.Message) {
		router.Dispatch(ctx, m)
	}, logger)
	client.OnStateChange(func(s gateway.State) {
		healthChecker.SetGatewayReady(s == gateway.StateConnected)
	})
	if chaosCfg := chaos.LoadConfig(); chaosCfg.Enabled {
		logger.Warn("chaos enabled on gateway transport",
			zap.String("target", chaosCfg.Target),
			zap.Int("drop_pct", chaosCfg.DropPct),
		)
		client.SetFaultInjector(chaos.New(chaosCfg, logger))
	}

	assets := asset.NewLedger(ledgerStore, symbols, logger)
	orders := order.NewLedger(ledgerStore, assets, symbols, client, notifier, trades, logger)
	router = gateway.NewRouter(orders, logger)
	ingest := ems.NewIngest(orders, logger)

	errCh := make(chan error, 8)
	runWorker := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	runWorker("gateway client", client.Run)
	runWorker("ems notifier", notifier.Run)
	runWorker("ems ingest", func(ctx context.Context) error {
		return consumer.Run(ctx, ingest.HandleRecord)
	})

	// Inbound gateway server for upstream order entry
	if cfg.GatewayListenAddr != "" {
		gatewayServer := gateway.NewServer(orders, logger)
		runWorker("gateway server", func(ctx context.Context) error {
			return gatewayServer.ListenAndServe(ctx, cfg.GatewayListenAddr)
		})
	}

	// REST API
	apiServer := api.NewServer(orders, assets, symbols, logger)
	go func() {
		if err := apiServer.Start(cfg.HTTPAddr()); err != nil {
			errCh <- err
		}
	}()

	// gRPC health
	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// HTTP health
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HealthAddr()); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("component failed", zap.Error(err))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down API server", zap.Error(err))
	}
	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	grpcServer.GracefulStop()

	sent, received, dropped := client.Stats()
	applied, discarded := ingest.Stats()
	logger.Info("ledger-engine service stopped",
		zap.Int64("gateway_sent", sent),
		zap.Int64("gateway_received", received),
		zap.Int64("gateway_dropped", dropped),
		zap.Int64("ems_applied", applied),
		zap.Int64("ems_discarded", discarded),
	)
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		return store.NewMemoryStore(), nil
	}
	return store.OpenPebble(filepath.Join(cfg.DataDir, "ledger"))
}

// openTradeRegistry opens the sqlite registry or joins the raft group
func openTradeRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (order.TradeRegistry, func(), error) {
	if cfg.DedupBackend == config.DedupBackendSQLite {
		path := filepath.Join(cfg.DataDir, "trades.db")
		s, err := idempotency.Open(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("trade registry opened", zap.String("path", path))
		return s, func() { s.Close() }, nil
	}

	raftCfg, err := raft.LoadConfig(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	node, err := raft.Start(ctx, raftCfg, logger)
	if err != nil {
		return nil, nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := node.WaitForLeader(waitCtx); err != nil {
		node.Shutdown()
		return nil, nil, err
	}
	logger.Info("raft trade registry ready",
		zap.String("node_id", raftCfg.NodeID),
		zap.String("leader", node.Leader()),
	)
	return raft.NewRegistry(node, raftCfg.ApplyTimeout), func() { node.Shutdown() }, nil
}
