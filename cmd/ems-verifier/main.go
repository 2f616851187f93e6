package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ismaiel54/trading-ledger-engine/internal/ems"
	"github.com/ismaiel54/trading-ledger-engine/internal/logging"
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/ismaiel54/trading-ledger-engine/internal/msg"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <duration_seconds> [brokers]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 30 127.0.0.1:9092\n", os.Args[0])
		os.Exit(1)
	}

	var durationSeconds int
	if _, err := fmt.Sscanf(os.Args[1], "%d", &durationSeconds); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid duration: %v\n", err)
		os.Exit(1)
	}

	brokers := "127.0.0.1:9092"
	if len(os.Args) >= 3 {
		brokers = os.Args[2]
	}

	logger, err := logging.NewLogger("ems-verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	kafkaCfg := &msg.Config{Brokers: msg.ParseBrokers(brokers), ClientID: "ems-verifier"}
	logger.Info("starting ems verifier",
		zap.Int("duration_seconds", durationSeconds),
		zap.Strings("brokers", kafkaCfg.Brokers),
	)

	group := fmt.Sprintf("ems-verifier-%d", time.Now().UnixNano())
	consumer, err := msg.NewConsumer(kafkaCfg, group, []string{msg.TopicEmsOrders}, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	// tradeId -> TRADE_FILLED count
	fills := make(map[string]int)
	eventCounts := make(map[ems.EventType]int)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSeconds)*time.Second)
	defer cancel()

	err = consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		var event ems.Message
		if err := json.Unmarshal(rec.Value, &event); err != nil {
			logger.Warn("failed to unmarshal event", zap.Error(err))
			return nil
		}
		eventCounts[event.EventType]++
		if event.EventType != ems.EventTradeFilled {
			return nil
		}

		var trade model.Trade
		if err := json.Unmarshal([]byte(event.Data), &trade); err != nil {
			logger.Warn("failed to unmarshal trade", zap.String("order_id", event.OrderID), zap.Error(err))
			return nil
		}
		fills[trade.OrderID+"/"+trade.TradeID]++

		logger.Debug("consumed fill",
			zap.String("order_id", trade.OrderID),
			zap.String("trade_id", trade.TradeID),
			zap.Int64("offset", rec.Offset),
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("consumer error", zap.Error(err))
	}

	duplicates := make(map[string]int)
	for key, count := range fills {
		if count > 1 {
			duplicates[key] = count
		}
	}

	fmt.Println("\n=== Verification Results ===")
	for eventType, count := range eventCounts {
		fmt.Printf("%s events: %d\n", eventType, count)
	}
	fmt.Printf("Unique fills: %d\n", len(fills))
	fmt.Printf("Duplicated fills: %d\n", len(duplicates))

	if len(duplicates) > 0 {
		fmt.Println("\nDuplicates found:")
		for key, count := range duplicates {
			fmt.Printf("  %s reported %d times\n", key, count)
		}
		fmt.Println("\n❌ VERIFICATION FAILED: a trade was applied more than once!")
		os.Exit(1)
	}

	fmt.Println("\n✅ VERIFICATION PASSED: every trade applied once!")
}
