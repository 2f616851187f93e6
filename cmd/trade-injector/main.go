package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/ismaiel54/trading-ledger-engine/internal/ems"
	"github.com/ismaiel54/trading-ledger-engine/internal/logging"
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/ismaiel54/trading-ledger-engine/internal/msg"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	var (
		orderID = flag.String("order-id", "", "Order to fill (required)")
		count   = flag.Int("count", 10, "Number of trades to publish")
		dupPct  = flag.Int("dup-pct", 30, "Percentage of duplicates (0-100)")
		seed    = flag.Int64("seed", 42, "Random seed for deterministic generation")
		price   = flag.String("price", "100", "Fill price")
		qty     = flag.String("qty", "0.001", "Quantity per fill")
		brokers = flag.String("brokers", "127.0.0.1:9092", "Kafka broker addresses")
		topic   = flag.String("topic", msg.TopicEmsTrades, "Topic to produce to")
	)
	flag.Parse()

	if *orderID == "" {
		fmt.Fprintln(os.Stderr, "-order-id is required")
		os.Exit(2)
	}
	fillPrice, err := decimal.NewFromString(*price)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid price: %v\n", err)
		os.Exit(2)
	}
	fillQty, err := decimal.NewFromString(*qty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid qty: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger("trade-injector", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	kafkaCfg := &msg.Config{Brokers: msg.ParseBrokers(*brokers), ClientID: "trade-injector"}
	logger.Info("starting trade injector",
		zap.String("order_id", *orderID),
		zap.Int("count", *count),
		zap.Int("dup_pct", *dupPct),
		zap.Int64("seed", *seed),
		zap.Strings("brokers", kafkaCfg.Brokers),
		zap.String("topic", *topic),
	)

	producer, err := msg.NewProducer(kafkaCfg, logger)
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}
	defer producer.Close()

	// Create deterministic RNG
	rng := rand.New(rand.NewSource(*seed))

	var trades []model.Trade
	uniqueCount := 0
	dupCount := 0
	for i := 0; i < *count; i++ {
		if uniqueCount > 0 && rng.Intn(100) < *dupPct {
			// Replay an earlier fill
			trades = append(trades, trades[rng.Intn(len(trades))])
			dupCount++
			continue
		}
		trades = append(trades, model.Trade{
			TradeID:   fmt.Sprintf("trd-%d-%d", *seed, uniqueCount),
			OrderID:   *orderID,
			Price:     fillPrice,
			Quantity:  fillQty,
			Fee:       decimal.Zero,
			TradeTime: time.Now().UnixMilli(),
		})
		uniqueCount++
	}

	ctx := context.Background()
	produced := 0
	failed := 0
	for _, trade := range trades {
		value, err := ems.EncodeTrade(trade)
		if err != nil {
			logger.Error("failed to encode trade", zap.Error(err))
			failed++
			continue
		}
		if err := producer.Produce(ctx, *topic, trade.OrderID, value); err != nil {
			logger.Error("failed to produce trade",
				zap.String("trade_id", trade.TradeID),
				zap.Error(err),
			)
			failed++
			continue
		}
		produced++
		logger.Debug("produced trade", zap.String("trade_id", trade.TradeID))
	}

	logger.Info("trade injector completed",
		zap.Int("total", *count),
		zap.Int("produced", produced),
		zap.Int("failed", failed),
		zap.Int("unique_trades", uniqueCount),
		zap.Int("duplicates", dupCount),
	)

	fmt.Printf("\n=== Trade Injector Summary ===\n")
	fmt.Printf("Total trades: %d\n", *count)
	fmt.Printf("Produced: %d\n", produced)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Unique trade IDs: %d\n", uniqueCount)
	fmt.Printf("Duplicate trades: %d\n", dupCount)
	fmt.Printf("Topic: %s\n\n", *topic)

	if failed > 0 {
		os.Exit(1)
	}
}
