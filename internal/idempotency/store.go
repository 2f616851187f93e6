package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store records which trades were applied to which order, so a redelivered
// fill is recognized across restarts.
type Store struct {
	db *sql.DB
}

// ProcessedTrade is one claimed (orderId, tradeId) pair
type ProcessedTrade struct {
	OrderID             string
	TradeID             string
	FirstSeenUnixMillis int64
}

// Open creates or opens the trade registry at path
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; claims are serialized by the connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS processed_trades (
			order_id TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			first_seen_unix_millis INTEGER NOT NULL,
			PRIMARY KEY (order_id, trade_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_trades_seen
			ON processed_trades(first_seen_unix_millis)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Claim records (orderID, tradeID) and reports whether this call was the
// first to do so. The insert is a single statement, so concurrent claims
// from separate handles on the same file still yield one winner.
func (s *Store) Claim(ctx context.Context, orderID, tradeID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_trades (order_id, trade_id, first_seen_unix_millis)
		 VALUES (?, ?, ?)
		 ON CONFLICT (order_id, trade_id) DO NOTHING`,
		orderID, tradeID, time.Now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert processed trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n == 1, nil
}

// Release forgets a claim whose trade could not be applied
func (s *Store) Release(ctx context.Context, orderID, tradeID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_trades WHERE order_id = ? AND trade_id = ?",
		orderID, tradeID,
	)
	if err != nil {
		return fmt.Errorf("failed to release processed trade: %w", err)
	}
	return nil
}

// listByOrder returns the claimed trades of orderID, oldest first
func (s *Store) listByOrder(ctx context.Context, orderID string) ([]ProcessedTrade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, trade_id, first_seen_unix_millis
		 FROM processed_trades
		 WHERE order_id = ?
		 ORDER BY first_seen_unix_millis ASC, trade_id ASC`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed trades: %w", err)
	}
	defer rows.Close()

	var trades []ProcessedTrade
	for rows.Next() {
		var p ProcessedTrade
		if err := rows.Scan(&p.OrderID, &p.TradeID, &p.FirstSeenUnixMillis); err != nil {
			return nil, fmt.Errorf("failed to scan processed trade: %w", err)
		}
		trades = append(trades, p)
	}

	return trades, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
