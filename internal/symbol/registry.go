package symbol

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Registry is the in-process symbol collaborator
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]model.SymbolInfo
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		symbols: make(map[string]model.SymbolInfo),
		logger:  logger,
	}
}

// Upsert inserts or replaces symbol metadata
func (r *Registry) Upsert(infos ...model.SymbolInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := model.NowMillis()
	for _, info := range infos {
		if info.UpdateTime == 0 {
			info.UpdateTime = now
		}
		r.symbols[info.Symbol] = info
	}
}

// GetSymbolInfo looks up a symbol
func (r *Registry) GetSymbolInfo(symbol string) (model.SymbolInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.symbols[symbol]
	return info, ok
}

// List returns every symbol sorted by name
func (r *Registry) List() []model.SymbolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.SymbolInfo, 0, len(r.symbols))
	for _, info := range r.symbols {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Assets returns the base and quote asset of symbol. Registered metadata
// wins; unknown symbols fall back to SplitSymbol.
func (r *Registry) Assets(symbol string) (base, quote string, err error) {
	if info, ok := r.GetSymbolInfo(symbol); ok && info.BaseAsset != "" && info.QuoteAsset != "" {
		return info.BaseAsset, info.QuoteAsset, nil
	}

	base, quote, ok := SplitSymbol(symbol)
	if !ok {
		return "", "", fmt.Errorf("%w: cannot derive assets of symbol %q", model.ErrValidation, symbol)
	}
	r.logger.Debug("derived assets from ticker",
		zap.String("symbol", symbol),
		zap.String("base", base),
		zap.String("quote", quote),
	)
	return base, quote, nil
}

// LoadFile reads a JSON array of SymbolInfo
func LoadFile(path string) ([]model.SymbolInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file: %w", err)
	}
	var infos []model.SymbolInfo
	if err := json.Unmarshal(data, &infos); err != nil {
		return nil, fmt.Errorf("failed to parse symbols file: %w", err)
	}
	for i, info := range infos {
		if info.Symbol == "" {
			return nil, fmt.Errorf("symbols file entry %d has no symbol", i)
		}
	}
	return infos, nil
}

// DefaultSymbols seeds a registry when no symbols file is configured
func DefaultSymbols() []model.SymbolInfo {
	fee := decimal.RequireFromString("0.001")
	return []model.SymbolInfo{
		{
			Symbol:         "BTCUSDT",
			BaseAsset:      "BTC",
			QuoteAsset:     "USDT",
			MinOrderAmount: decimal.NewFromInt(10),
			MinOrderQty:    decimal.RequireFromString("0.00001"),
			TickSize:       decimal.RequireFromString("0.01"),
			StepSize:       decimal.RequireFromString("0.00001"),
			MakerFee:       fee,
			TakerFee:       fee,
			Exchange:       "BINANCE",
		},
		{
			Symbol:         "ETHUSDT",
			BaseAsset:      "ETH",
			QuoteAsset:     "USDT",
			MinOrderAmount: decimal.NewFromInt(10),
			MinOrderQty:    decimal.RequireFromString("0.0001"),
			TickSize:       decimal.RequireFromString("0.01"),
			StepSize:       decimal.RequireFromString("0.0001"),
			MakerFee:       fee,
			TakerFee:       fee,
			Exchange:       "BINANCE",
		},
	}
}

// knownQuotes is checked longest first so USDT wins over USD
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "USD", "EUR", "TRY", "BTC", "ETH", "BNB"}

// SplitSymbol derives base/quote from a concatenated ticker such as
// BTCUSDT, BTC-USDT or BTC/USDT. It only recognises a fixed set of quote
// assets for concatenated tickers.
func SplitSymbol(symbol string) (base, quote string, ok bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"-", "/", "_"} {
		if parts := strings.Split(s, sep); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], true
		}
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q, true
		}
	}
	return "", "", false
}
