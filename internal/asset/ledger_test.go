package asset

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/ismaiel54/trading-ledger-engine/internal/store"
	"github.com/ismaiel54/trading-ledger-engine/internal/symbol"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func newTestLedger(t *testing.T) *Ledger {
	logger := zaptest.NewLogger(t)
	registry := symbol.NewRegistry(logger)
	registry.Upsert(model.SymbolInfo{Symbol: "BASEQUOTE", BaseAsset: "BASE", QuoteAsset: "QUOTE"})
	return NewLedger(store.NewMemoryStore(), registry, logger)
}

func limitOrder(side model.OrderSide, price, qty string) model.Order {
	return model.Order{
		OrderID:   "ORD-1",
		UserID:    "u1",
		Symbol:    "BASEQUOTE",
		OrderType: model.OrderTypeLimit,
		Side:      side,
		Price:     dp(price),
		Quantity:  d(qty),
		FilledQty: decimal.Zero,
		Status:    model.StatusPending,
	}
}

func assertBalance(t *testing.T, l *Ledger, asset, available, frozen string) {
	t.Helper()
	b, err := l.GetBalance("u1", asset)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(d(available)), "%s available: got %s want %s", asset, b.Available, available)
	assert.True(t, b.Frozen.Equal(d(frozen)), "%s frozen: got %s want %s", asset, b.Frozen, frozen)
}

func TestGetBalance_ZeroWhenMissing(t *testing.T) {
	l := newTestLedger(t)
	b, err := l.GetBalance("nobody", "BTC")
	require.NoError(t, err)
	assert.Equal(t, "nobody", b.UserID)
	assert.Equal(t, "BTC", b.Asset)
	assert.True(t, b.Available.IsZero())
	assert.True(t, b.Frozen.IsZero())
}

func TestFreeze_LimitBuy(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("150"), "dep-1")
	require.NoError(t, err)

	require.NoError(t, l.Freeze("u1", limitOrder(model.SideBuy, "100", "1.0")))
	assertBalance(t, l, "QUOTE", "50", "100")
}

func TestFreeze_SellFreezesBase(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "BASE", d("3"), "dep-1")
	require.NoError(t, err)

	require.NoError(t, l.Freeze("u1", limitOrder(model.SideSell, "100", "2")))
	assertBalance(t, l, "BASE", "1", "2")
}

func TestFreeze_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("99"), "dep-1")
	require.NoError(t, err)

	err = l.Freeze("u1", limitOrder(model.SideBuy, "100", "1"))
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)
	assertBalance(t, l, "QUOTE", "99", "0")
}

func TestFreeze_MarketBuyUnsupported(t *testing.T) {
	l := newTestLedger(t)
	order := limitOrder(model.SideBuy, "1", "1")
	order.OrderType = model.OrderTypeMarket
	order.Price = nil

	err := l.Freeze("u1", order)
	assert.ErrorIs(t, err, model.ErrUnsupportedOperation)
}

func TestFreezeUnfreeze_ConservesTotal(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("1000"), "dep-1")
	require.NoError(t, err)

	before, err := l.GetBalance("u1", "QUOTE")
	require.NoError(t, err)

	order := limitOrder(model.SideBuy, "12.5", "4")
	require.NoError(t, l.Freeze("u1", order))
	mid, err := l.GetBalance("u1", "QUOTE")
	require.NoError(t, err)
	assert.True(t, before.Total().Equal(mid.Total()))

	require.NoError(t, l.Unfreeze(order))
	after, err := l.GetBalance("u1", "QUOTE")
	require.NoError(t, err)
	assert.True(t, before.Total().Equal(after.Total()))
	assert.True(t, after.Frozen.IsZero())
}

func TestUnfreeze_ReleasesOnlyUnfilledRemainder(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("1000"), "dep-1")
	require.NoError(t, err)

	order := limitOrder(model.SideBuy, "100", "5")
	require.NoError(t, l.Freeze("u1", order))

	trade := model.Trade{TradeID: "T1", OrderID: order.OrderID, Price: d("100"), Quantity: d("2"), Fee: decimal.Zero}
	require.NoError(t, l.SettleTrade(trade, order))
	order.FilledQty = d("2")

	require.NoError(t, l.Unfreeze(order))
	assertBalance(t, l, "QUOTE", "800", "0")
}

func TestUnfreeze_RefusesToDriveFrozenNegative(t *testing.T) {
	l := newTestLedger(t)
	err := l.Unfreeze(limitOrder(model.SideSell, "100", "1"))
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assertBalance(t, l, "BASE", "0", "0")
}

func TestSettleTrade_BuyFillJournalsThreeFlows(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("150"), "dep-1")
	require.NoError(t, err)

	order := limitOrder(model.SideBuy, "100", "1.0")
	require.NoError(t, l.Freeze("u1", order))

	trade := model.Trade{
		TradeID:  "T1",
		OrderID:  order.OrderID,
		UserID:   "u1",
		Symbol:   order.Symbol,
		Price:    d("100"),
		Quantity: d("1.0"),
		Fee:      d("0.001"),
		FeeAsset: "BASE",
	}
	require.NoError(t, l.SettleTrade(trade, order))

	assertBalance(t, l, "QUOTE", "50", "0")
	assertBalance(t, l, "BASE", "0.999", "0")

	flows, err := l.GetFlows("u1", "", 0)
	require.NoError(t, err)
	// first row is the deposit
	require.Len(t, flows, 4)
	trades := flows[1:]

	assert.Equal(t, model.FlowTradeOut, trades[0].FlowType)
	assert.Equal(t, "QUOTE", trades[0].Asset)
	assert.True(t, trades[0].Amount.Equal(d("-100")))
	assert.True(t, trades[0].Balance.Equal(d("50")))

	assert.Equal(t, model.FlowTradeIn, trades[1].FlowType)
	assert.Equal(t, "BASE", trades[1].Asset)
	assert.True(t, trades[1].Amount.Equal(d("1.0")))
	assert.True(t, trades[1].Balance.Equal(d("1.0")))

	assert.Equal(t, model.FlowFee, trades[2].FlowType)
	assert.Equal(t, "BASE", trades[2].Asset)
	assert.True(t, trades[2].Amount.Equal(d("-0.001")))
	assert.True(t, trades[2].Balance.Equal(d("0.999")))

	for _, f := range trades {
		assert.Equal(t, "T1", f.RelatedID)
	}

	baseFlows, err := l.GetFlows("u1", "BASE", 0)
	require.NoError(t, err)
	assert.Len(t, baseFlows, 2)
}

// failingStore fails the next Apply whose ops touch failPrefix
type failingStore struct {
	*store.MemoryStore
	failPrefix string
}

func (f *failingStore) Apply(b *store.Batch) error {
	for _, op := range b.Ops() {
		if f.failPrefix != "" && strings.HasPrefix(op.Key, f.failPrefix) {
			f.failPrefix = ""
			return errors.New("disk full")
		}
	}
	return f.MemoryStore.Apply(b)
}

func TestSettleTrade_FailedCommitWritesNothing(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := symbol.NewRegistry(logger)
	registry.Upsert(model.SymbolInfo{Symbol: "BASEQUOTE", BaseAsset: "BASE", QuoteAsset: "QUOTE"})
	s := &failingStore{MemoryStore: store.NewMemoryStore()}
	l := NewLedger(s, registry, logger)

	_, err := l.Deposit("u1", "QUOTE", d("150"), "dep-1")
	require.NoError(t, err)
	order := limitOrder(model.SideBuy, "100", "1")
	require.NoError(t, l.Freeze("u1", order))

	trade := model.Trade{TradeID: "T1", OrderID: order.OrderID, Price: d("100"), Quantity: d("1"), Fee: d("0.001")}
	s.failPrefix = flowPrefix + "u1:BASE"
	require.Error(t, l.SettleTrade(trade, order))

	assertBalance(t, l, "QUOTE", "50", "100")
	assertBalance(t, l, "BASE", "0", "0")
	flows, err := l.GetFlows("u1", "", 0)
	require.NoError(t, err)
	assert.Len(t, flows, 1, "only the deposit is journaled")

	require.NoError(t, l.SettleTrade(trade, order))
	assertBalance(t, l, "QUOTE", "50", "0")
	assertBalance(t, l, "BASE", "0.999", "0")
}

func TestSettleTrade_SellChargesFeeInQuote(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "BASE", d("2"), "dep-1")
	require.NoError(t, err)

	order := limitOrder(model.SideSell, "100", "2")
	require.NoError(t, l.Freeze("u1", order))

	trade := model.Trade{TradeID: "T1", Price: d("101"), Quantity: d("2"), Fee: d("0.202")}
	require.NoError(t, l.SettleTrade(trade, order))

	assertBalance(t, l, "BASE", "0", "0")
	assertBalance(t, l, "QUOTE", "201.798", "0")

	flows, err := l.GetFlows("u1", "", 3)
	require.NoError(t, err)
	require.Len(t, flows, 3)
	assert.Equal(t, model.FlowTradeOut, flows[0].FlowType)
	assert.True(t, flows[0].Amount.Equal(d("-2")))
	assert.Equal(t, model.FlowTradeIn, flows[1].FlowType)
	assert.True(t, flows[1].Amount.Equal(d("202")))
	assert.Equal(t, model.FlowFee, flows[2].FlowType)
	assert.Equal(t, "QUOTE", flows[2].Asset)
}

func TestSettleTrade_BuyBelowLimitReleasesDifference(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("100"), "dep-1")
	require.NoError(t, err)

	order := limitOrder(model.SideBuy, "100", "1")
	require.NoError(t, l.Freeze("u1", order))

	trade := model.Trade{TradeID: "T1", Price: d("95"), Quantity: d("1"), Fee: decimal.Zero}
	require.NoError(t, l.SettleTrade(trade, order))

	assertBalance(t, l, "QUOTE", "5", "0")
	assertBalance(t, l, "BASE", "1", "0")
}

func TestSettleTrade_RejectsBuyAboveLimit(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("200"), "dep-1")
	require.NoError(t, err)

	order := limitOrder(model.SideBuy, "100", "1")
	require.NoError(t, l.Freeze("u1", order))

	trade := model.Trade{TradeID: "T1", Price: d("101"), Quantity: d("1"), Fee: decimal.Zero}
	err = l.SettleTrade(trade, order)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assertBalance(t, l, "QUOTE", "100", "100")
}

func TestSettleTrade_RejectsFeeAboveCredit(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("100"), "dep-1")
	require.NoError(t, err)

	order := limitOrder(model.SideBuy, "100", "1")
	require.NoError(t, l.Freeze("u1", order))

	trade := model.Trade{TradeID: "T1", Price: d("100"), Quantity: d("1"), Fee: d("2")}
	assert.ErrorIs(t, l.SettleTrade(trade, order), model.ErrValidation)
	assertBalance(t, l, "QUOTE", "0", "100")
}

func TestGetAllBalances_SkipsEmptyAssets(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("10"), "dep-1")
	require.NoError(t, err)
	_, err = l.Deposit("u1", "BASE", d("1"), "dep-2")
	require.NoError(t, err)
	_, err = l.Withdraw("u1", "BASE", d("1"), "wd-1")
	require.NoError(t, err)
	_, err = l.Deposit("u10", "QUOTE", d("5"), "dep-3")
	require.NoError(t, err)

	balances, err := l.GetAllBalances("u1")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "QUOTE", balances[0].Asset)
}

func TestWithdraw_Insufficient(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Withdraw("u1", "QUOTE", d("1"), "wd-1")
	assert.ErrorIs(t, err, model.ErrInsufficientBalance)

	_, err = l.Deposit("u1", "QUOTE", d("-1"), "dep-1")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestGetFlows_Limit(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 5; i++ {
		_, err := l.Deposit("u1", "QUOTE", d("1"), "dep")
		require.NoError(t, err)
	}
	flows, err := l.GetFlows("u1", "QUOTE", 2)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.True(t, flows[1].Balance.Equal(d("5")))
}

func TestFreeze_ConcurrentNoLostUpdates(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Deposit("u1", "QUOTE", d("1000"), "dep-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 15)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Freeze("u1", limitOrder(model.SideBuy, "100", "1"))
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, model.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 10, succeeded)
	assertBalance(t, l, "QUOTE", "0", "1000")
}
