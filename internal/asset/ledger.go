package asset

import (
	"fmt"
	"strings"

	"github.com/ismaiel54/trading-ledger-engine/internal/keylock"
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/ismaiel54/trading-ledger-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Key layout
const (
	balancePrefix = "balance:"
	flowPrefix    = "flow:user:"
)

// AssetResolver splits a symbol into base and quote assets
type AssetResolver interface {
	Assets(symbol string) (base, quote string, err error)
}

// Ledger owns balance mutation and the flow journal.
// Every mutation holds the per-(userId, asset) lock across read-compute-write.
type Ledger struct {
	store  store.Store
	assets AssetResolver
	locks  *keylock.Locker
	logger *zap.Logger
	now    func() int64
}

// NewLedger creates an asset ledger over s
func NewLedger(s store.Store, assets AssetResolver, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  s,
		assets: assets,
		locks:  keylock.New(),
		logger: logger,
		now:    model.NowMillis,
	}
}

func balanceKey(userID, asset string) string {
	return balancePrefix + userID + ":" + asset
}

func lockKey(userID, asset string) string {
	return userID + ":" + asset
}

// GetBalance returns the balance, zeroed if it was never written
func (l *Ledger) GetBalance(userID, asset string) (model.Balance, error) {
	var b model.Balance
	found, err := store.GetJSON(l.store, balanceKey(userID, asset), &b)
	if err != nil {
		return model.Balance{}, fmt.Errorf("failed to load balance: %w", err)
	}
	if !found {
		return model.Balance{
			UserID:     userID,
			Asset:      asset,
			Available:  decimal.Zero,
			Frozen:     decimal.Zero,
			UpdateTime: l.now(),
		}, nil
	}
	return b, nil
}

// GetAllBalances returns every asset of userID with a positive total
func (l *Ledger) GetAllBalances(userID string) ([]model.Balance, error) {
	prefix := balancePrefix + userID + ":"
	keys, err := l.store.Keys(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list balance keys: %w", err)
	}

	balances := make([]model.Balance, 0, len(keys))
	for _, key := range keys {
		asset := strings.TrimPrefix(key, prefix)
		b, err := l.GetBalance(userID, asset)
		if err != nil {
			return nil, err
		}
		if b.Total().IsPositive() {
			balances = append(balances, b)
		}
	}
	return balances, nil
}

// FrozenAsset returns the asset and amount a freeze of qty on order would hold
func (l *Ledger) FrozenAsset(order model.Order, qty decimal.Decimal) (string, decimal.Decimal, error) {
	base, quote, err := l.assets.Assets(order.Symbol)
	if err != nil {
		return "", decimal.Zero, err
	}

	switch order.Side {
	case model.SideBuy:
		if order.Price == nil {
			return "", decimal.Zero, fmt.Errorf("%w: market buy freeze is not supported", model.ErrUnsupportedOperation)
		}
		return quote, order.Price.Mul(qty), nil
	case model.SideSell:
		return base, qty, nil
	default:
		return "", decimal.Zero, fmt.Errorf("%w: unknown side %q", model.ErrValidation, order.Side)
	}
}

// Freeze moves the order's notional from available to frozen
func (l *Ledger) Freeze(userID string, order model.Order) error {
	asset, amount, err := l.FrozenAsset(order, order.Quantity)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(lockKey(userID, asset))
	defer unlock()

	b, err := l.GetBalance(userID, asset)
	if err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return fmt.Errorf("%w: %s available %s, need %s", model.ErrInsufficientBalance, asset, b.Available, amount)
	}

	b.Available = b.Available.Sub(amount)
	b.Frozen = b.Frozen.Add(amount)
	b.UpdateTime = l.now()
	if err := l.saveBalance(b); err != nil {
		return err
	}

	l.logger.Info("asset frozen",
		zap.String("user_id", userID),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("order_id", order.OrderID),
	)
	return nil
}

// Unfreeze releases the unfilled remainder of order back to available.
// The caller must invoke it at most once per order.
func (l *Ledger) Unfreeze(order model.Order) error {
	return l.UnfreezeBatch(order, store.NewBatch())
}

// UnfreezeBatch commits the writes staged in b together with the release
// of order's unfilled remainder, or writes nothing.
func (l *Ledger) UnfreezeBatch(order model.Order, b *store.Batch) error {
	remaining := order.RemainingQty()
	if !remaining.IsPositive() {
		if b.Len() == 0 {
			return nil
		}
		return l.store.Apply(b)
	}

	asset, amount, err := l.FrozenAsset(order, remaining)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(lockKey(order.UserID, asset))
	defer unlock()

	bal, err := l.GetBalance(order.UserID, asset)
	if err != nil {
		return err
	}
	if bal.Frozen.LessThan(amount) {
		return fmt.Errorf("%w: %s frozen %s, cannot release %s", model.ErrInvalidState, asset, bal.Frozen, amount)
	}

	bal.Frozen = bal.Frozen.Sub(amount)
	bal.Available = bal.Available.Add(amount)
	bal.UpdateTime = l.now()
	if err := stageBalance(b, bal); err != nil {
		return err
	}
	if err := l.store.Apply(b); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}

	l.logger.Info("asset unfrozen",
		zap.String("user_id", order.UserID),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("order_id", order.OrderID),
	)
	return nil
}

// SettleTrade applies the balance effect of one fill and journals
// TRADE_OUT, TRADE_IN and FEE in that order.
func (l *Ledger) SettleTrade(trade model.Trade, order model.Order) error {
	return l.SettleTradeBatch(trade, order, store.NewBatch())
}

// SettleTradeBatch stages the fill's balances and flows after the writes
// already in b and commits all of them in one Apply while the balance
// locks are held. Nothing is written when it returns an error.
func (l *Ledger) SettleTradeBatch(trade model.Trade, order model.Order, b *store.Batch) error {
	base, quote, err := l.assets.Assets(order.Symbol)
	if err != nil {
		return err
	}
	if base == quote {
		return fmt.Errorf("%w: symbol %s has identical base and quote", model.ErrValidation, order.Symbol)
	}
	if !trade.Quantity.IsPositive() || !trade.Price.IsPositive() || trade.Fee.IsNegative() {
		return fmt.Errorf("%w: trade %s has invalid price, quantity or fee", model.ErrValidation, trade.TradeID)
	}

	userID := order.UserID
	unlock := l.locks.Lock(lockKey(userID, base), lockKey(userID, quote))
	defer unlock()

	baseBal, err := l.GetBalance(userID, base)
	if err != nil {
		return err
	}
	quoteBal, err := l.GetBalance(userID, quote)
	if err != nil {
		return err
	}

	now := l.now()
	notional := trade.Price.Mul(trade.Quantity)

	var (
		outAsset, inAsset string
		outAmount         decimal.Decimal
		inAmount          decimal.Decimal
		outBal, inBal     *model.Balance
		verb              string
	)

	switch order.Side {
	case model.SideBuy:
		// the limit notional was frozen; fills below the limit release the difference
		reserved := notional
		if order.Price != nil {
			reserved = order.Price.Mul(trade.Quantity)
		}
		if reserved.LessThan(notional) {
			return fmt.Errorf("%w: buy fill price %s above limit %s", model.ErrInvalidState, trade.Price, order.Price)
		}
		if quoteBal.Frozen.LessThan(reserved) {
			return fmt.Errorf("%w: %s frozen %s, fill needs %s", model.ErrInvalidState, quote, quoteBal.Frozen, reserved)
		}
		quoteBal.Frozen = quoteBal.Frozen.Sub(reserved)
		quoteBal.Available = quoteBal.Available.Add(reserved.Sub(notional))

		outAsset, outAmount, outBal = quote, notional, &quoteBal
		inAsset, inAmount, inBal = base, trade.Quantity, &baseBal
		verb = "Buy "
	case model.SideSell:
		if baseBal.Frozen.LessThan(trade.Quantity) {
			return fmt.Errorf("%w: %s frozen %s, fill needs %s", model.ErrInvalidState, base, baseBal.Frozen, trade.Quantity)
		}
		baseBal.Frozen = baseBal.Frozen.Sub(trade.Quantity)

		outAsset, outAmount, outBal = base, trade.Quantity, &baseBal
		inAsset, inAmount, inBal = quote, notional, &quoteBal
		verb = "Sell "
	default:
		return fmt.Errorf("%w: unknown side %q", model.ErrValidation, order.Side)
	}

	if trade.Fee.GreaterThan(inAmount) {
		return fmt.Errorf("%w: fee %s exceeds credited %s", model.ErrValidation, trade.Fee, inAmount)
	}

	outFlow := l.newFlow(userID, outAsset, model.FlowTradeOut, outAmount.Neg(), outBal.Available, trade.TradeID, verb+order.Symbol, now)

	inBal.Available = inBal.Available.Add(inAmount)
	inFlow := l.newFlow(userID, inAsset, model.FlowTradeIn, inAmount, inBal.Available, trade.TradeID, verb+order.Symbol, now)

	inBal.Available = inBal.Available.Sub(trade.Fee)
	feeFlow := l.newFlow(userID, inAsset, model.FlowFee, trade.Fee.Neg(), inBal.Available, trade.TradeID, "Trade fee", now)

	baseBal.UpdateTime = now
	quoteBal.UpdateTime = now
	if err := stageBalance(b, baseBal); err != nil {
		return err
	}
	if err := stageBalance(b, quoteBal); err != nil {
		return err
	}
	for _, f := range []model.AssetFlow{outFlow, inFlow, feeFlow} {
		if err := stageFlow(b, f); err != nil {
			return err
		}
	}
	if err := l.store.Apply(b); err != nil {
		return fmt.Errorf("failed to commit trade %s: %w", trade.TradeID, err)
	}
	l.logFlows(outFlow, inFlow, feeFlow)

	l.logger.Info("asset updated on trade",
		zap.String("user_id", userID),
		zap.String("trade_id", trade.TradeID),
		zap.String("order_id", order.OrderID),
	)
	return nil
}

// Deposit credits available and journals a DEPOSIT flow
func (l *Ledger) Deposit(userID, asset string, amount decimal.Decimal, relatedID string) (model.Balance, error) {
	return l.adjust(userID, asset, amount, model.FlowDeposit, relatedID, "Deposit")
}

// Withdraw debits available and journals a WITHDRAW flow
func (l *Ledger) Withdraw(userID, asset string, amount decimal.Decimal, relatedID string) (model.Balance, error) {
	return l.adjust(userID, asset, amount, model.FlowWithdraw, relatedID, "Withdraw")
}

func (l *Ledger) adjust(userID, asset string, amount decimal.Decimal, flowType model.FlowType, relatedID, desc string) (model.Balance, error) {
	if userID == "" || asset == "" {
		return model.Balance{}, fmt.Errorf("%w: user and asset are required", model.ErrValidation)
	}
	if !amount.IsPositive() {
		return model.Balance{}, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}

	unlock := l.locks.Lock(lockKey(userID, asset))
	defer unlock()

	b, err := l.GetBalance(userID, asset)
	if err != nil {
		return model.Balance{}, err
	}

	signed := amount
	if flowType == model.FlowWithdraw {
		if b.Available.LessThan(amount) {
			return model.Balance{}, fmt.Errorf("%w: %s available %s, need %s", model.ErrInsufficientBalance, asset, b.Available, amount)
		}
		signed = amount.Neg()
	}

	now := l.now()
	b.Available = b.Available.Add(signed)
	b.UpdateTime = now
	flow := l.newFlow(userID, asset, flowType, signed, b.Available, relatedID, desc, now)

	batch := store.NewBatch()
	if err := stageBalance(batch, b); err != nil {
		return model.Balance{}, err
	}
	if err := stageFlow(batch, flow); err != nil {
		return model.Balance{}, err
	}
	if err := l.store.Apply(batch); err != nil {
		return model.Balance{}, fmt.Errorf("failed to commit %s: %w", flowType, err)
	}
	l.logFlows(flow)
	return b, nil
}

// GetFlows returns the newest limit flows of userID, optionally for one asset.
// limit <= 0 returns everything.
func (l *Ledger) GetFlows(userID, asset string, limit int) ([]model.AssetFlow, error) {
	key := flowPrefix + userID
	if asset != "" {
		key += ":" + asset
	}
	flows, err := store.ListJSON[model.AssetFlow](l.store, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load flows: %w", err)
	}
	if limit > 0 && len(flows) > limit {
		flows = flows[len(flows)-limit:]
	}
	return flows, nil
}

func (l *Ledger) saveBalance(b model.Balance) error {
	if err := store.PutJSON(l.store, balanceKey(b.UserID, b.Asset), b); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (l *Ledger) newFlow(userID, asset string, flowType model.FlowType, amount, balance decimal.Decimal, relatedID, desc string, now int64) model.AssetFlow {
	return model.AssetFlow{
		FlowID:      model.NewFlowID(),
		UserID:      userID,
		Asset:       asset,
		FlowType:    flowType,
		Amount:      amount,
		Balance:     balance,
		RelatedID:   relatedID,
		Description: desc,
		CreateTime:  now,
	}
}

// stageFlow journals f under the user list and the per-asset list
func stageFlow(b *store.Batch, f model.AssetFlow) error {
	if err := b.AppendJSON(flowPrefix+f.UserID, f); err != nil {
		return err
	}
	return b.AppendJSON(flowPrefix+f.UserID+":"+f.Asset, f)
}

func stageBalance(b *store.Batch, bal model.Balance) error {
	return b.PutJSON(balanceKey(bal.UserID, bal.Asset), bal)
}

func (l *Ledger) logFlows(flows ...model.AssetFlow) {
	for _, f := range flows {
		l.logger.Debug("flow recorded",
			zap.String("user_id", f.UserID),
			zap.String("asset", f.Asset),
			zap.String("type", string(f.FlowType)),
			zap.String("amount", f.Amount.String()),
		)
	}
}
