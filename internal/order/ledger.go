package order

import (
	"context"
	"fmt"

	"github.com/ismaiel54/trading-ledger-engine/internal/ems"
	"github.com/ismaiel54/trading-ledger-engine/internal/event"
	"github.com/ismaiel54/trading-ledger-engine/internal/gateway"
	"github.com/ismaiel54/trading-ledger-engine/internal/keylock"
	"github.com/ismaiel54/trading-ledger-engine/internal/model"
	"github.com/ismaiel54/trading-ledger-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Key layout
const (
	orderKeyPrefix    = "order:map:"
	userOrdersPrefix  = "order:user:"
	orderTradesPrefix = "trade:order:"
	userTradesPrefix  = "trade:user:"
	avgPricePrecision = 8
)

// Sender forwards messages to the matching gateway
type Sender interface {
	Send(msg gateway.Message) error
}

// Notifier mirrors order-affecting actions to the back office.
// Implementations must not block.
type Notifier interface {
	Notify(eventType ems.EventType, orderID string, data any)
}

// SymbolSource resolves instrument metadata
type SymbolSource interface {
	GetSymbolInfo(symbol string) (model.SymbolInfo, bool)
}

// Balances is the asset ledger surface the order ledger drives.
// The Batch variants commit the writes staged in b together with their
// own balance changes, or write nothing.
type Balances interface {
	Freeze(userID string, order model.Order) error
	Unfreeze(order model.Order) error
	UnfreezeBatch(order model.Order, b *store.Batch) error
	SettleTradeBatch(trade model.Trade, order model.Order, b *store.Batch) error
}

// TradeRegistry records which tradeIds were applied to which order.
// Claim returns false when the pair was already claimed.
type TradeRegistry interface {
	Claim(ctx context.Context, orderID, tradeID string) (bool, error)
	Release(ctx context.Context, orderID, tradeID string) error
}

// Ledger owns the order state machine. Every mutation of one order holds
// that order's lock; balance locks are always taken after it.
type Ledger struct {
	store    store.Store
	balances Balances
	symbols  SymbolSource
	sender   Sender
	notifier Notifier
	trades   TradeRegistry
	locks    *keylock.Locker
	logger   *zap.Logger
	now      func() int64
}

// NewLedger wires an order ledger
func NewLedger(
	s store.Store,
	balances Balances,
	symbols SymbolSource,
	sender Sender,
	notifier Notifier,
	trades TradeRegistry,
	logger *zap.Logger,
) *Ledger {
	return &Ledger{
		store:    s,
		balances: balances,
		symbols:  symbols,
		sender:   sender,
		notifier: notifier,
		trades:   trades,
		locks:    keylock.New(),
		logger:   logger,
		now:      model.NowMillis,
	}
}

func orderKey(orderID string) string {
	return orderKeyPrefix + orderID
}

// SubmitOrder validates req, freezes funds, records the order as PENDING
// and forwards it to the gateway. When the gateway send fails the order
// stays recorded and frozen and the send error is returned with it.
func (l *Ledger) SubmitOrder(ctx context.Context, userID string, req model.OrderRequest) (model.Order, error) {
	if err := l.validate(userID, req); err != nil {
		return model.Order{}, err
	}

	now := l.now()
	order := model.Order{
		OrderID:       model.NewOrderID(),
		UserID:        userID,
		Symbol:        req.Symbol,
		OrderType:     req.OrderType,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		FilledQty:     decimal.Zero,
		AvgPrice:      decimal.Zero,
		Status:        model.StatusPending,
		CreateTime:    now,
		UpdateTime:    now,
		ClientOrderID: req.ClientOrderID,
	}
	if order.OrderType == model.OrderTypeMarket {
		order.Price = nil
	}

	unlock := l.locks.Lock(order.OrderID)
	defer unlock()

	if err := l.balances.Freeze(userID, order); err != nil {
		return model.Order{}, err
	}

	if err := l.createOrder(order); err != nil {
		if uerr := l.balances.Unfreeze(order); uerr != nil {
			l.logger.Error("failed to roll back freeze",
				zap.String("order_id", order.OrderID),
				zap.Error(uerr),
			)
		}
		return model.Order{}, err
	}

	l.logger.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", userID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
	)

	msg, err := gateway.NewMessage(gateway.TypeOrderRequest, order)
	if err != nil {
		return order, err
	}
	if err := l.sender.Send(msg); err != nil {
		l.logger.Error("failed to send order to gateway",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		return order, fmt.Errorf("failed to send order to gateway: %w", err)
	}

	l.notifier.Notify(ems.EventOrderSubmit, order.OrderID, order)
	return order, nil
}

func (l *Ledger) validate(userID string, req model.OrderRequest) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", model.ErrValidation)
	}
	info, ok := l.symbols.GetSymbolInfo(req.Symbol)
	if !ok {
		return fmt.Errorf("%w: symbol not found: %s", model.ErrValidation, req.Symbol)
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return fmt.Errorf("%w: invalid side %q", model.ErrValidation, req.Side)
	}
	switch req.OrderType {
	case model.OrderTypeLimit:
		if req.Price == nil {
			return fmt.Errorf("%w: price is required for limit order", model.ErrValidation)
		}
		if !req.Price.IsPositive() {
			return fmt.Errorf("%w: price must be positive", model.ErrValidation)
		}
	case model.OrderTypeMarket:
	default:
		return fmt.Errorf("%w: invalid order type %q", model.ErrValidation, req.OrderType)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	if req.Quantity.LessThan(info.MinOrderQty) {
		return fmt.Errorf("%w: quantity below minimum: %s", model.ErrValidation, info.MinOrderQty)
	}
	return nil
}

// CancelOrder asks the gateway to cancel orderID. The order only becomes
// CANCELED when a successful CANCEL_RESPONSE arrives.
func (l *Ledger) CancelOrder(ctx context.Context, userID, orderID string) error {
	unlock := l.locks.Lock(orderID)
	defer unlock()

	order, err := l.GetOrder(orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return fmt.Errorf("%w: order %s does not belong to user", model.ErrForbidden, orderID)
	}
	if order.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel order in status %s", model.ErrInvalidState, order.Status)
	}

	msg, err := gateway.NewMessage(gateway.TypeCancelRequest, gateway.CancelRequestPayload{
		OrderID: orderID,
		UserID:  userID,
	})
	if err != nil {
		return err
	}
	if err := l.sender.Send(msg); err != nil {
		l.logger.Error("failed to send cancel to gateway",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send cancel to gateway: %w", err)
	}

	l.logger.Info("cancel requested", zap.String("order_id", orderID))
	l.notifier.Notify(ems.EventOrderCancel, orderID, order)
	return nil
}

// OnOrderResponse applies the gateway's reported status. Terminal orders
// never change and an open order never moves back to an earlier state.
func (l *Ledger) OnOrderResponse(ctx context.Context, ev event.OrderResponse) error {
	unlock := l.locks.Lock(ev.OrderID)
	defer unlock()

	order, ok, err := l.loadOrder(ev.OrderID)
	if err != nil {
		return err
	}
	if !ok {
		l.logger.Warn("order response for unknown order", zap.String("order_id", ev.OrderID))
		return nil
	}

	if order.Status.IsTerminal() {
		l.logger.Warn("ignoring order response for terminal order",
			zap.String("order_id", order.OrderID),
			zap.String("status", string(order.Status)),
			zap.String("reported", string(ev.Status)),
		)
		return nil
	}
	if statusRank(ev.Status) < statusRank(order.Status) {
		l.logger.Debug("ignoring stale order response",
			zap.String("order_id", order.OrderID),
			zap.String("reported", string(ev.Status)),
		)
		return nil
	}

	order.Status = ev.Status
	order.UpdateTime = l.now()
	if ev.Status == model.StatusRejected || ev.Status == model.StatusCanceled {
		if err := l.release(order); err != nil {
			return err
		}
	} else if err := l.saveOrder(order); err != nil {
		return err
	}
	l.logger.Info("order status updated",
		zap.String("order_id", order.OrderID),
		zap.String("status", string(order.Status)),
	)
	return nil
}

// statusRank orders the open states PENDING < SUBMITTED < PARTIAL_FILLED
func statusRank(s model.OrderStatus) int {
	switch s {
	case model.StatusPending:
		return 0
	case model.StatusSubmitted:
		return 1
	case model.StatusPartialFilled:
		return 2
	default:
		return 3
	}
}

// OnCancelResponse commits a confirmed cancel and releases the unfilled
// remainder. Repeated confirmations are ignored.
func (l *Ledger) OnCancelResponse(ctx context.Context, ev event.CancelResponse) error {
	unlock := l.locks.Lock(ev.OrderID)
	defer unlock()

	order, ok, err := l.loadOrder(ev.OrderID)
	if err != nil {
		return err
	}
	if !ok {
		l.logger.Warn("cancel response for unknown order", zap.String("order_id", ev.OrderID))
		return nil
	}
	if !ev.Success {
		l.logger.Info("cancel rejected by gateway", zap.String("order_id", order.OrderID))
		return nil
	}
	if order.Status.IsTerminal() {
		l.logger.Warn("ignoring cancel confirmation for terminal order",
			zap.String("order_id", order.OrderID),
			zap.String("status", string(order.Status)),
		)
		return nil
	}

	order.Status = model.StatusCanceled
	order.UpdateTime = l.now()
	if err := l.release(order); err != nil {
		return err
	}
	l.logger.Info("order canceled", zap.String("order_id", order.OrderID))
	return nil
}

// release saves the now terminal order and unfreezes what it still holds
// in one batch. On failure the stored order keeps its previous status.
func (l *Ledger) release(order model.Order) error {
	batch := store.NewBatch()
	if err := batch.PutJSON(orderKey(order.OrderID), order); err != nil {
		return err
	}
	if err := l.balances.UnfreezeBatch(order, batch); err != nil {
		l.logger.Error("failed to release frozen funds",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to unfreeze order %s: %w", order.OrderID, err)
	}
	return nil
}

// OnTradeNotify applies one fill. A tradeId already applied to the order
// is ignored. Fills for canceled or rejected orders and fills that would
// exceed the order quantity are refused. The trade, the order and the
// balances are written in one batch; when it fails the tradeId is released
// so a redelivery can apply it.
func (l *Ledger) OnTradeNotify(ctx context.Context, ev event.TradeNotify) error {
	unlock := l.locks.Lock(ev.OrderID)
	defer unlock()

	order, ok, err := l.loadOrder(ev.OrderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: trade %s for unknown order %s", model.ErrNotFound, ev.TradeID, ev.OrderID)
	}

	if order.Status == model.StatusCanceled || order.Status == model.StatusRejected {
		return fmt.Errorf("%w: trade %s for %s order %s", model.ErrInvalidState, ev.TradeID, order.Status, order.OrderID)
	}
	if !ev.Quantity.IsPositive() || !ev.Price.IsPositive() {
		return fmt.Errorf("%w: trade %s has non-positive price or quantity", model.ErrValidation, ev.TradeID)
	}

	first, err := l.trades.Claim(ctx, order.OrderID, ev.TradeID)
	if err != nil {
		return fmt.Errorf("failed to claim trade: %w", err)
	}
	if !first {
		l.logger.Warn("duplicate trade ignored",
			zap.String("order_id", order.OrderID),
			zap.String("trade_id", ev.TradeID),
			zap.String("source", string(ev.Source)),
		)
		return nil
	}

	filled := order.FilledQty.Add(ev.Quantity)
	if filled.GreaterThan(order.Quantity) {
		l.releaseClaim(ctx, order.OrderID, ev.TradeID)
		return fmt.Errorf("%w: trade %s would overfill order %s (%s > %s)",
			model.ErrInvalidState, ev.TradeID, order.OrderID, filled, order.Quantity)
	}

	now := l.now()
	trade := ev.Trade(order, now)

	updated := order
	updated.AvgPrice = order.AvgPrice.Mul(order.FilledQty).
		Add(trade.Price.Mul(trade.Quantity)).
		DivRound(filled, avgPricePrecision)
	updated.FilledQty = filled
	if filled.GreaterThanOrEqual(order.Quantity) || order.Status == model.StatusFilled {
		updated.Status = model.StatusFilled
	} else {
		updated.Status = model.StatusPartialFilled
	}
	updated.UpdateTime = now

	batch, err := stageFill(trade, updated)
	if err != nil {
		l.releaseClaim(ctx, order.OrderID, ev.TradeID)
		return err
	}
	// the balance effect commits in the same batch as the fill
	if err := l.balances.SettleTradeBatch(trade, order, batch); err != nil {
		l.releaseClaim(ctx, order.OrderID, ev.TradeID)
		return fmt.Errorf("failed to settle trade %s: %w", ev.TradeID, err)
	}
	order = updated

	l.logger.Info("trade applied",
		zap.String("order_id", order.OrderID),
		zap.String("trade_id", trade.TradeID),
		zap.String("source", string(ev.Source)),
		zap.String("filled_qty", order.FilledQty.String()),
		zap.String("status", string(order.Status)),
	)

	l.notifier.Notify(ems.EventTradeFilled, order.OrderID, trade)
	return nil
}

// stageFill stages the trade under both indexes and the updated order
func stageFill(trade model.Trade, updated model.Order) (*store.Batch, error) {
	batch := store.NewBatch()
	if err := batch.AppendJSON(orderTradesPrefix+updated.OrderID, trade); err != nil {
		return nil, err
	}
	if err := batch.AppendJSON(userTradesPrefix+updated.UserID, trade); err != nil {
		return nil, err
	}
	if err := batch.PutJSON(orderKey(updated.OrderID), updated); err != nil {
		return nil, err
	}
	return batch, nil
}

// releaseClaim frees a tradeId whose fill was not applied
func (l *Ledger) releaseClaim(ctx context.Context, orderID, tradeID string) {
	if err := l.trades.Release(ctx, orderID, tradeID); err != nil {
		l.logger.Error("failed to release trade claim",
			zap.String("order_id", orderID),
			zap.String("trade_id", tradeID),
			zap.Error(err),
		)
	}
}

// GetOrder loads one order
func (l *Ledger) GetOrder(orderID string) (model.Order, error) {
	order, ok, err := l.loadOrder(orderID)
	if err != nil {
		return model.Order{}, err
	}
	if !ok {
		return model.Order{}, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
	}
	return order, nil
}

// ListOrders returns userID's orders in creation order, optionally
// restricted to one symbol
func (l *Ledger) ListOrders(userID, symbol string) ([]model.Order, error) {
	ids, err := store.ListJSON[string](l.store, userOrdersPrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		order, ok, err := l.loadOrder(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			l.logger.Warn("order index points at missing order", zap.String("order_id", id))
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// ListTrades returns the fills of one of userID's orders
func (l *Ledger) ListTrades(userID, orderID string) ([]model.Trade, error) {
	order, err := l.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, fmt.Errorf("%w: order %s does not belong to user", model.ErrForbidden, orderID)
	}
	trades, err := store.ListJSON[model.Trade](l.store, orderTradesPrefix+orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

func (l *Ledger) loadOrder(orderID string) (model.Order, bool, error) {
	var order model.Order
	found, err := store.GetJSON(l.store, orderKey(orderID), &order)
	if err != nil {
		return model.Order{}, false, fmt.Errorf("failed to load order: %w", err)
	}
	return order, found, nil
}

func (l *Ledger) createOrder(order model.Order) error {
	batch := store.NewBatch()
	if err := batch.PutJSON(orderKey(order.OrderID), order); err != nil {
		return err
	}
	if err := batch.AppendJSON(userOrdersPrefix+order.UserID, order.OrderID); err != nil {
		return err
	}
	if err := l.store.Apply(batch); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (l *Ledger) saveOrder(order model.Order) error {
	if err := store.PutJSON(l.store, orderKey(order.OrderID), order); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}
