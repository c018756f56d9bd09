package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/event"
	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/risk"
	"github.com/stocksim/trading-engine/internal/store"
)

// errNoMatch signals that nothing on the opposite side crosses the
// incoming order. Internal control flow only; never escapes the matcher.
var errNoMatch = errors.New("engine: no crossing order")

// Matcher maintains the persistent limit-order book. A newly placed order
// is matched against the single best-ranked opposing order; on no match it
// rests on the book until the sweep, a later placement, cancellation, or
// expiry resolves it.
type Matcher struct {
	store  store.Store
	exec   *Executor
	risk   *risk.Checker
	events event.Sink
	expiry time.Duration
	now    func() time.Time
}

// NewMatcher creates a matcher. expiry is the lifetime of a resting order
// (the configured default is 24h).
func NewMatcher(st store.Store, exec *Executor, checker *risk.Checker, events event.Sink, expiry time.Duration) *Matcher {
	return &Matcher{
		store:  st,
		exec:   exec,
		risk:   checker,
		events: events,
		expiry: expiry,
		now:    time.Now,
	}
}

// PlacementResult is the outcome of placing a limit order: either the
// order rests (Transaction nil) or it matched immediately (Match and
// Transaction set, Order terminal).
type PlacementResult struct {
	Order       *model.PendingOrder `json:"order"`
	Match       *model.PendingOrder `json:"match,omitempty"`
	Transaction *model.Transaction  `json:"transaction,omitempty"`
}

// PlaceLimitOrder validates and places a limit order. The solvency check
// at placement is advisory; the settlement path re-validates inside the
// transaction.
func (m *Matcher) PlaceLimitOrder(ctx context.Context, userID, symbol string, qty int64, limitPrice decimal.Decimal, side model.Side) (*PlacementResult, error) {
	if !side.Valid() {
		return nil, &model.ValidationError{Message: "side must be buy or sell"}
	}
	if qty <= 0 {
		return nil, &model.ValidationError{Message: "quantity must be positive"}
	}
	if limitPrice.LessThanOrEqual(decimal.Zero) {
		return nil, &model.ValidationError{Message: "limit price must be positive"}
	}

	if _, err := m.store.GetStock(ctx, symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrSymbolNotFound, symbol)
		}
		return nil, err
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	if side == model.SideBuy {
		if err := m.risk.CheckBuy(user.CashBalance, limitPrice, qty); err != nil {
			return nil, err
		}
	} else {
		var held int64
		if pos, err := m.store.GetPosition(ctx, userID, symbol); err == nil {
			held = pos.Quantity
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load position: %w", err)
		}
		if err := m.risk.CheckSell(held, qty); err != nil {
			return nil, err
		}
	}

	now := m.now()
	expires := now.Add(m.expiry)
	order := &model.PendingOrder{
		ID:         uuid.New().String(),
		UserID:     userID,
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty,
		LimitPrice: limitPrice,
		Status:     model.OrderStatusPending,
		CreatedAt:  now,
		ExpiresAt:  &expires,
	}
	if err := m.store.CreatePendingOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	metrics.OrdersPlaced.WithLabelValues(string(side)).Inc()

	if res, err := m.tryMatch(ctx, order); err != nil {
		return nil, err
	} else if res != nil {
		return res, nil
	}

	// No match: the order rests on the book.
	metrics.PendingOrders.Inc()

	m.notifyOpportunities(ctx, order)
	m.events.Emit(userID, event.PendingOrderCreated, &event.OrderCreated{UserID: userID, Order: order})

	return &PlacementResult{Order: order}, nil
}

// tryMatch matches order against the single best-ranked crossing order and
// settles both parties atomically. Returns (nil, nil) when nothing crosses.
//
// The trade quantity is min(order.Quantity, match.Quantity) and the
// execution price is the resting order's limit: price-time priority
// rewards the order that was already on the book. If the incoming order
// is larger than the match, the excess is not re-queued — both orders go
// terminal at the matched quantity.
func (m *Matcher) tryMatch(ctx context.Context, order *model.PendingOrder) (*PlacementResult, error) {
	start := time.Now()
	var match *model.PendingOrder
	var txn *model.Transaction

	err := m.store.RunInTx(ctx, func(tx store.Tx) error {
		found, err := tx.BestMatch(ctx, order)
		if errors.Is(err, store.ErrNotFound) {
			return errNoMatch
		}
		if err != nil {
			return fmt.Errorf("find match: %w", err)
		}
		match = found

		txn, err = m.settleMatch(ctx, tx, order, match)
		return err
	})
	if errors.Is(err, errNoMatch) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	order.Status = model.OrderStatusExecuted
	order.MatchedOrderID = match.ID
	match.Status = model.OrderStatusExecuted
	match.MatchedOrderID = order.ID

	metrics.OrdersMatched.Inc()
	metrics.TradesTotal.WithLabelValues(string(order.Side), "match").Inc()
	metrics.SettlementLatency.WithLabelValues(string(order.Side)).Observe(time.Since(start).Seconds())
	metrics.PendingOrders.Dec() // the resting side leaves the book

	m.exec.notifyPortfolio(ctx, order.UserID)
	m.exec.notifyPortfolio(ctx, match.UserID)
	m.events.Emit(order.UserID, event.OrderMatchedEvent,
		&event.OrderMatched{Order: order, Match: match, Transaction: txn})
	m.events.Emit(match.UserID, event.OrderMatchedEvent,
		&event.OrderMatched{Order: match, Match: order, Transaction: txn})

	return &PlacementResult{Order: order, Match: match, Transaction: txn}, nil
}

// settleMatch applies the two-party settlement: buyer debit and position
// build-up, seller credit and position draw-down, one Transaction
// attributed to the buy side, both orders marked executed with cross
// references. Runs entirely inside tx.
func (m *Matcher) settleMatch(ctx context.Context, tx store.Tx, incoming, match *model.PendingOrder) (*model.Transaction, error) {
	qty := incoming.Quantity
	if match.Quantity < qty {
		qty = match.Quantity
	}
	price := match.LimitPrice

	buyerID, sellerID := incoming.UserID, match.UserID
	if incoming.Side == model.SideSell {
		buyerID, sellerID = match.UserID, incoming.UserID
	}

	fee, total, err := m.exec.applyBuy(ctx, tx, buyerID, incoming.Symbol, qty, price)
	if err != nil {
		return nil, err
	}
	if _, _, err := m.exec.applySell(ctx, tx, sellerID, incoming.Symbol, qty, price); err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      buyerID,
		Symbol:      incoming.Symbol,
		Action:      model.SideBuy,
		Quantity:    qty,
		Price:       price,
		Fee:         fee,
		TotalAmount: total,
		CreatedAt:   m.now(),
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	if err := tx.MarkOrderExecuted(ctx, incoming.ID, match.ID); err != nil {
		return nil, settlementConflict(err)
	}
	if err := tx.MarkOrderExecuted(ctx, match.ID, incoming.ID); err != nil {
		return nil, settlementConflict(err)
	}

	return txn, nil
}

// notifyOpportunities signals every user holding a compatible
// opposite-side pending order for the symbol. Best-effort.
func (m *Matcher) notifyOpportunities(ctx context.Context, order *model.PendingOrder) {
	opposite, err := m.store.ListPendingOrdersBySymbol(ctx, order.Symbol, order.Side.Opposite())
	if err != nil {
		return
	}

	msg := fmt.Sprintf("New %s order for %s at %s - adjust your order?",
		order.Side, order.Symbol, order.LimitPrice)
	for i := range opposite {
		o := &opposite[i]
		if o.UserID == order.UserID || !compatible(order, o) {
			continue
		}
		m.events.Emit(o.UserID, event.OrderOpportunity,
			&event.Opportunity{Message: msg, OrderID: order.ID})
	}
}

// CancelPendingOrder cancels a pending order owned by userID. Not-found,
// not-owned, and already-terminal all surface as ErrOrderNotFound: there
// is no resurrection and no information leak about other users' orders.
// Cancellation touches no funds or positions.
func (m *Matcher) CancelPendingOrder(ctx context.Context, userID, orderID string) (*model.PendingOrder, error) {
	order, err := m.store.GetPendingOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order.UserID != userID || order.Status != model.OrderStatusPending {
		return nil, model.ErrOrderNotFound
	}

	err = m.store.RunInTx(ctx, func(tx store.Tx) error {
		return tx.MarkOrderCancelled(ctx, orderID)
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, model.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	order.Status = model.OrderStatusCancelled
	metrics.OrdersCancelled.WithLabelValues("user").Inc()
	metrics.PendingOrders.Dec()

	m.events.Emit(userID, event.OrderCancelledEvent, &event.OrderCancelled{UserID: userID, Order: order})
	return order, nil
}

// OrderBook is the resting book for one symbol: bids highest-first, asks
// lowest-first, ties broken by creation time.
type OrderBook struct {
	Symbol string               `json:"symbol"`
	Bids   []model.PendingOrder `json:"buy_orders"`
	Asks   []model.PendingOrder `json:"sell_orders"`
}

// Book returns the current resting book for symbol.
func (m *Matcher) Book(ctx context.Context, symbol string) (*OrderBook, error) {
	if _, err := m.store.GetStock(ctx, symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrSymbolNotFound, symbol)
		}
		return nil, err
	}

	bids, err := m.store.ListPendingOrdersBySymbol(ctx, symbol, model.SideBuy)
	if err != nil {
		return nil, err
	}
	asks, err := m.store.ListPendingOrdersBySymbol(ctx, symbol, model.SideSell)
	if err != nil {
		return nil, err
	}

	return &OrderBook{Symbol: symbol, Bids: bids, Asks: asks}, nil
}

// compatible reports whether two opposite-side limit prices cross:
// sellLimit ≤ buyLimit.
func compatible(a, b *model.PendingOrder) bool {
	buy, sell := a, b
	if a.Side == model.SideSell {
		buy, sell = b, a
	}
	return sell.LimitPrice.LessThanOrEqual(buy.LimitPrice)
}

// settlementConflict maps a lost conditional update to the typed failure.
func settlementConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: order already settled or cancelled", model.ErrSettlementConflict)
	}
	return err
}
