// Package engine implements the order matching and trade-settlement core:
// market trade execution, the limit-order book and matcher, and the
// periodic pending-order sweep. Every settlement — whatever triggered
// it — funnels through the same code path and runs inside a single
// store transaction.
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
	"github.com/stocksim/trading-engine/internal/pricing"
	"github.com/stocksim/trading-engine/internal/store"
)

// Executor settles market trades: price lookup, fee computation, cash and
// position mutation, and ledger append — all inside one atomic unit.
type Executor struct {
	store  store.Store
	oracle PriceSource
	calc   *pricing.Calculator
	events event.Sink
	now    func() time.Time
}

// PriceSource resolves the current price for a symbol.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// NewExecutor creates a trade executor.
func NewExecutor(st store.Store, prices PriceSource, calc *pricing.Calculator, events event.Sink) *Executor {
	return &Executor{
		store:  st,
		oracle: prices,
		calc:   calc,
		events: events,
		now:    time.Now,
	}
}

// ExecuteMarketTrade executes a market buy or sell for qty shares of symbol
// at the oracle's current price. On success the returned Transaction has
// been appended to the ledger and the user's cash and position reflect the
// trade; on any failure nothing persists.
func (e *Executor) ExecuteMarketTrade(ctx context.Context, userID, symbol string, qty int64, side model.Side) (*model.Transaction, error) {
	if !side.Valid() {
		return nil, &model.ValidationError{Message: "side must be buy or sell"}
	}
	if qty <= 0 {
		return nil, &model.ValidationError{Message: "quantity must be positive"}
	}

	price, err := e.oracle.GetPrice(ctx, symbol)
	if errors.Is(err, model.ErrPriceUnavailable) {
		return nil, fmt.Errorf("%w: no price for %s", model.ErrSymbolNotFound, symbol)
	}
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var txn *model.Transaction
	err = e.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		txn, err = e.settle(ctx, tx, userID, symbol, qty, side, price)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(side), "market").Inc()
	metrics.SettlementLatency.WithLabelValues(string(side)).Observe(time.Since(start).Seconds())

	e.notifyPortfolio(ctx, userID)
	return txn, nil
}

// settle applies one party's trade at price inside tx and appends the
// Transaction. Shared by market trades and sweep executions; matches use
// applyBuy/applySell directly because a match produces a single ledger
// record for two parties.
func (e *Executor) settle(ctx context.Context, tx store.Tx, userID, symbol string, qty int64, side model.Side, price decimal.Decimal) (*model.Transaction, error) {
	var fee, total decimal.Decimal
	var err error

	if side == model.SideBuy {
		fee, total, err = e.applyBuy(ctx, tx, userID, symbol, qty, price)
	} else {
		fee, total, err = e.applySell(ctx, tx, userID, symbol, qty, price)
	}
	if err != nil {
		return nil, err
	}

	txn := &model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      symbol,
		Action:      side,
		Quantity:    qty,
		Price:       price,
		Fee:         fee,
		TotalAmount: total,
		CreatedAt:   e.now(),
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return txn, nil
}

// applyBuy debits cash by subtotal+fee and upserts the position with a
// weighted-average cost basis. The basis uses the pre-fee subtotal
// weighted by share count; the fee never enters the per-share cost.
func (e *Executor) applyBuy(ctx context.Context, tx store.Tx, userID, symbol string, qty int64, price decimal.Decimal) (fee, total decimal.Decimal, err error) {
	subtotal, fee, total := e.calc.BuyCost(price, qty)

	user, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return fee, total, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.CashBalance.LessThan(total) {
		return fee, total, model.ErrInsufficientFunds
	}
	if err := tx.SetUserCash(ctx, userID, user.CashBalance.Sub(total)); err != nil {
		return fee, total, fmt.Errorf("debit cash: %w", err)
	}

	now := e.now()
	pos, err := tx.GetPositionForUpdate(ctx, userID, symbol)
	switch {
	case err == nil:
		pos.AvgBuyPrice = pricing.WeightedAvgCost(pos.AvgBuyPrice, pos.Quantity, subtotal, qty)
		pos.Quantity += qty
		pos.UpdatedAt = now
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return fee, total, fmt.Errorf("update position: %w", err)
		}
	case errors.Is(err, store.ErrNotFound):
		p := &model.Position{
			UserID:      userID,
			Symbol:      symbol,
			Quantity:    qty,
			AvgBuyPrice: price,
			UpdatedAt:   now,
		}
		if err := tx.UpsertPosition(ctx, p); err != nil {
			return fee, total, fmt.Errorf("create position: %w", err)
		}
	default:
		return fee, total, fmt.Errorf("load position: %w", err)
	}

	return fee, total, nil
}

// applySell credits cash by subtotal−fee and decrements the position,
// deleting the row when the quantity reaches exactly zero. The cost basis
// is untouched on a partial sell.
func (e *Executor) applySell(ctx context.Context, tx store.Tx, userID, symbol string, qty int64, price decimal.Decimal) (fee, total decimal.Decimal, err error) {
	pos, err := tx.GetPositionForUpdate(ctx, userID, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, decimal.Zero, model.ErrInsufficientShares
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load position: %w", err)
	}
	if pos.Quantity < qty {
		return decimal.Zero, decimal.Zero, model.ErrInsufficientShares
	}

	_, fee, total = e.calc.SellProceeds(price, qty)

	user, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return fee, total, fmt.Errorf("load user %s: %w", userID, err)
	}
	if err := tx.SetUserCash(ctx, userID, user.CashBalance.Add(total)); err != nil {
		return fee, total, fmt.Errorf("credit cash: %w", err)
	}

	remaining := pos.Quantity - qty
	if remaining == 0 {
		if err := tx.DeletePosition(ctx, userID, symbol); err != nil {
			return fee, total, fmt.Errorf("delete position: %w", err)
		}
	} else {
		pos.Quantity = remaining
		pos.UpdatedAt = e.now()
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return fee, total, fmt.Errorf("update position: %w", err)
		}
	}

	return fee, total, nil
}
