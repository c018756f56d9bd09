package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stocksim/trading-engine/internal/event"
	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// Sweeper walks the pending book and executes every order whose limit is
// satisfied by the prevailing price, cancelling expired orders along the
// way. It runs after each price-feed tick, so a resting order fills as
// soon as the market reaches its limit.
type Sweeper struct {
	store  store.Store
	exec   *Executor
	oracle PriceSource
	events event.Sink
	log    *slog.Logger
	now    func() time.Time
}

func NewSweeper(st store.Store, exec *Executor, oracle PriceSource, events event.Sink, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  st,
		exec:   exec,
		oracle: oracle,
		events: events,
		log:    log,
		now:    time.Now,
	}
}

// Sweep processes every pending order once. Each order is handled in its
// own transaction: a failure is logged and counted, and the sweep moves
// on. Idempotent — an order executed by one sweep is terminal and ignored
// by the next.
func (s *Sweeper) Sweep(ctx context.Context) error {
	orders, err := s.store.ListPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}

	for i := range orders {
		o := &orders[i]
		if err := s.sweepOne(ctx, o); err != nil {
			metrics.SweepErrors.Inc()
			s.log.Error("sweep order failed",
				"order_id", o.ID, "symbol", o.Symbol, "side", o.Side, "error", err)
		}
	}
	return nil
}

// sweepOne resolves one pending order: expiry cancels it, a satisfied
// limit executes it at the current price, anything else leaves it
// resting. Expiry is checked first so an expired order never fills.
func (s *Sweeper) sweepOne(ctx context.Context, o *model.PendingOrder) error {
	now := s.now()
	if o.Expired(now) {
		return s.cancelExpired(ctx, o)
	}

	price, err := s.oracle.GetPrice(ctx, o.Symbol)
	if err != nil {
		// No price, no fill. The order stays on the book for the
		// next sweep.
		s.log.Warn("sweep: price unavailable", "symbol", o.Symbol, "error", err)
		return nil
	}

	shouldExecute := false
	switch o.Side {
	case model.SideBuy:
		shouldExecute = price.LessThanOrEqual(o.LimitPrice)
	case model.SideSell:
		shouldExecute = price.GreaterThanOrEqual(o.LimitPrice)
	}
	if !shouldExecute {
		return nil
	}

	start := time.Now()
	var txn *model.Transaction
	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		txn, err = s.exec.settle(ctx, tx, o.UserID, o.Symbol, o.Quantity, o.Side, price)
		if err != nil {
			return err
		}
		if err := tx.MarkOrderExecuted(ctx, o.ID, ""); err != nil {
			return settlementConflict(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.Status = model.OrderStatusExecuted
	metrics.TradesTotal.WithLabelValues(string(o.Side), "sweep").Inc()
	metrics.SettlementLatency.WithLabelValues(string(o.Side)).Observe(time.Since(start).Seconds())
	metrics.PendingOrders.Dec()

	s.exec.notifyPortfolio(ctx, o.UserID)
	s.events.Emit(o.UserID, event.OrderExecutedEvent,
		&event.OrderExecuted{UserID: o.UserID, Order: o, Transaction: txn})
	return nil
}

func (s *Sweeper) cancelExpired(ctx context.Context, o *model.PendingOrder) error {
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		return tx.MarkOrderCancelled(ctx, o.ID)
	})
	if errors.Is(err, store.ErrConflict) {
		// Lost the race to a concurrent settlement or cancel.
		return nil
	}
	if err != nil {
		return err
	}

	o.Status = model.OrderStatusCancelled
	metrics.OrdersCancelled.WithLabelValues("expired").Inc()
	metrics.PendingOrders.Dec()

	s.events.Emit(o.UserID, event.OrderCancelledEvent,
		&event.OrderCancelled{UserID: o.UserID, Order: o})
	return nil
}
