package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/event"
	"github.com/stocksim/trading-engine/internal/pricing"
)

// PortfolioSnapshot marks every position of the user to the current oracle
// price and aggregates the totals. When a price is unavailable a position
// is valued at its cost basis.
func (e *Executor) PortfolioSnapshot(ctx context.Context, userID string) (*event.PortfolioUpdate, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	positions, err := e.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	snap := &event.PortfolioUpdate{
		UserID:        userID,
		Portfolio:     make([]event.PortfolioEntry, 0, len(positions)),
		TotalValue:    decimal.Zero,
		TotalGainLoss: decimal.Zero,
		TotalInvested: decimal.Zero,
		CashBalance:   user.CashBalance,
	}

	for _, pos := range positions {
		price, err := e.oracle.GetPrice(ctx, pos.Symbol)
		if err != nil {
			price = pos.AvgBuyPrice
		}
		v := pricing.Value(pos.Quantity, pos.AvgBuyPrice, price)

		snap.Portfolio = append(snap.Portfolio, event.PortfolioEntry{
			Symbol:        pos.Symbol,
			Quantity:      pos.Quantity,
			AvgBuyPrice:   pos.AvgBuyPrice,
			CurrentPrice:  price,
			CurrentValue:  v.CurrentValue,
			InvestedValue: v.InvestedValue,
			GainLoss:      v.GainLoss,
		})
		snap.TotalValue = snap.TotalValue.Add(v.CurrentValue)
		snap.TotalGainLoss = snap.TotalGainLoss.Add(v.GainLoss)
		snap.TotalInvested = snap.TotalInvested.Add(v.InvestedValue)
	}

	return snap, nil
}

// notifyPortfolio emits a portfolioUpdate to the user. Best-effort: a
// failed snapshot is logged and never fails the settlement that
// triggered it.
func (e *Executor) notifyPortfolio(ctx context.Context, userID string) {
	snap, err := e.PortfolioSnapshot(ctx, userID)
	if err != nil {
		slog.Warn("portfolio snapshot failed", "user", userID, "err", err)
		return
	}
	e.events.Emit(userID, event.PortfolioUpdated, snap)
}
