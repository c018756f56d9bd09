// Package event defines the notification sink the engine emits settlement
// events through. The engine never depends on a concrete transport:
// delivery is fire-and-forget and failures are non-fatal to settlement.
package event

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// Event names understood by clients.
const (
	PortfolioUpdated    = "portfolioUpdate"
	OrderMatchedEvent   = "orderMatched"
	OrderExecutedEvent  = "orderExecuted"
	OrderCancelledEvent = "orderCancelled"
	PendingOrderCreated = "pendingOrderCreated"
	OrderOpportunity    = "orderOpportunity"
)

// Sink receives events keyed by user id. Emit must not block settlement
// and must not fail it.
type Sink interface {
	Emit(userID, event string, payload any)
}

// --- Payloads (wire shapes clients and tests assert on) ---

// PortfolioEntry is one position of a portfolio snapshot, marked to the
// current price.
type PortfolioEntry struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgBuyPrice   decimal.Decimal `json:"avgBuyPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	CurrentValue  decimal.Decimal `json:"currentValue"`
	InvestedValue decimal.Decimal `json:"investedValue"`
	GainLoss      decimal.Decimal `json:"gainLoss"`
}

// PortfolioUpdate is emitted to a user after any settlement touching them.
type PortfolioUpdate struct {
	UserID        string           `json:"userId"`
	Portfolio     []PortfolioEntry `json:"portfolio"`
	TotalValue    decimal.Decimal  `json:"totalValue"`
	TotalGainLoss decimal.Decimal  `json:"totalGainLoss"`
	TotalInvested decimal.Decimal  `json:"totalInvested"`
	CashBalance   decimal.Decimal  `json:"cashBalance"`
}

// OrderMatched is emitted to both parties of an order-to-order match,
// with order/match swapped so each party sees their own order first.
type OrderMatched struct {
	Order       *model.PendingOrder `json:"order"`
	Match       *model.PendingOrder `json:"match"`
	Transaction *model.Transaction  `json:"transaction"`
}

// OrderExecuted is emitted when the sweep settles a resting order.
type OrderExecuted struct {
	UserID      string              `json:"userId"`
	Order       *model.PendingOrder `json:"order"`
	Transaction *model.Transaction  `json:"transaction"`
}

// OrderCancelled is emitted on user cancellation and on expiry.
type OrderCancelled struct {
	UserID string              `json:"userId"`
	Order  *model.PendingOrder `json:"order"`
}

// OrderCreated acknowledges a resting order to its placer.
type OrderCreated struct {
	UserID string              `json:"userId"`
	Order  *model.PendingOrder `json:"order"`
}

// Opportunity nudges holders of compatible opposite-side orders when a new
// order rests on the book. Best-effort, not required for correctness.
type Opportunity struct {
	Message string `json:"message"`
	OrderID string `json:"orderId"`
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(string, string, any) {}

// Recorded is one captured emission.
type Recorded struct {
	UserID  string
	Event   string
	Payload any
}

// Recorder captures emissions for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Emit(userID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{UserID: userID, Event: event, Payload: payload})
}

// Events returns a copy of everything captured so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// ByEvent returns captured emissions with the given event name.
func (r *Recorder) ByEvent(event string) []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Recorded
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
