// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Share quantities are whole-number int64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side distinguishes buy orders from sell orders.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known order side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of a pending order. The state machine
// is one-way: pending → executed or pending → cancelled. Once terminal,
// an order is never modified again.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// User holds identity and the cash balance mutated on every settlement.
// Users are never deleted by the engine.
type User struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Stock is a quote row maintained by the price feed: the last traded price
// plus daily stats. The oracle falls back to LTP when its cache misses.
type Stock struct {
	Symbol      string          `json:"symbol" db:"symbol"`
	Name        string          `json:"name" db:"name"`
	LTP         decimal.Decimal `json:"ltp" db:"ltp"` // last traded price
	Open        decimal.Decimal `json:"open" db:"open"`
	High        decimal.Decimal `json:"high" db:"high"`
	Low         decimal.Decimal `json:"low" db:"low"`
	LastUpdated time.Time       `json:"last_updated" db:"last_updated"`
}

// Position is one user's holding of one symbol. Quantity is always > 0
// while the row exists: a zero-quantity position is deleted, absence of
// the row is the zero state.
type Position struct {
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	AvgBuyPrice decimal.Decimal `json:"avg_buy_price" db:"avg_buy_price"` // cost basis per share, pre-fee
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// PendingOrder is a resting limit order. Status transitions are guarded by
// conditional store updates so a concurrent settlement and cancellation
// cannot both win.
type PendingOrder struct {
	ID             string          `json:"id" db:"id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Side           Side            `json:"side" db:"side"`
	Quantity       int64           `json:"quantity" db:"quantity"`
	LimitPrice     decimal.Decimal `json:"limit_price" db:"limit_price"`
	Status         OrderStatus     `json:"status" db:"status"`
	MatchedOrderID string          `json:"matched_order_id,omitempty" db:"matched_order_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
}

// Expired reports whether the order's expiry has passed at time now.
// Orders without an expiry never expire.
func (o *PendingOrder) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// Transaction is an immutable record of a completed trade. Once created,
// these are never modified or deleted; portfolio history and external
// scoring are derived from them.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Action      Side            `json:"action" db:"action"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Fee         decimal.Decimal `json:"fee" db:"fee"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"` // buy: subtotal+fee, sell: subtotal−fee
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// ValidateSymbol checks a ticker symbol: 1–12 upper-case letters or digits.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is empty")
	}
	if len(symbol) > 12 {
		return fmt.Errorf("symbol %q too long", symbol)
	}
	if symbol != strings.ToUpper(symbol) {
		return fmt.Errorf("symbol %q must be upper-case", symbol)
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("symbol %q contains invalid character %q", symbol, r)
		}
	}
	return nil
}
