// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing and development).
//
// Every write path that touches more than one entity runs inside RunInTx:
// no caller may read-then-write cash or position rows outside a Tx.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional update matched no row,
	// typically because a concurrent writer moved a pending order to a
	// terminal state first.
	ErrConflict = errors.New("store: conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth.
type Store interface {
	// --- Users ---

	// CreateUser persists a new user.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// --- Stocks (quote rows, maintained by the price feed) ---

	// UpsertStock creates or refreshes a quote row.
	UpsertStock(ctx context.Context, s *model.Stock) error

	// GetStock retrieves a quote row by symbol.
	GetStock(ctx context.Context, symbol string) (*model.Stock, error)

	// ListStocks returns all quote rows.
	ListStocks(ctx context.Context) ([]model.Stock, error)

	// --- Positions ---

	// GetPosition retrieves one user's holding of one symbol.
	GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error)

	// ListPositions returns all of a user's holdings.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- Pending orders ---

	// CreatePendingOrder persists a new resting limit order.
	CreatePendingOrder(ctx context.Context, o *model.PendingOrder) error

	// GetPendingOrder retrieves an order by id regardless of status.
	GetPendingOrder(ctx context.Context, id string) (*model.PendingOrder, error)

	// ListPendingOrders returns every order with status pending.
	ListPendingOrders(ctx context.Context) ([]model.PendingOrder, error)

	// ListPendingOrdersByUser returns a user's orders with status pending.
	ListPendingOrdersByUser(ctx context.Context, userID string) ([]model.PendingOrder, error)

	// ListPendingOrdersBySymbol returns pending orders for one side of one
	// symbol's book, best price first (buy: highest, sell: lowest), ties
	// broken by earliest creation.
	ListPendingOrdersBySymbol(ctx context.Context, symbol string, side model.Side) ([]model.PendingOrder, error)

	// --- Immutable ledger ---

	// ListTransactions returns a user's trades, oldest first.
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Atomic unit ---

	// RunInTx runs fn inside a single transaction. Mutations made through
	// the Tx become visible only when fn returns nil; any error rolls the
	// whole unit back.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write surface available inside an atomic unit. Row reads
// through a Tx lock the row for the remainder of the transaction.
type Tx interface {
	// GetUserForUpdate reads a user row with a write lock.
	GetUserForUpdate(ctx context.Context, id string) (*model.User, error)

	// SetUserCash sets a user's cash balance.
	SetUserCash(ctx context.Context, id string, balance decimal.Decimal) error

	// GetPositionForUpdate reads a position row with a write lock.
	// Returns ErrNotFound when the user holds none of the symbol.
	GetPositionForUpdate(ctx context.Context, userID, symbol string) (*model.Position, error)

	// UpsertPosition creates or replaces a position row.
	UpsertPosition(ctx context.Context, p *model.Position) error

	// DeletePosition removes a position row. Called exactly when the
	// quantity reaches zero.
	DeletePosition(ctx context.Context, userID, symbol string) error

	// InsertTransaction appends an immutable trade record.
	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// BestMatch finds the single best price-time ranked pending order on
	// the opposite side of incoming's book whose limit price is compatible,
	// excluding incoming's owner. Returns ErrNotFound when nothing crosses.
	BestMatch(ctx context.Context, incoming *model.PendingOrder) (*model.PendingOrder, error)

	// MarkOrderExecuted transitions a pending order to executed, recording
	// its counterpart (empty for sweep executions). Returns ErrConflict if
	// the order is no longer pending.
	MarkOrderExecuted(ctx context.Context, orderID, matchedOrderID string) error

	// MarkOrderCancelled transitions a pending order to cancelled.
	// Returns ErrConflict if the order is no longer pending.
	MarkOrderCancelled(ctx context.Context, orderID string) error
}
