package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Row-level locking (SELECT ... FOR UPDATE) serializes concurrent
// settlements touching the same user or order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, cash_balance, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)`,
		u.ID, u.Name, u.CashBalance.String(), u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT id, name, cash_balance::TEXT, created_at
		 FROM users WHERE id = $1`, id))
}

func (s *PostgresStore) UpsertStock(ctx context.Context, st *model.Stock) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stocks (symbol, name, ltp, open, high, low, last_updated)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (symbol) DO UPDATE SET
		   name = EXCLUDED.name, ltp = EXCLUDED.ltp, open = EXCLUDED.open,
		   high = EXCLUDED.high, low = EXCLUDED.low, last_updated = EXCLUDED.last_updated`,
		st.Symbol, st.Name,
		st.LTP.String(), st.Open.String(), st.High.String(), st.Low.String(),
		st.LastUpdated,
	)
	return err
}

func (s *PostgresStore) GetStock(ctx context.Context, symbol string) (*model.Stock, error) {
	var st model.Stock
	var ltp, open, high, low string

	err := s.pool.QueryRow(ctx,
		`SELECT symbol, name, ltp::TEXT, open::TEXT, high::TEXT, low::TEXT, last_updated
		 FROM stocks WHERE symbol = $1`, symbol).
		Scan(&st.Symbol, &st.Name, &ltp, &open, &high, &low, &st.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stock %s: %w", symbol, err)
	}

	st.LTP, _ = decimal.NewFromString(ltp)
	st.Open, _ = decimal.NewFromString(open)
	st.High, _ = decimal.NewFromString(high)
	st.Low, _ = decimal.NewFromString(low)
	return &st, nil
}

func (s *PostgresStore) ListStocks(ctx context.Context) ([]model.Stock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, ltp::TEXT, open::TEXT, high::TEXT, low::TEXT, last_updated
		 FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []model.Stock
	for rows.Next() {
		var st model.Stock
		var ltp, open, high, low string
		if err := rows.Scan(&st.Symbol, &st.Name, &ltp, &open, &high, &low, &st.LastUpdated); err != nil {
			return nil, err
		}
		st.LTP, _ = decimal.NewFromString(ltp)
		st.Open, _ = decimal.NewFromString(open)
		st.High, _ = decimal.NewFromString(high)
		st.Low, _ = decimal.NewFromString(low)
		stocks = append(stocks, st)
	}
	return stocks, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, symbol string) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT user_id, symbol, quantity, avg_buy_price::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol))
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, symbol, quantity, avg_buy_price::TEXT, updated_at
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var avg string
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Quantity, &avg, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.AvgBuyPrice, _ = decimal.NewFromString(avg)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) CreatePendingOrder(ctx context.Context, o *model.PendingOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pending_orders
		   (id, user_id, symbol, side, quantity, limit_price, status, matched_order_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, NULLIF($8, ''), $9, $10)`,
		o.ID, o.UserID, o.Symbol, o.Side, o.Quantity,
		o.LimitPrice.String(), o.Status, o.MatchedOrderID, o.CreatedAt, o.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetPendingOrder(ctx context.Context, id string) (*model.PendingOrder, error) {
	return scanOrder(s.pool.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
}

func (s *PostgresStore) ListPendingOrders(ctx context.Context) ([]model.PendingOrder, error) {
	return s.queryOrders(ctx, selectOrder+` WHERE status = 'pending' ORDER BY created_at`)
}

func (s *PostgresStore) ListPendingOrdersByUser(ctx context.Context, userID string) ([]model.PendingOrder, error) {
	return s.queryOrders(ctx,
		selectOrder+` WHERE user_id = $1 AND status = 'pending' ORDER BY created_at`, userID)
}

func (s *PostgresStore) ListPendingOrdersBySymbol(ctx context.Context, symbol string, side model.Side) ([]model.PendingOrder, error) {
	ord := "ASC"
	if side == model.SideBuy {
		ord = "DESC"
	}
	return s.queryOrders(ctx,
		selectOrder+fmt.Sprintf(
			` WHERE symbol = $1 AND side = $2 AND status = 'pending'
			  ORDER BY limit_price %s, created_at ASC`, ord),
		symbol, side)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, symbol, action, quantity, price::TEXT, fee::TEXT, total_amount::TEXT, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var price, fee, total string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Action, &t.Quantity,
			&price, &fee, &total, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Fee, _ = decimal.NewFromString(fee)
		t.TotalAmount, _ = decimal.NewFromString(total)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(&pgTx{tx: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

// pgTx adapts a pgx transaction to the Tx interface.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, id string) (*model.User, error) {
	return scanUser(t.tx.QueryRow(ctx,
		`SELECT id, name, cash_balance::TEXT, created_at
		 FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SetUserCash(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET cash_balance = $2::NUMERIC WHERE id = $1`,
		id, balance.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetPositionForUpdate(ctx context.Context, userID, symbol string) (*model.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx,
		`SELECT user_id, symbol, quantity, avg_buy_price::TEXT, updated_at
		 FROM positions WHERE user_id = $1 AND symbol = $2 FOR UPDATE`, userID, symbol))
}

func (t *pgTx) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, symbol, quantity, avg_buy_price, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET
		   quantity = EXCLUDED.quantity,
		   avg_buy_price = EXCLUDED.avg_buy_price,
		   updated_at = EXCLUDED.updated_at`,
		p.UserID, p.Symbol, p.Quantity, p.AvgBuyPrice.String(), p.UpdatedAt,
	)
	return err
}

func (t *pgTx) DeletePosition(ctx context.Context, userID, symbol string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND symbol = $2`, userID, symbol)
	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, symbol, action, quantity, price, fee, total_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		txn.ID, txn.UserID, txn.Symbol, txn.Action, txn.Quantity,
		txn.Price.String(), txn.Fee.String(), txn.TotalAmount.String(),
		txn.CreatedAt,
	)
	return err
}

func (t *pgTx) BestMatch(ctx context.Context, incoming *model.PendingOrder) (*model.PendingOrder, error) {
	// Incoming buy matches the cheapest compatible sell; incoming sell
	// matches the richest compatible buy. Ties go to the earliest order.
	cmp, ord := "<=", "ASC"
	if incoming.Side == model.SideSell {
		cmp, ord = ">=", "DESC"
	}

	query := selectOrder + fmt.Sprintf(
		` WHERE symbol = $1 AND side = $2 AND status = 'pending'
		    AND user_id <> $3 AND limit_price %s $4::NUMERIC
		  ORDER BY limit_price %s, created_at ASC
		  LIMIT 1
		  FOR UPDATE`, cmp, ord)

	return scanOrder(t.tx.QueryRow(ctx, query,
		incoming.Symbol, incoming.Side.Opposite(), incoming.UserID,
		incoming.LimitPrice.String()))
}

func (t *pgTx) MarkOrderExecuted(ctx context.Context, orderID, matchedOrderID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE pending_orders
		 SET status = 'executed', matched_order_id = NULLIF($2, '')
		 WHERE id = $1 AND status = 'pending'`,
		orderID, matchedOrderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *pgTx) MarkOrderCancelled(ctx context.Context, orderID string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE pending_orders SET status = 'cancelled'
		 WHERE id = $1 AND status = 'pending'`, orderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// --- Scan helpers ---

const selectOrder = `SELECT id, user_id, symbol, side, quantity, limit_price::TEXT,
       status, COALESCE(matched_order_id, ''), created_at, expires_at
  FROM pending_orders`

// pgxRow narrows pgx.Row for the scan helpers.
type pgxRow interface {
	Scan(dest ...any) error
}

func scanUser(row pgxRow) (*model.User, error) {
	var u model.User
	var cash string

	err := row.Scan(&u.ID, &u.Name, &cash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CashBalance, _ = decimal.NewFromString(cash)
	return &u, nil
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var avg string

	err := row.Scan(&p.UserID, &p.Symbol, &p.Quantity, &avg, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}
	p.AvgBuyPrice, _ = decimal.NewFromString(avg)
	return &p, nil
}

func scanOrder(row pgxRow) (*model.PendingOrder, error) {
	var o model.PendingOrder
	var limit string

	err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Quantity,
		&limit, &o.Status, &o.MatchedOrderID, &o.CreatedAt, &o.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.LimitPrice, _ = decimal.NewFromString(limit)
	return &o, nil
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]model.PendingOrder, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.PendingOrder
	for rows.Next() {
		var o model.PendingOrder
		var limit string
		if err := rows.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Quantity,
			&limit, &o.Status, &o.MatchedOrderID, &o.CreatedAt, &o.ExpiresAt); err != nil {
			return nil, err
		}
		o.LimitPrice, _ = decimal.NewFromString(limit)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
