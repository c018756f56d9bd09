package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// RunInTx takes the store lock, applies the callback to a deep copy of the
// state, and swaps the copy in only when the callback succeeds. A failing
// callback therefore leaves no trace, matching the atomicity the Postgres
// implementation gets from real transactions.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	users     map[string]*model.User
	stocks    map[string]*model.Stock
	positions map[string]map[string]*model.Position // userID → symbol → position
	orders    map[string]*model.PendingOrder
	ledger    []model.Transaction
}

func newMemState() *memState {
	return &memState{
		users:     make(map[string]*model.User),
		stocks:    make(map[string]*model.Stock),
		positions: make(map[string]map[string]*model.Position),
		orders:    make(map[string]*model.PendingOrder),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, u := range s.users {
		cu := *u
		c.users[id] = &cu
	}
	for sym, st := range s.stocks {
		cs := *st
		c.stocks[sym] = &cs
	}
	for uid, bySym := range s.positions {
		c.positions[uid] = make(map[string]*model.Position, len(bySym))
		for sym, p := range bySym {
			cp := *p
			c.positions[uid][sym] = &cp
		}
	}
	for id, o := range s.orders {
		co := *o
		c.orders[id] = &co
	}
	c.ledger = append([]model.Transaction(nil), s.ledger...)
	return c
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cu := *u
	s.state.users[u.ID] = &cu
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.state.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cu := *u
	return &cu, nil
}

func (s *MemoryStore) UpsertStock(_ context.Context, st *model.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := *st
	s.state.stocks[st.Symbol] = &cs
	return nil
}

func (s *MemoryStore) GetStock(_ context.Context, symbol string) (*model.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.stocks[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cs := *st
	return &cs, nil
}

func (s *MemoryStore) ListStocks(_ context.Context) ([]model.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stocks := make([]model.Stock, 0, len(s.state.stocks))
	for _, st := range s.state.stocks {
		stocks = append(stocks, *st)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Symbol < stocks[j].Symbol })
	return stocks, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID, symbol string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.positions[userID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var positions []model.Position
	for _, p := range s.state.positions[userID] {
		positions = append(positions, *p)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

func (s *MemoryStore) CreatePendingOrder(_ context.Context, o *model.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	co := *o
	s.state.orders[o.ID] = &co
	return nil
}

func (s *MemoryStore) GetPendingOrder(_ context.Context, id string) (*model.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	co := *o
	return &co, nil
}

func (s *MemoryStore) ListPendingOrders(_ context.Context) ([]model.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []model.PendingOrder
	for _, o := range s.state.orders {
		if o.Status == model.OrderStatusPending {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) ListPendingOrdersByUser(_ context.Context, userID string) ([]model.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []model.PendingOrder
	for _, o := range s.state.orders {
		if o.UserID == userID && o.Status == model.OrderStatusPending {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) ListPendingOrdersBySymbol(_ context.Context, symbol string, side model.Side) ([]model.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []model.PendingOrder
	for _, o := range s.state.orders {
		if o.Symbol == symbol && o.Side == side && o.Status == model.OrderStatusPending {
			orders = append(orders, *o)
		}
	}
	sortBook(orders, side)
	return orders, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txns []model.Transaction
	for _, t := range s.state.ledger {
		if t.UserID == userID {
			txns = append(txns, t)
		}
	}
	return txns, nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staging := s.state.clone()
	if err := fn(&memTx{state: staging}); err != nil {
		return err
	}
	s.state = staging
	return nil
}

// sortBook orders one side of a book best-price-first with time tiebreak:
// highest bid first, lowest ask first.
func sortBook(orders []model.PendingOrder, side model.Side) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.LimitPrice.Equal(b.LimitPrice) {
			if side == model.SideBuy {
				return a.LimitPrice.GreaterThan(b.LimitPrice)
			}
			return a.LimitPrice.LessThan(b.LimitPrice)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// memTx mutates a staged copy of the store state. The parent lock is held
// while the callback runs, so no further synchronization is needed.
type memTx struct {
	state *memState
}

func (t *memTx) GetUserForUpdate(_ context.Context, id string) (*model.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cu := *u
	return &cu, nil
}

func (t *memTx) SetUserCash(_ context.Context, id string, balance decimal.Decimal) error {
	u, ok := t.state.users[id]
	if !ok {
		return ErrNotFound
	}
	u.CashBalance = balance
	return nil
}

func (t *memTx) GetPositionForUpdate(_ context.Context, userID, symbol string) (*model.Position, error) {
	p, ok := t.state.positions[userID][symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpsertPosition(_ context.Context, p *model.Position) error {
	bySym, ok := t.state.positions[p.UserID]
	if !ok {
		bySym = make(map[string]*model.Position)
		t.state.positions[p.UserID] = bySym
	}
	cp := *p
	bySym[p.Symbol] = &cp
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, userID, symbol string) error {
	delete(t.state.positions[userID], symbol)
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *model.Transaction) error {
	t.state.ledger = append(t.state.ledger, *txn)
	return nil
}

func (t *memTx) BestMatch(_ context.Context, incoming *model.PendingOrder) (*model.PendingOrder, error) {
	opposite := incoming.Side.Opposite()

	var candidates []model.PendingOrder
	for _, o := range t.state.orders {
		if o.Symbol != incoming.Symbol || o.Side != opposite || o.Status != model.OrderStatusPending {
			continue
		}
		if o.UserID == incoming.UserID {
			continue // self-trade prevention
		}
		if !crosses(incoming, o) {
			continue
		}
		candidates = append(candidates, *o)
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}

	// Best for the incoming order: cheapest ask for a buy, richest bid for
	// a sell. sortBook already gives exactly that ordering per side.
	sortBook(candidates, opposite)
	best := candidates[0]
	return &best, nil
}

func (t *memTx) MarkOrderExecuted(_ context.Context, orderID, matchedOrderID string) error {
	o, ok := t.state.orders[orderID]
	if !ok || o.Status != model.OrderStatusPending {
		return ErrConflict
	}
	o.Status = model.OrderStatusExecuted
	o.MatchedOrderID = matchedOrderID
	return nil
}

func (t *memTx) MarkOrderCancelled(_ context.Context, orderID string) error {
	o, ok := t.state.orders[orderID]
	if !ok || o.Status != model.OrderStatusPending {
		return ErrConflict
	}
	o.Status = model.OrderStatusCancelled
	return nil
}

// crosses reports whether a resting order's limit is compatible with the
// incoming order's limit: sellLimit ≤ buyLimit in both directions.
func crosses(incoming *model.PendingOrder, resting *model.PendingOrder) bool {
	if incoming.Side == model.SideBuy {
		return resting.LimitPrice.LessThanOrEqual(incoming.LimitPrice)
	}
	return resting.LimitPrice.GreaterThanOrEqual(incoming.LimitPrice)
}
