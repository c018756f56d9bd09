package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/engine"
	"github.com/stocksim/trading-engine/internal/event"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/oracle"
	"github.com/stocksim/trading-engine/internal/pricing"
	"github.com/stocksim/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testEnv bundles the engine wiring every test needs: in-memory store,
// oracle over a memory cache, 0.4% fee calculator, recording sink.
type testEnv struct {
	store  *store.MemoryStore
	oracle *oracle.Oracle
	exec   *engine.Executor
	events *event.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	o := oracle.New(oracle.NewMemoryCache(time.Minute), ms)
	calc, err := pricing.NewCalculator(d(0.004))
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	rec := &event.Recorder{}
	return &testEnv{
		store:  ms,
		oracle: o,
		exec:   engine.NewExecutor(ms, o, calc, rec),
		events: rec,
	}
}

func (e *testEnv) seedUser(t *testing.T, id string, cash float64) {
	t.Helper()
	err := e.store.CreateUser(context.Background(), &model.User{
		ID: id, Name: id, CashBalance: d(cash), CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func (e *testEnv) seedStock(t *testing.T, symbol string, price float64) {
	t.Helper()
	err := e.store.UpsertStock(context.Background(), &model.Stock{
		Symbol: symbol, Name: symbol, LTP: d(price), LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func (e *testEnv) cash(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	u, err := e.store.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	return u.CashBalance
}

func TestExecuteMarketTrade_Buy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", 1_000_000)
	env.seedStock(t, "ACME", 100)

	txn, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 50, model.SideBuy)
	if err != nil {
		t.Fatalf("ExecuteMarketTrade: %v", err)
	}

	// 50 @ 100 with a 0.4% fee: subtotal 5000, fee 20, total 5020.
	if !txn.Price.Equal(d(100)) {
		t.Errorf("price = %s, want 100", txn.Price)
	}
	if !txn.Fee.Equal(d(20)) {
		t.Errorf("fee = %s, want 20", txn.Fee)
	}
	if !txn.TotalAmount.Equal(d(5020)) {
		t.Errorf("total = %s, want 5020", txn.TotalAmount)
	}
	if got := env.cash(t, "u1"); !got.Equal(d(994_980)) {
		t.Errorf("cash = %s, want 994980", got)
	}

	pos, err := env.store.GetPosition(ctx, "u1", "ACME")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Quantity != 50 {
		t.Errorf("qty = %d, want 50", pos.Quantity)
	}
	if !pos.AvgBuyPrice.Equal(d(100)) {
		t.Errorf("avg = %s, want 100", pos.AvgBuyPrice)
	}

	txns, _ := env.store.ListTransactions(ctx, "u1")
	if len(txns) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(txns))
	}
	if txns[0].Action != model.SideBuy {
		t.Errorf("action = %s, want buy", txns[0].Action)
	}
}

func TestExecuteMarketTrade_SecondBuyAveragesCost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", 1_000_000)
	env.seedStock(t, "ACME", 100)

	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 10, model.SideBuy); err != nil {
		t.Fatalf("first buy: %v", err)
	}

	env.oracle.Seed(ctx, "ACME", d(120))
	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 10, model.SideBuy); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	pos, _ := env.store.GetPosition(ctx, "u1", "ACME")
	if pos.Quantity != 20 {
		t.Errorf("qty = %d, want 20", pos.Quantity)
	}
	// (10*100 + 10*120) / 20 = 110, fees excluded.
	if !pos.AvgBuyPrice.Equal(d(110)) {
		t.Errorf("avg = %s, want 110", pos.AvgBuyPrice)
	}
}

func TestExecuteMarketTrade_Sell(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", 1_000_000)
	env.seedStock(t, "ACME", 100)

	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 50, model.SideBuy); err != nil {
		t.Fatalf("buy: %v", err)
	}

	env.oracle.Seed(ctx, "ACME", d(200))
	txn, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 30, model.SideSell)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	// 30 @ 200 with a 0.4% fee: subtotal 6000, fee 24, proceeds 5976.
	if !txn.Fee.Equal(d(24)) {
		t.Errorf("fee = %s, want 24", txn.Fee)
	}
	if !txn.TotalAmount.Equal(d(5976)) {
		t.Errorf("proceeds = %s, want 5976", txn.TotalAmount)
	}
	if got := env.cash(t, "u1"); !got.Equal(d(1_000_956)) {
		t.Errorf("cash = %s, want 1000956", got)
	}

	// Partial sell keeps the cost basis.
	pos, _ := env.store.GetPosition(ctx, "u1", "ACME")
	if pos.Quantity != 20 {
		t.Errorf("qty = %d, want 20", pos.Quantity)
	}
	if !pos.AvgBuyPrice.Equal(d(100)) {
		t.Errorf("avg = %s, want 100 (unchanged on sell)", pos.AvgBuyPrice)
	}
}

func TestExecuteMarketTrade_SellAllDeletesPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", 1_000_000)
	env.seedStock(t, "ACME", 100)

	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 10, model.SideBuy); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 10, model.SideSell); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if _, err := env.store.GetPosition(ctx, "u1", "ACME"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected position row deleted, got %v", err)
	}
}

func TestExecuteMarketTrade_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", 5000)
	env.seedStock(t, "ACME", 100)

	// 50 @ 100 needs 5020 with the fee; 5000 cash is not enough.
	_, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 50, model.SideBuy)
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Nothing persisted.
	if got := env.cash(t, "u1"); !got.Equal(d(5000)) {
		t.Errorf("cash = %s, want 5000 untouched", got)
	}
	if _, err := env.store.GetPosition(ctx, "u1", "ACME"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected no position, got %v", err)
	}
	txns, _ := env.store.ListTransactions(ctx, "u1")
	if len(txns) != 0 {
		t.Errorf("ledger has %d entries, want 0", len(txns))
	}
}

func TestExecuteMarketTrade_InsufficientShares(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", 1_000_000)
	env.seedStock(t, "ACME", 100)

	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 5, model.SideBuy); err != nil {
		t.Fatalf("buy: %v", err)
	}

	_, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 10, model.SideSell)
	if !errors.Is(err, model.ErrInsufficientShares) {
		t.Errorf("oversell: expected ErrInsufficientShares, got %v", err)
	}

	_, err = env.exec.ExecuteMarketTrade(ctx, "u1", "OTHER", 1, model.SideSell)
	if !errors.Is(err, model.ErrSymbolNotFound) {
		t.Errorf("unknown symbol sell: expected ErrSymbolNotFound, got %v", err)
	}
}

func TestExecuteMarketTrade_UnknownSymbol(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", 1_000_000)

	_, err := env.exec.ExecuteMarketTrade(context.Background(), "u1", "NOPE", 1, model.SideBuy)
	if !errors.Is(err, model.ErrSymbolNotFound) {
		t.Errorf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestExecuteMarketTrade_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", 1_000_000)
	env.seedStock(t, "ACME", 100)
	ctx := context.Background()

	var verr *model.ValidationError
	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 0, model.SideBuy); !errors.As(err, &verr) {
		t.Errorf("zero qty: expected ValidationError, got %v", err)
	}
	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", -5, model.SideBuy); !errors.As(err, &verr) {
		t.Errorf("negative qty: expected ValidationError, got %v", err)
	}
	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 1, model.Side("short")); !errors.As(err, &verr) {
		t.Errorf("bad side: expected ValidationError, got %v", err)
	}
}

func TestExecuteMarketTrade_EmitsPortfolioUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, "u1", 1_000_000)
	env.seedStock(t, "ACME", 100)

	if _, err := env.exec.ExecuteMarketTrade(ctx, "u1", "ACME", 10, model.SideBuy); err != nil {
		t.Fatalf("buy: %v", err)
	}

	updates := env.events.ByEvent(event.PortfolioUpdated)
	if len(updates) != 1 {
		t.Fatalf("got %d portfolio updates, want 1", len(updates))
	}
	if updates[0].UserID != "u1" {
		t.Errorf("update for %s, want u1", updates[0].UserID)
	}
	pu, ok := updates[0].Payload.(*event.PortfolioUpdate)
	if !ok {
		t.Fatalf("payload type %T", updates[0].Payload)
	}
	if !pu.CashBalance.Equal(d(998_996)) {
		t.Errorf("cash in update = %s, want 998996", pu.CashBalance)
	}
	if len(pu.Portfolio) != 1 || pu.Portfolio[0].Symbol != "ACME" {
		t.Errorf("portfolio = %+v, want one ACME entry", pu.Portfolio)
	}
}
