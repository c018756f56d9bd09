package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/api"
	"github.com/stocksim/trading-engine/internal/engine"
	"github.com/stocksim/trading-engine/internal/event"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/oracle"
	"github.com/stocksim/trading-engine/internal/pricing"
	"github.com/stocksim/trading-engine/internal/risk"
	"github.com/stocksim/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires the full engine over an in-memory store behind a chi
// router mirroring the production routes.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	o := oracle.New(oracle.NewMemoryCache(time.Minute), ms)
	calc, err := pricing.NewCalculator(d(0.004))
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	exec := engine.NewExecutor(ms, o, calc, event.NopSink{})
	matcher := engine.NewMatcher(ms, exec, risk.NewChecker(calc), event.NopSink{}, 24*time.Hour)
	svc := api.NewService(ms, exec, matcher, d(1_000_000))

	r := chi.NewRouter()
	r.Post("/api/v1/users", svc.CreateUser)
	r.Post("/api/v1/trade", svc.ExecuteTrade)
	r.Post("/api/v1/orders", svc.PlaceOrder)
	r.Get("/api/v1/orders", svc.ListOrders)
	r.Delete("/api/v1/orders/{orderID}", svc.CancelOrder)
	r.Get("/api/v1/orderbook/{symbol}", svc.GetOrderBook)
	r.Get("/api/v1/portfolio/{userID}", svc.GetPortfolio)
	r.Get("/api/v1/stocks", svc.ListStocks)
	r.Get("/api/v1/stocks/{symbol}", svc.GetStock)
	r.Get("/api/v1/transactions/{userID}", svc.ListTransactions)

	return ms, r
}

func seedStock(t *testing.T, ms *store.MemoryStore, symbol string, ltp float64) {
	t.Helper()
	err := ms.UpsertStock(context.Background(), &model.Stock{
		Symbol: symbol, Name: symbol, LTP: d(ltp), LastUpdated: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createUser(t *testing.T, router chi.Router, name string) model.User {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/v1/users", api.CreateUserRequest{Name: name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: %d: %s", w.Code, w.Body.String())
	}
	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	return u
}

func TestCreateUser(t *testing.T) {
	_, router := newTestEnv(t)

	u := createUser(t, router, "alice")
	if u.ID == "" {
		t.Error("expected generated user id")
	}
	if !u.CashBalance.Equal(d(1_000_000)) {
		t.Errorf("cash = %s, want 1000000", u.CashBalance)
	}

	w := doJSON(t, router, "POST", "/api/v1/users", api.CreateUserRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty name: got %d, want 400", w.Code)
	}
}

func TestTradeEndpoint(t *testing.T) {
	ms, router := newTestEnv(t)
	seedStock(t, ms, "ACME", 100)
	u := createUser(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/trade", api.TradeRequest{
		UserID: u.ID, Symbol: "ACME", Side: "buy", Quantity: 50,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("trade: %d: %s", w.Code, w.Body.String())
	}

	var txn model.Transaction
	json.Unmarshal(w.Body.Bytes(), &txn)
	if !txn.TotalAmount.Equal(d(5020)) {
		t.Errorf("total = %s, want 5020", txn.TotalAmount)
	}

	// Error mapping.
	w = doJSON(t, router, "POST", "/api/v1/trade", api.TradeRequest{
		UserID: u.ID, Symbol: "NOPE", Side: "buy", Quantity: 1,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown symbol: got %d, want 404", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/trade", api.TradeRequest{
		UserID: u.ID, Symbol: "ACME", Side: "buy", Quantity: 1_000_000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("insufficient funds: got %d, want 400", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/v1/trade", api.TradeRequest{
		UserID: u.ID, Symbol: "ACME", Side: "hold", Quantity: 1,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad side: got %d, want 400", w.Code)
	}
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	ms, router := newTestEnv(t)
	seedStock(t, ms, "ACME", 100)
	u := createUser(t, router, "alice")

	w := doJSON(t, router, "POST", "/api/v1/orders", api.OrderRequest{
		UserID: u.ID, Symbol: "ACME", Side: "buy", Quantity: 10, LimitPrice: d(95),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("place order: %d: %s", w.Code, w.Body.String())
	}
	var res engine.PlacementResult
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Order == nil || res.Order.Status != model.OrderStatusPending {
		t.Fatalf("order should rest pending, got %+v", res.Order)
	}

	// Listed among the user's open orders.
	w = doJSON(t, router, "GET", "/api/v1/orders?user_id="+u.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list orders: %d", w.Code)
	}
	var open []model.PendingOrder
	json.Unmarshal(w.Body.Bytes(), &open)
	if len(open) != 1 || open[0].ID != res.Order.ID {
		t.Errorf("open orders = %+v, want the placed order", open)
	}

	// Visible on the book.
	w = doJSON(t, router, "GET", "/api/v1/orderbook/ACME", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("orderbook: %d", w.Code)
	}
	var book engine.OrderBook
	json.Unmarshal(w.Body.Bytes(), &book)
	if len(book.Bids) != 1 || len(book.Asks) != 0 {
		t.Errorf("book = %+v, want one bid", book)
	}

	// Cancel it.
	w = doJSON(t, router, "DELETE", "/api/v1/orders/"+res.Order.ID+"?user_id="+u.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "DELETE", "/api/v1/orders/"+res.Order.ID+"?user_id="+u.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second cancel: got %d, want 404", w.Code)
	}
}

func TestPortfolioAndTransactionsEndpoints(t *testing.T) {
	ms, router := newTestEnv(t)
	seedStock(t, ms, "ACME", 100)
	u := createUser(t, router, "alice")

	doJSON(t, router, "POST", "/api/v1/trade", api.TradeRequest{
		UserID: u.ID, Symbol: "ACME", Side: "buy", Quantity: 10,
	})

	w := doJSON(t, router, "GET", "/api/v1/portfolio/"+u.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portfolio: %d: %s", w.Code, w.Body.String())
	}
	var snap event.PortfolioUpdate
	json.Unmarshal(w.Body.Bytes(), &snap)
	if len(snap.Portfolio) != 1 || snap.Portfolio[0].Symbol != "ACME" {
		t.Errorf("portfolio = %+v, want one ACME entry", snap.Portfolio)
	}
	if !snap.CashBalance.Equal(d(998_996)) {
		t.Errorf("cash = %s, want 998996", snap.CashBalance)
	}

	w = doJSON(t, router, "GET", "/api/v1/transactions/"+u.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transactions: %d", w.Code)
	}
	var txns []model.Transaction
	json.Unmarshal(w.Body.Bytes(), &txns)
	if len(txns) != 1 {
		t.Errorf("got %d transactions, want 1", len(txns))
	}

	w = doJSON(t, router, "GET", "/api/v1/portfolio/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing user portfolio: got %d, want 404", w.Code)
	}
}

func TestStockEndpoints(t *testing.T) {
	ms, router := newTestEnv(t)
	seedStock(t, ms, "ACME", 100)
	seedStock(t, ms, "GLOBEX", 50)

	w := doJSON(t, router, "GET", "/api/v1/stocks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list stocks: %d", w.Code)
	}
	var stocks []model.Stock
	json.Unmarshal(w.Body.Bytes(), &stocks)
	if len(stocks) != 2 {
		t.Errorf("got %d stocks, want 2", len(stocks))
	}

	w = doJSON(t, router, "GET", "/api/v1/stocks/ACME", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get stock: %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/v1/stocks/NOPE", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown stock: got %d, want 404", w.Code)
	}
}
