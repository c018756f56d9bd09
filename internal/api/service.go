// Package api provides the HTTP handlers for trading: market trades,
// limit orders, order book and portfolio queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/engine"
	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// Service handles trading operations over HTTP. All settlement
// concurrency control lives in the store layer; handlers are stateless.
type Service struct {
	store        store.Store
	exec         *engine.Executor
	matcher      *engine.Matcher
	startingCash decimal.Decimal
}

// NewService creates the HTTP service. startingCash is credited to every
// new account.
func NewService(st store.Store, exec *engine.Executor, matcher *engine.Matcher, startingCash decimal.Decimal) *Service {
	return &Service{
		store:        st,
		exec:         exec,
		matcher:      matcher,
		startingCash: startingCash,
	}
}

// --- Request/Response types ---

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Name string `json:"name"`
}

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	UserID   string `json:"user_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"` // "buy" or "sell"
	Quantity int64  `json:"quantity"`
}

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   int64           `json:"quantity"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// --- HTTP Handlers ---

// CreateUser handles POST /api/v1/users
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	user := &model.User{
		ID:          uuid.New().String(),
		Name:        req.Name,
		CashBalance: s.startingCash,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	slog.Info("user created", "id", user.ID, "name", user.Name)

	writeJSON(w, http.StatusCreated, user)
}

// ExecuteTrade handles POST /api/v1/trade
// Executes a market order at the current price and settles immediately.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	txn, err := s.exec.ExecuteMarketTrade(r.Context(), req.UserID, req.Symbol, req.Quantity, model.Side(req.Side))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("trade executed",
		"transaction_id", txn.ID,
		"user", req.UserID,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"price", txn.Price.String(),
		"total", txn.TotalAmount.String(),
	)

	writeJSON(w, http.StatusOK, txn)
}

// PlaceOrder handles POST /api/v1/orders
// Places a limit order; it either matches immediately or rests on the book.
func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	res, err := s.matcher.PlaceLimitOrder(r.Context(), req.UserID, req.Symbol, req.Quantity, req.LimitPrice, model.Side(req.Side))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("order placed",
		"order_id", res.Order.ID,
		"user", req.UserID,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Quantity,
		"limit", req.LimitPrice.String(),
		"matched", res.Transaction != nil,
	)

	writeJSON(w, http.StatusCreated, res)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
// The user_id query parameter must name the order's owner.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	order, err := s.matcher.CancelPendingOrder(r.Context(), userID, orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("order cancelled", "order_id", orderID, "user", userID)

	writeJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders?user_id=<id>
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	orders, err := s.store.ListPendingOrdersByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.PendingOrder{}
	}

	writeJSON(w, http.StatusOK, orders)
}

// GetOrderBook handles GET /api/v1/orderbook/{symbol}
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	book, err := s.matcher.Book(r.Context(), symbol)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if book.Bids == nil {
		book.Bids = []model.PendingOrder{}
	}
	if book.Asks == nil {
		book.Asks = []model.PendingOrder{}
	}

	writeJSON(w, http.StatusOK, book)
}

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns positions marked to the current price, plus cash and P&L.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	snapshot, err := s.exec.PortfolioSnapshot(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// ListStocks handles GET /api/v1/stocks
func (s *Service) ListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.store.ListStocks(r.Context())
	if err != nil {
		writeError(w, "failed to list stocks", http.StatusInternalServerError)
		return
	}
	if stocks == nil {
		stocks = []model.Stock{}
	}

	writeJSON(w, http.StatusOK, stocks)
}

// GetStock handles GET /api/v1/stocks/{symbol}
func (s *Service) GetStock(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	stock, err := s.store.GetStock(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "symbol not found: "+symbol, http.StatusNotFound)
			return
		}
		writeError(w, "failed to load stock", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stock)
}

// ListTransactions handles GET /api/v1/transactions/{userID}
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := s.store.ListTransactions(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	writeJSON(w, http.StatusOK, txns)
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, verr.Message, http.StatusBadRequest)
	case errors.Is(err, model.ErrSymbolNotFound),
		errors.Is(err, model.ErrOrderNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientShares):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrPriceUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, model.ErrSettlementConflict):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "error", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
