package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stocksim/trading-engine/internal/api"
	"github.com/stocksim/trading-engine/internal/config"
	"github.com/stocksim/trading-engine/internal/engine"
	"github.com/stocksim/trading-engine/internal/event"
	"github.com/stocksim/trading-engine/internal/feed"
	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/oracle"
	"github.com/stocksim/trading-engine/internal/pricing"
	"github.com/stocksim/trading-engine/internal/risk"
	"github.com/stocksim/trading-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price oracle ---
	var cache oracle.Cache
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		cache = oracle.NewRedisCache(rdb, cfg.PriceTTL)
		slog.Info("Redis price cache enabled", "ttl", cfg.PriceTTL)
	} else {
		cache = oracle.NewMemoryCache(cfg.PriceTTL)
	}
	prices := oracle.New(cache, st)

	// --- WebSocket hub ---
	hub := event.NewHub()
	go hub.Run()

	// --- Engine ---
	calc, err := pricing.NewCalculator(cfg.FeeRate)
	if err != nil {
		slog.Error("invalid fee rate", "err", err)
		os.Exit(1)
	}
	exec := engine.NewExecutor(st, prices, calc, hub)
	matcher := engine.NewMatcher(st, exec, risk.NewChecker(calc), hub, cfg.OrderExpiry)
	sweeper := engine.NewSweeper(st, exec, prices, hub, logger)

	// --- Price feed + sweep loop ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep := func(ctx context.Context) {
		if err := sweeper.Sweep(ctx); err != nil {
			slog.Error("sweep failed", "err", err)
		}
	}
	if cfg.FeedURL != "" {
		updater := feed.NewUpdater(feed.NewHTTPFeed(cfg.FeedURL, nil), st, prices, sweep, logger)
		go updater.Run(ctx, cfg.FeedInterval)
		slog.Info("price feed enabled", "url", cfg.FeedURL, "interval", cfg.FeedInterval)
	} else {
		// No upstream feed: still sweep so limit orders expire and
		// fill when prices change through other paths.
		go func() {
			ticker := time.NewTicker(cfg.FeedInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					sweep(ctx)
				}
			}
		}()
	}

	// --- HTTP service ---
	svc := api.NewService(st, exec, matcher, cfg.StartingCash)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for per-user portfolio and order events.
		r.Get("/ws", hub.HandleWS)

		// Accounts.
		r.Post("/users", svc.CreateUser)

		// Market data.
		r.Get("/stocks", svc.ListStocks)
		r.Get("/stocks/{symbol}", svc.GetStock)
		r.Get("/orderbook/{symbol}", svc.GetOrderBook)

		// Trade execution.
		r.Post("/trade", svc.ExecuteTrade)
		r.Post("/orders", svc.PlaceOrder)
		r.Get("/orders", svc.ListOrders)
		r.Delete("/orders/{orderID}", svc.CancelOrder)

		// Portfolio queries.
		r.Get("/portfolio/{userID}", svc.GetPortfolio)
		r.Get("/transactions/{userID}", svc.ListTransactions)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	slog.Info("shutting down trading-engine...")
	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
