// Package feed pulls market quotes from an upstream source and applies
// them to the engine: stock rows are refreshed, the price oracle is
// reseeded, and the pending-order sweep runs against the new prices.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// Quote is one upstream price observation.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name,omitempty"`
	Price  decimal.Decimal `json:"price"`
	Open   decimal.Decimal `json:"open,omitempty"`
	High   decimal.Decimal `json:"high,omitempty"`
	Low    decimal.Decimal `json:"low,omitempty"`
}

// Feed fetches the current quote set.
type Feed interface {
	Fetch(ctx context.Context) ([]Quote, error)
}

// HTTPFeed reads quotes as a JSON array from a single URL.
type HTTPFeed struct {
	url    string
	client *http.Client
}

func NewHTTPFeed(url string, client *http.Client) *HTTPFeed {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFeed{url: url, client: client}
}

func (f *HTTPFeed) Fetch(ctx context.Context) ([]Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch quotes: unexpected status %d", resp.StatusCode)
	}

	var quotes []Quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return quotes, nil
}

// Seeder reseeds a cached price after a feed tick.
type Seeder interface {
	Seed(ctx context.Context, symbol string, price decimal.Decimal)
}

// Updater drives the feed loop: fetch, persist, reseed, then hand off to
// the post-tick hook (the pending-order sweep).
type Updater struct {
	feed   Feed
	store  store.Store
	seeder Seeder
	onTick func(ctx context.Context)
	log    *slog.Logger
}

func NewUpdater(f Feed, st store.Store, seeder Seeder, onTick func(ctx context.Context), log *slog.Logger) *Updater {
	return &Updater{feed: f, store: st, seeder: seeder, onTick: onTick, log: log}
}

// Run ticks every interval until ctx is cancelled. The first tick fires
// immediately so the engine has prices before the first request arrives.
func (u *Updater) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	u.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.tick(ctx)
		}
	}
}

func (u *Updater) tick(ctx context.Context) {
	quotes, err := u.feed.Fetch(ctx)
	if err != nil {
		u.log.Error("price feed fetch failed", "error", err)
		return
	}

	now := time.Now()
	for _, q := range quotes {
		if err := model.ValidateSymbol(q.Symbol); err != nil {
			u.log.Warn("price feed: skipping quote", "symbol", q.Symbol, "error", err)
			continue
		}
		stock := &model.Stock{
			Symbol:      q.Symbol,
			Name:        q.Name,
			LTP:         q.Price,
			Open:        q.Open,
			High:        q.High,
			Low:         q.Low,
			LastUpdated: now,
		}
		if err := u.store.UpsertStock(ctx, stock); err != nil {
			u.log.Error("price feed: upsert failed", "symbol", q.Symbol, "error", err)
			continue
		}
		u.seeder.Seed(ctx, q.Symbol, q.Price)
	}
	u.log.Debug("price feed tick applied", "quotes", len(quotes))

	if u.onTick != nil {
		u.onTick(ctx)
	}
}
