// Package oracle exposes the last-traded price per symbol behind a
// short-TTL cache. The cache is advisory: a miss falls back to the
// ledger-stored quote and reseeds the cache. Staleness is bounded by
// the TTL and never violates settlement invariants because prices are
// only read at the moment of settlement.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
	"github.com/stocksim/trading-engine/internal/store"
)

// Cache is the TTL price cache in front of the store. Implementations:
// RedisCache (production) and MemoryCache (tests, single-node dev).
type Cache interface {
	// Get returns the cached price and whether it was present and fresh.
	Get(ctx context.Context, symbol string) (decimal.Decimal, bool)

	// Set stores a price under the cache's TTL.
	Set(ctx context.Context, symbol string, price decimal.Decimal)
}

// Oracle resolves current prices: cache first, store fallback.
type Oracle struct {
	cache  Cache
	stocks StockReader
}

// StockReader is the slice of the store the oracle reads on a cache miss.
type StockReader interface {
	GetStock(ctx context.Context, symbol string) (*model.Stock, error)
}

// New creates an oracle over the given cache and quote source.
func New(cache Cache, stocks StockReader) *Oracle {
	return &Oracle{cache: cache, stocks: stocks}
}

// GetPrice returns the current price for symbol. On a cache miss it reads
// the stored last-traded price and reseeds the cache. Fails with
// model.ErrPriceUnavailable when no quote exists at all.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := o.cache.Get(ctx, symbol); ok {
		return price, nil
	}

	st, err := o.stocks.GetStock(ctx, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrPriceUnavailable, symbol)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("price lookup %s: %w", symbol, err)
	}

	o.cache.Set(ctx, symbol, st.LTP)
	return st.LTP, nil
}

// Seed refreshes the cached price, typically on every feed tick.
func (o *Oracle) Seed(ctx context.Context, symbol string, price decimal.Decimal) {
	o.cache.Set(ctx, symbol, price)
}
