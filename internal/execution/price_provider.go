package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mselser95/atomic-exec/pkg/cache"
)

// PriceProvider is a cache-first BBO and order-book retriever with TTL
// invalidation. It never holds its own connections; every fetch
// defers to the VenueClient passed in.
type PriceProvider struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// PriceProviderConfig configures a PriceProvider.
type PriceProviderConfig struct {
	Cache  cache.Cache
	TTL    time.Duration
	Logger *zap.Logger
}

// NewPriceProvider creates a PriceProvider. If cfg.Cache is nil, a small
// in-process ristretto cache is created.
func NewPriceProvider(cfg *PriceProviderConfig) (*PriceProvider, error) {
	c := cfg.Cache
	if c == nil {
		var err error
		c, err = cache.NewRistrettoCache(&cache.RistrettoConfig{
			NumCounters: 10000,
			MaxCost:     1000,
			BufferItems: 64,
			Logger:      cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create default price cache: %w", err)
		}
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 250 * time.Millisecond
	}

	return &PriceProvider{cache: c, ttl: ttl, logger: cfg.Logger}, nil
}

type bboEntry struct {
	bid, ask decimal.Decimal
}

func bboKey(venue VenueClient, symbol string) string {
	return "bbo:" + venue.Name() + ":" + symbol
}

func bookKey(venue VenueClient, symbol string, levels int) string {
	return fmt.Sprintf("book:%s:%s:%d", venue.Name(), symbol, levels)
}

// GetBBO returns the best bid/ask, serving from cache when fresh.
func (p *PriceProvider) GetBBO(ctx context.Context, venue VenueClient, symbol string) (bid, ask decimal.Decimal, err error) {
	key := bboKey(venue, symbol)
	if cached, ok := p.cache.Get(key); ok {
		entry := cached.(bboEntry)
		return entry.bid, entry.ask, nil
	}

	bid, ask, err = venue.GetBBO(ctx, symbol)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("get bbo %s %s: %w", venue.Name(), symbol, err)
	}

	p.cache.Set(key, bboEntry{bid: bid, ask: ask}, p.ttl)
	return bid, ask, nil
}

// InvalidateBBO forces the next GetBBO call to refetch from the venue.
func (p *PriceProvider) InvalidateBBO(venue VenueClient, symbol string) {
	p.cache.Delete(bboKey(venue, symbol))
}

// GetOrderBook returns a depth snapshot, serving from cache when fresh.
func (p *PriceProvider) GetOrderBook(ctx context.Context, venue VenueClient, symbol string, levels int) (*OrderBook, error) {
	key := bookKey(venue, symbol, levels)
	if cached, ok := p.cache.Get(key); ok {
		return cached.(*OrderBook), nil
	}

	book, err := venue.GetOrderBook(ctx, symbol, levels)
	if err != nil {
		return nil, fmt.Errorf("get order book %s %s: %w", venue.Name(), symbol, err)
	}

	p.cache.Set(key, book, p.ttl)
	return book, nil
}
