package repository

import (
	"context"
	"strings"
	"time"

	"FinAlloc/internal/domain/models"
	domrepo "FinAlloc/internal/domain/repository"
	"FinAlloc/pkg/cache"
)

const keyPrefix = "md"

// CachedMarketData memoizes MarketData reads. Capacity and eviction belong to
// the injected cache. Values that cannot be JSON encoded (NaN cells) are not
// cached and fall through to the source on every call.
type CachedMarketData struct {
	src   domrepo.MarketData
	cache cache.Service
	ttl   time.Duration
}

func NewCachedMarketData(src domrepo.MarketData, c cache.Service, ttl time.Duration) *CachedMarketData {
	return &CachedMarketData{src: src, cache: c, ttl: ttl}
}

func symbolsKey(symbols []string) string {
	return cache.HashKey(strings.Join(symbols, ","))
}

func (m *CachedMarketData) Bars(ctx context.Context, symbols []string, from, to time.Time) ([]models.PriceBar, error) {
	key := cache.GenerateKeyWithParams(keyPrefix, "bars", symbolsKey(symbols), from.Unix(), to.Unix())
	return cache.GetOrLoad(ctx, m.cache, key, m.ttl, func(ctx context.Context) ([]models.PriceBar, error) {
		return m.src.Bars(ctx, symbols, from, to)
	})
}

func (m *CachedMarketData) IntradayBars(ctx context.Context, symbols []string, from, to time.Time, tf domrepo.Timeframe) ([]models.PriceBar, error) {
	key := cache.GenerateKeyWithParams(keyPrefix, "intraday", tf, symbolsKey(symbols), from.Unix(), to.Unix())
	return cache.GetOrLoad(ctx, m.cache, key, m.ttl, func(ctx context.Context) ([]models.PriceBar, error) {
		return m.src.IntradayBars(ctx, symbols, from, to, tf)
	})
}

func (m *CachedMarketData) Fundamentals(ctx context.Context, symbols []string) ([]models.Fundamentals, error) {
	key := cache.GenerateKeyWithParams(keyPrefix, "funds", symbolsKey(symbols))
	return cache.GetOrLoad(ctx, m.cache, key, m.ttl, func(ctx context.Context) ([]models.Fundamentals, error) {
		return m.src.Fundamentals(ctx, symbols)
	})
}

func (m *CachedMarketData) Meta(ctx context.Context) ([]models.SymbolMeta, error) {
	return cache.GetOrLoad(ctx, m.cache, cache.GenerateKey(keyPrefix, "meta"), m.ttl, m.src.Meta)
}

// Invalidate drops every cached read, used after ingestion writes new bars.
func (m *CachedMarketData) Invalidate(ctx context.Context) error {
	return m.cache.DeleteByPattern(ctx, keyPrefix+":*")
}

var _ domrepo.MarketData = (*CachedMarketData)(nil)
