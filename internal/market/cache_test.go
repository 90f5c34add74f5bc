package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketmind/decisioncore/internal/domain"
)

func newTestCache(t *testing.T) (*QuoteCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewQuoteCache(client, nil), mr
}

func TestQuoteCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	quote := &Quote{
		Symbol:              "NIFTY50",
		LatestClose:         200.5,
		RecentClosingPrices: []float64{200.5, 200.0},
		FetchedAt:           time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, cache.Set(ctx, "NIFTY50", quote, domain.RegimeTrending))

	got, ok := cache.Get(ctx, "NIFTY50")
	require.True(t, ok)
	assert.Equal(t, quote.LatestClose, got.LatestClose)
	assert.Equal(t, quote.RecentClosingPrices, got.RecentClosingPrices)
}

func TestQuoteCacheMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, ok := cache.Get(context.Background(), "UNSEEN")
	assert.False(t, ok)
}

func TestQuoteCachePerRegimeTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	quote := &Quote{Symbol: "NIFTY50", LatestClose: 200.0}

	require.NoError(t, cache.Set(ctx, "NIFTY50", quote, domain.RegimeVolatile))
	assert.Equal(t, 2*time.Minute, mr.TTL("decisioncore:quote:NIFTY50"))

	require.NoError(t, cache.Set(ctx, "NIFTY50", quote, domain.RegimeCalm))
	assert.Equal(t, 10*time.Minute, mr.TTL("decisioncore:quote:NIFTY50"))
}

func TestQuoteCacheExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "NIFTY50", &Quote{Symbol: "NIFTY50"}, domain.RegimeVolatile))
	mr.FastForward(3 * time.Minute)

	_, ok := cache.Get(ctx, "NIFTY50")
	assert.False(t, ok)
}

func TestQuoteCacheTTLFor(t *testing.T) {
	cache, _ := newTestCache(t)

	assert.Equal(t, 5*time.Minute, cache.TTLFor(domain.RegimeTrending))
	assert.Equal(t, 7*time.Minute, cache.TTLFor(domain.RegimeRanging))
	assert.Equal(t, fallbackTTL, cache.TTLFor(domain.RegimeUnknown))
}

func TestQuoteCacheOverrides(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewQuoteCache(client, map[domain.MarketRegime]time.Duration{
		domain.RegimeVolatile: 30 * time.Second,
	})

	assert.Equal(t, 30*time.Second, cache.TTLFor(domain.RegimeVolatile))
	assert.Equal(t, 5*time.Minute, cache.TTLFor(domain.RegimeTrending))
}

func TestQuoteCacheNilSafety(t *testing.T) {
	var cache *QuoteCache

	_, ok := cache.Get(context.Background(), "NIFTY50")
	assert.False(t, ok)
	assert.Error(t, cache.Set(context.Background(), "NIFTY50", &Quote{}, domain.RegimeCalm))
	assert.Error(t, cache.Health(context.Background()))

	assert.Nil(t, NewQuoteCache(nil, nil))
}
