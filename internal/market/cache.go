package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/marketmind/decisioncore/internal/domain"
)

// Volatile markets go stale fast; calm ones barely move.
var defaultRegimeTTL = map[domain.MarketRegime]time.Duration{
	domain.RegimeVolatile: 2 * time.Minute,
	domain.RegimeTrending: 5 * time.Minute,
	domain.RegimeRanging:  7 * time.Minute,
	domain.RegimeCalm:     10 * time.Minute,
}

// fallbackTTL applies to UNKNOWN and any unlisted regime.
const fallbackTTL = 2 * time.Minute

const cacheOpTimeout = 500 * time.Millisecond

// QuoteCache is a Redis cache-aside layer for market quotes, keyed by symbol,
// with a TTL chosen from the regime observed when the entry was written.
// A nil cache is valid and behaves as a permanent miss.
type QuoteCache struct {
	client    *redis.Client
	regimeTTL map[domain.MarketRegime]time.Duration
}

type quoteCacheEntry struct {
	Quote    Quote               `json:"quote"`
	Regime   domain.MarketRegime `json:"regime"`
	CachedAt time.Time           `json:"cached_at"`
}

// NewQuoteCache creates the cache layer. Passing a nil client disables
// caching. ttlOverrides replaces the per-regime defaults where set.
func NewQuoteCache(client *redis.Client, ttlOverrides map[domain.MarketRegime]time.Duration) *QuoteCache {
	if client == nil {
		return nil
	}

	ttl := make(map[domain.MarketRegime]time.Duration, len(defaultRegimeTTL))
	for regime, d := range defaultRegimeTTL {
		ttl[regime] = d
	}
	for regime, d := range ttlOverrides {
		if d > 0 {
			ttl[regime] = d
		}
	}

	return &QuoteCache{client: client, regimeTTL: ttl}
}

// Get retrieves a cached quote. Any Redis error counts as a miss.
func (c *QuoteCache) Get(ctx context.Context, symbol string) (*Quote, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	key := c.buildKey(symbol)

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		return nil, false
	}

	var entry quoteCacheEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached quote")
		return nil, false
	}

	log.Debug().
		Str("symbol", symbol).
		Str("regime", string(entry.Regime)).
		Time("cached_at", entry.CachedAt).
		Msg("Cache hit for quote")

	return &entry.Quote, true
}

// Set stores a quote with the TTL for the regime it was classified under.
// Cache failures are logged, never fatal.
func (c *QuoteCache) Set(ctx context.Context, symbol string, quote *Quote, regime domain.MarketRegime) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	key := c.buildKey(symbol)
	entry := quoteCacheEntry{
		Quote:    *quote,
		Regime:   regime,
		CachedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal quote entry: %w", err)
	}

	ttl := c.TTLFor(regime)

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache quote")
		return err
	}

	log.Debug().
		Str("symbol", symbol).
		Str("regime", string(regime)).
		Dur("ttl", ttl).
		Msg("Cached quote")

	return nil
}

// TTLFor resolves the TTL for a regime.
func (c *QuoteCache) TTLFor(regime domain.MarketRegime) time.Duration {
	if c != nil {
		if d, ok := c.regimeTTL[regime]; ok {
			return d
		}
	}
	return fallbackTTL
}

// Health pings Redis.
func (c *QuoteCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

func (c *QuoteCache) buildKey(symbol string) string {
	return fmt.Sprintf("decisioncore:quote:%s", symbol)
}
