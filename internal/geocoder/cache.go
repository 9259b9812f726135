package geocoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stwalsh4118/reach/internal/logger"
	"github.com/stwalsh4118/reach/internal/metrics"
)

const cacheKeyPrefix = "reach:geocode:"

// Cache stores geocode results by normalized address.
type Cache interface {
	Get(ctx context.Context, address string) (*Result, bool, error)
	Set(ctx context.Context, address string, result *Result) error
}

// RedisCache is a Cache backed by Redis string keys with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache. A zero ttl keeps entries forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// generateKey hashes the normalized address so keys stay bounded in length.
func (c *RedisCache) generateKey(address string) string {
	sum := sha256.Sum256([]byte(NormalizeAddress(address)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached result, or false on a miss.
func (c *RedisCache) Get(ctx context.Context, address string) (*Result, bool, error) {
	data, err := c.client.Get(ctx, c.generateKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("geocode cache get: %w", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("geocode cache decode: %w", err)
	}
	return &result, true, nil
}

// Set stores result under the normalized address.
func (c *RedisCache) Set(ctx context.Context, address string, result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("geocode cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.generateKey(address), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("geocode cache set: %w", err)
	}
	return nil
}

// CachedGeocoder consults a Cache before delegating to another Geocoder.
// Cache failures are logged and never fail a lookup; misses are not cached.
type CachedGeocoder struct {
	next  Geocoder
	cache Cache
	log   *logger.Logger
}

// NewCachedGeocoder wraps next with cache.
func NewCachedGeocoder(next Geocoder, cache Cache, log *logger.Logger) *CachedGeocoder {
	return &CachedGeocoder{next: next, cache: cache, log: log}
}

// Geocode implements Geocoder.
func (g *CachedGeocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	cached, ok, err := g.cache.Get(ctx, address)
	if err != nil {
		g.log.Warn("Geocode cache read failed", map[string]interface{}{
			"address": address,
			"error":   err.Error(),
		})
	}
	if ok {
		metrics.GeocodeCacheHits.Inc()
		return cached, nil
	}

	result, err := g.next.Geocode(ctx, address)
	if err != nil {
		return nil, err
	}

	if err := g.cache.Set(ctx, address, result); err != nil {
		g.log.Warn("Geocode cache write failed", map[string]interface{}{
			"address": address,
			"error":   err.Error(),
		})
	}
	return result, nil
}
