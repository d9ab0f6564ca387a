package gate

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fongpn/fmfv6/internal/obs"
)

const addressKeyPrefix = "gate:addr:"

// AddressCache is a Redis-backed cache of positive allowed-address lookups.
// Only hits are cached: a miss always falls through to the registry, so an
// approval becomes visible no later than the registry row itself. Cache
// errors degrade to direct store reads.
type AddressCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAddressCache(addr, password string, db int, ttl time.Duration) *AddressCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AddressCache{client: rdb, ttl: ttl}
}

func (c *AddressCache) contains(ctx context.Context, address string) bool {
	_, err := c.client.Get(ctx, addressKeyPrefix+address).Result()
	if err == nil {
		return true
	}
	if !errors.Is(err, redis.Nil) {
		logCacheError("address_cache_get_failed", address, err)
	}
	return false
}

func (c *AddressCache) mark(ctx context.Context, address string) {
	if err := c.client.Set(ctx, addressKeyPrefix+address, "1", c.ttl).Err(); err != nil {
		logCacheError("address_cache_set_failed", address, err)
	}
}

func logCacheError(msg, address string, err error) {
	obs.LogRequest(map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   "warn",
		"msg":     msg,
		"address": address,
		"error":   err.Error(),
	})
}

func (c *AddressCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// WithAddressCache decorates a Store so that allowed-address lookups are
// served read-through from the cache. Approvals write through, making the
// new address visible to the next login without waiting for a cache miss.
func WithAddressCache(store Store, cache *AddressCache) Store {
	if cache == nil {
		return store
	}
	return &cachedStore{Store: store, cache: cache}
}

type cachedStore struct {
	Store
	cache *AddressCache
}

func (s *cachedStore) Addresses(ctx context.Context) AddressStore {
	return &cachedAddressStore{inner: s.Store.Addresses(ctx), cache: s.cache}
}

type cachedAddressStore struct {
	inner AddressStore
	cache *AddressCache
}

func (s *cachedAddressStore) Contains(ctx context.Context, address string) (bool, error) {
	if s.cache.contains(ctx, address) {
		return true, nil
	}
	allowed, err := s.inner.Contains(ctx, address)
	if err != nil {
		return false, err
	}
	if allowed {
		s.cache.mark(ctx, address)
	}
	return allowed, nil
}

func (s *cachedAddressStore) Add(ctx context.Context, addr *AllowedAddress) error {
	if err := s.inner.Add(ctx, addr); err != nil {
		return err
	}
	s.cache.mark(ctx, addr.Address)
	return nil
}
