package cache

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Cache defines the key-value operations the services need.
type Cache interface {
	BasicOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key. A missing key yields "" and no error.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with a TTL (0 means no expiration)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX sets the value only if the key does not exist (atomic operation)
	// Returns true if the key was set, false if it already existed
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists returns how many of the keys exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// TTL returns the remaining time to live of a key
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Incr increments the integer value of a key by 1
	Incr(ctx context.Context, key string) (int64, error)
}

// GetWithCached implements the cache-aside pattern.
// It tries the cache first; on a miss it calls fn and stores the result when
// cacheable reports true. Values that can still change must not be cached.
// Cache failures never fail the read.
func GetWithCached[T any](
	ctx context.Context,
	cache BasicOps,
	key string,
	ttl time.Duration,
	cacheable func(T) bool,
	marshal func(T) (string, error),
	unmarshal func(string) (T, error),
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	if cached, err := cache.Get(ctx, key); err == nil && cached != "" {
		if result, err := unmarshal(cached); err == nil {
			return result, nil
		}
	}

	data, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	if cacheable != nil && !cacheable(data) {
		return data, nil
	}
	if raw, err := marshal(data); err == nil {
		_ = cache.Set(ctx, key, raw, JitterTTL(ttl))
	}
	return data, nil
}

// JitterTTL shortens ttl by up to 10% so entries written together do not expire together.
func JitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	maxJitter := int64(ttl / 10)
	if maxJitter <= 0 {
		return ttl
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter+1))
	if err != nil {
		return ttl
	}
	return ttl - time.Duration(n.Int64())
}
