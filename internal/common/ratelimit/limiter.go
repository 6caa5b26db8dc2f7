// Package ratelimit enforces fixed-window request limits backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"judgeflow/internal/common/cache"
	pkgerrors "judgeflow/pkg/errors"
)

const defaultCacheTimeout = time.Second

// Limiter counts hits per key in fixed windows.
type Limiter struct {
	cache        cache.BasicOps
	window       time.Duration
	cacheTimeout time.Duration
}

func NewLimiter(cacheClient cache.BasicOps, window, cacheTimeout time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	if cacheTimeout <= 0 {
		cacheTimeout = defaultCacheTimeout
	}
	return &Limiter{cache: cacheClient, window: window, cacheTimeout: cacheTimeout}
}

// Allow records one hit for key and fails with TooManyRequests once more
// than max hits landed in the current window.
func (l *Limiter) Allow(ctx context.Context, key string, max int) error {
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.cacheTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, l.window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key that lost its expiry would block forever.
		if ttl, ttlErr := l.cache.TTL(ctxCache, key); ttlErr == nil && ttl < 0 {
			_ = l.cache.Expire(ctxCache, key, l.window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("at most %d submissions per %s", max, l.window))
	}
	return nil
}
