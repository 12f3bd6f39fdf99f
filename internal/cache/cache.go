// Package cache is the key-value layer in front of preview lookups, click counters and
// rate-limit windows. Callers treat every error as a degraded cache, never as a failed
// request: the store stays the source of truth.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist or has expired.
var ErrMiss = errors.New("cache: miss")

// Cache is implemented by the in-process Memory store and the remote REST client.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// IncrBy adds delta to the integer at key and returns the new value. A missing key
	// counts as zero and, when ttl > 0, is given that expiry on creation.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}

type timeoutCache struct {
	next    Cache
	timeout time.Duration
}

// WithTimeout bounds every call on c with the given deadline.
func WithTimeout(c Cache, d time.Duration) Cache {
	return &timeoutCache{next: c, timeout: d}
}

func (t *timeoutCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Get(ctx, key)
}

func (t *timeoutCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Set(ctx, key, value, ttl)
}

func (t *timeoutCache) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.IncrBy(ctx, key, delta, ttl)
}

func (t *timeoutCache) Delete(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Delete(ctx, keys...)
}

type prefixCache struct {
	next   Cache
	prefix string
}

// WithPrefix namespaces every key so several deployments can share one cache.
func WithPrefix(c Cache, prefix string) Cache {
	if prefix == "" {
		return c
	}
	return &prefixCache{next: c, prefix: prefix}
}

func (p *prefixCache) Get(ctx context.Context, key string) ([]byte, error) {
	return p.next.Get(ctx, p.prefix+key)
}

func (p *prefixCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.next.Set(ctx, p.prefix+key, value, ttl)
}

func (p *prefixCache) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return p.next.IncrBy(ctx, p.prefix+key, delta, ttl)
}

func (p *prefixCache) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = p.prefix + k
	}
	return p.next.Delete(ctx, prefixed...)
}
