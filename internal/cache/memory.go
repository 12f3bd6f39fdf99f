package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sundayezeilo/linkshare/internal/errx"
)

const sweepEvery = 1024

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is a mutex-guarded in-process Cache for development and tests.
type Memory struct {
	mu     sync.Mutex
	items  map[string]entry
	writes int
	now    func() time.Time
}

// NewMemory returns an empty Memory cache. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]entry), now: now}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errx.E("cache.memory.Get", errx.Unavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return nil, ErrMiss
	}
	if e.expired(m.now()) {
		delete(m.items, key)
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errx.E("cache.memory.Set", errx.Unavailable, err)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = entry{value: stored, expires: m.expiry(ttl)}
	m.afterWrite()
	return nil
}

func (m *Memory) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	const op = "cache.memory.IncrBy"
	if err := ctx.Err(); err != nil {
		return 0, errx.E(op, errx.Unavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if ok && e.expired(m.now()) {
		ok = false
	}

	var cur int64
	if ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, errx.E(op, errx.Invalid, err)
		}
		cur = n
	} else {
		e = entry{expires: m.expiry(ttl)}
	}

	cur += delta
	e.value = []byte(strconv.FormatInt(cur, 10))
	m.items[key] = e
	m.afterWrite()
	return cur, nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return errx.E("cache.memory.Delete", errx.Unavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Len reports the number of stored entries, expired ones included until swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// afterWrite drops expired entries every sweepEvery writes. Caller holds mu.
func (m *Memory) afterWrite() {
	m.writes++
	if m.writes%sweepEvery != 0 {
		return
	}
	now := m.now()
	for k, e := range m.items {
		if e.expired(now) {
			delete(m.items, k)
		}
	}
}
