package cache

import (
	"context"
	"strconv"
	"time"
)

// FixedWindow counts events per subject in fixed windows of the given length. State
// lives in the cache, so every replica sharing it sees the same counts.
type FixedWindow struct {
	cache  Cache
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewFixedWindow returns a limiter allowing limit events per window. A limit <= 0
// disables limiting.
func NewFixedWindow(c Cache, limit int64, window time.Duration, now func() time.Time) *FixedWindow {
	if now == nil {
		now = time.Now
	}
	return &FixedWindow{cache: c, limit: limit, window: window, now: now}
}

// Allow records one event for subject and reports whether it is within the limit.
// A cache failure allows the event and returns the error for logging.
func (f *FixedWindow) Allow(ctx context.Context, scope, subject string) (bool, error) {
	if f == nil || f.limit <= 0 {
		return true, nil
	}

	slot := f.now().UnixNano() / int64(f.window)
	key := "rl:" + scope + ":" + subject + ":" + strconv.FormatInt(slot, 10)

	n, err := f.cache.IncrBy(ctx, key, 1, f.window)
	if err != nil {
		return true, err
	}
	return n <= f.limit, nil
}
