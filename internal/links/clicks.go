package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkshare/internal/cache"
	"github.com/sundayezeilo/linkshare/internal/errx"
)

type ClickMode string

const (
	// ClickDirect writes every click straight to the store.
	ClickDirect ClickMode = "direct"
	// ClickBuffered counts clicks in the cache and folds them into the store periodically.
	ClickBuffered ClickMode = "buffered"
)

// ClickStore is the durable side of click counting.
type ClickStore interface {
	IncrementClicks(ctx context.Context, id uuid.UUID, delta int64) (int64, error)
}

type ClickCounterConfig struct {
	Mode          ClickMode
	Store         ClickStore
	Cache         cache.Cache
	FlushInterval time.Duration
	// Instance scopes buffered counters so replicas sharing a cache never flush each
	// other's pending clicks. Defaults to a random id.
	Instance string
	Logger   *slog.Logger
}

// ClickCounter records link clicks in direct or buffered mode.
type ClickCounter struct {
	mode     ClickMode
	store    ClickStore
	cache    cache.Cache
	interval time.Duration
	prefix   string
	logger   *slog.Logger

	mu    sync.Mutex
	dirty map[uuid.UUID]struct{}
	// carry holds counts already taken out of the cache but not yet stored.
	carry map[uuid.UUID]int64
}

func NewClickCounter(cfg ClickCounterConfig) *ClickCounter {
	if cfg.Mode == "" || cfg.Cache == nil {
		cfg.Mode = ClickDirect
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Instance == "" {
		cfg.Instance = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ClickCounter{
		mode:     cfg.Mode,
		store:    cfg.Store,
		cache:    cfg.Cache,
		interval: cfg.FlushInterval,
		prefix:   "clicks:" + cfg.Instance + ":",
		logger:   cfg.Logger,
		dirty:    make(map[uuid.UUID]struct{}),
		carry:    make(map[uuid.UUID]int64),
	}
}

func (c *ClickCounter) Mode() ClickMode { return c.mode }

func (c *ClickCounter) key(id uuid.UUID) string { return c.prefix + id.String() }

// Record counts one click. In buffered mode a cache failure falls back to a direct write.
func (c *ClickCounter) Record(ctx context.Context, id uuid.UUID) error {
	const op = "links.clicks.Record"

	if c.mode == ClickBuffered {
		_, err := c.cache.IncrBy(ctx, c.key(id), 1, 0)
		if err == nil {
			c.markDirty(id)
			return nil
		}
		c.logger.WarnContext(ctx, "click buffer unavailable, writing directly",
			"link_id", id.String(),
			"error", err.Error(),
		)
	}

	if _, err := c.store.IncrementClicks(ctx, id, 1); err != nil {
		return errx.Wrap(op, err)
	}
	return nil
}

// Forget drops any buffered clicks for id.
func (c *ClickCounter) Forget(ctx context.Context, id uuid.UUID) error {
	if c.mode != ClickBuffered {
		return nil
	}
	c.mu.Lock()
	delete(c.dirty, id)
	delete(c.carry, id)
	c.mu.Unlock()
	return c.cache.Delete(ctx, c.key(id))
}

// Pending reports how many links have unflushed clicks.
func (c *ClickCounter) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

// Run flushes on every tick until ctx is done. It returns immediately in direct mode.
func (c *ClickCounter) Run(ctx context.Context) {
	if c.mode != ClickBuffered {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.WarnContext(ctx, "click flush incomplete", "error", err.Error())
			}
		}
	}
}

// Flush moves buffered counts into the store. Links whose flush failed stay pending.
func (c *ClickCounter) Flush(ctx context.Context) error {
	if c.mode != ClickBuffered {
		return nil
	}

	var errs []error
	for _, id := range c.takeDirty() {
		if err := c.flushOne(ctx, id); err != nil {
			c.markDirty(id)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flushOne claims the buffered count by subtracting it from the cache before writing it
// to the store. A claimed count the store rejects is carried in memory to the next
// flush, so a failure on either side can delay clicks but never count them twice.
func (c *ClickCounter) flushOne(ctx context.Context, id uuid.UUID) error {
	const op = "links.clicks.Flush"
	key := c.key(id)

	n, err := c.buffered(ctx, key)
	if err != nil {
		return errx.Wrap(op, err)
	}
	if n > 0 {
		if _, err := c.cache.IncrBy(ctx, key, -n, 0); err != nil {
			return errx.Wrap(op, err)
		}
		c.addCarry(id, n)
	}

	total := c.carried(id)
	if total <= 0 {
		return nil
	}
	if _, err := c.store.IncrementClicks(ctx, id, total); err != nil {
		if errx.Is(err, errx.NotFound) {
			c.dropCarry(id)
			return c.cache.Delete(ctx, key)
		}
		return errx.Wrap(op, err)
	}
	c.dropCarry(id)
	return nil
}

// buffered reads the pending count at key. A missing key counts as zero.
func (c *ClickCounter) buffered(ctx context.Context, key string) (int64, error) {
	raw, err := c.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, errx.E("links.clicks.buffered", errx.Internal, fmt.Errorf("click counter %s: %w", key, err))
	}
	return n, nil
}

func (c *ClickCounter) addCarry(id uuid.UUID, n int64) {
	c.mu.Lock()
	c.carry[id] += n
	c.mu.Unlock()
}

func (c *ClickCounter) carried(id uuid.UUID) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.carry[id]
}

func (c *ClickCounter) dropCarry(id uuid.UUID) {
	c.mu.Lock()
	delete(c.carry, id)
	c.mu.Unlock()
}

func (c *ClickCounter) markDirty(id uuid.UUID) {
	c.mu.Lock()
	c.dirty[id] = struct{}{}
	c.mu.Unlock()
}

func (c *ClickCounter) takeDirty() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	clear(c.dirty)
	return ids
}
