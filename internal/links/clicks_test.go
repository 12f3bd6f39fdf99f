package links

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sundayezeilo/linkshare/internal/cache"
	"github.com/sundayezeilo/linkshare/internal/errx"
)

// flakyCache fails every call while down is set.
type flakyCache struct {
	cache.Cache
	mu   sync.Mutex
	down bool
}

func (f *flakyCache) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyCache) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errx.E("flaky", errx.Unavailable, errors.New("cache down"))
	}
	return nil
}

func (f *flakyCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	return f.Cache.Get(ctx, key)
}

func (f *flakyCache) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	return f.Cache.IncrBy(ctx, key, delta, ttl)
}

func (f *flakyCache) Delete(ctx context.Context, keys ...string) error {
	if err := f.err(); err != nil {
		return err
	}
	return f.Cache.Delete(ctx, keys...)
}

// decrFailCache rejects negative IncrBy calls while failDecr is set.
type decrFailCache struct {
	cache.Cache
	failDecr bool
}

func (d *decrFailCache) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if delta < 0 && d.failDecr {
		return 0, errx.E("decrFail", errx.Unavailable, errors.New("timeout"))
	}
	return d.Cache.IncrBy(ctx, key, delta, ttl)
}

func seedLink(t *testing.T, repo *memRepo) Link {
	t.Helper()
	l, err := repo.Create(context.Background(), Link{URL: "https://example.com", OwnerID: owner.UserID, CreatedAt: created})
	require.NoError(t, err)
	return l
}

func newBuffered(repo *memRepo, c cache.Cache) *ClickCounter {
	return NewClickCounter(ClickCounterConfig{
		Mode:     ClickBuffered,
		Store:    repo,
		Cache:    c,
		Instance: "test",
	})
}

func storedClicks(t *testing.T, repo *memRepo, id uuid.UUID) int64 {
	t.Helper()
	l, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	return l.ClickCount
}

func TestClickCounter_DefaultsToDirect(t *testing.T) {
	c := NewClickCounter(ClickCounterConfig{Mode: ClickBuffered, Store: newMemRepo()})
	assert.Equal(t, ClickDirect, c.Mode(), "buffered mode without a cache must fall back to direct")
}

func TestClickCounter_Direct(t *testing.T) {
	repo := newMemRepo()
	l := seedLink(t, repo)
	c := NewClickCounter(ClickCounterConfig{Mode: ClickDirect, Store: repo})

	require.NoError(t, c.Record(context.Background(), l.ID))
	require.NoError(t, c.Record(context.Background(), l.ID))

	assert.Equal(t, int64(2), storedClicks(t, repo, l.ID))
	assert.NoError(t, c.Flush(context.Background()))
	assert.Zero(t, c.Pending())
}

func TestClickCounter_BufferedFlush(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	mem := cache.NewMemory(nil)
	c := newBuffered(repo, mem)

	const n = 100
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Record(ctx, l.ID))
		}()
	}
	wg.Wait()

	assert.Zero(t, storedClicks(t, repo, l.ID), "buffered clicks reached the store before flush")
	assert.Equal(t, 1, c.Pending())

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(n), storedClicks(t, repo, l.ID))
	assert.Zero(t, c.Pending())

	raw, err := mem.Get(ctx, "clicks:test:"+l.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "0", string(raw), "flushed clicks must be subtracted from the buffer")

	// A second flush with nothing new must not double count.
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(n), storedClicks(t, repo, l.ID))
}

func TestClickCounter_CacheFailureFallsBackToDirect(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	fc := &flakyCache{Cache: cache.NewMemory(nil)}
	c := newBuffered(repo, fc)

	require.NoError(t, c.Record(ctx, l.ID))
	fc.setDown(true)
	require.NoError(t, c.Record(ctx, l.ID))
	assert.Equal(t, int64(1), storedClicks(t, repo, l.ID), "click during outage should be written directly")

	assert.Error(t, c.Flush(ctx))
	assert.Equal(t, 1, c.Pending(), "failed flush keeps the link pending")

	fc.setDown(false)
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(2), storedClicks(t, repo, l.ID))
}

func TestClickCounter_StoreFailureKeepsClicksBuffered(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	c := newBuffered(repo, cache.NewMemory(nil))

	for range 3 {
		require.NoError(t, c.Record(ctx, l.ID))
	}

	repo.clickErr = errx.E("repo", errx.Unavailable, errors.New("db down"))
	assert.Error(t, c.Flush(ctx))

	repo.clickErr = nil
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(3), storedClicks(t, repo, l.ID))
}

func TestClickCounter_BufferClearFailureNeverDoubleCounts(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	dc := &decrFailCache{Cache: cache.NewMemory(nil), failDecr: true}
	c := newBuffered(repo, dc)

	for range 5 {
		require.NoError(t, c.Record(ctx, l.ID))
	}
	assert.Error(t, c.Flush(ctx))
	assert.Zero(t, storedClicks(t, repo, l.ID), "unclaimed clicks must not reach the store")
	assert.Equal(t, 1, c.Pending())

	dc.failDecr = false
	require.NoError(t, c.Record(ctx, l.ID))
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(6), storedClicks(t, repo, l.ID))

	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(6), storedClicks(t, repo, l.ID))
}

func TestClickCounter_ClaimedClicksSurviveStoreFailure(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	mem := cache.NewMemory(nil)
	c := newBuffered(repo, mem)

	for range 4 {
		require.NoError(t, c.Record(ctx, l.ID))
	}
	repo.clickErr = errx.E("repo", errx.Unavailable, errors.New("db down"))
	assert.Error(t, c.Flush(ctx))

	raw, err := mem.Get(ctx, "clicks:test:"+l.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "0", string(raw), "claimed clicks leave the buffer before the store write")

	require.NoError(t, c.Record(ctx, l.ID))
	repo.clickErr = nil
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, int64(5), storedClicks(t, repo, l.ID))
}

func TestClickCounter_DeletedLinkDropsBuffer(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	mem := cache.NewMemory(nil)
	c := newBuffered(repo, mem)

	require.NoError(t, c.Record(ctx, l.ID))
	require.NoError(t, repo.Delete(ctx, l.ID, func(Link) error { return nil }))

	require.NoError(t, c.Flush(ctx))
	_, err := mem.Get(ctx, "clicks:test:"+l.ID.String())
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestClickCounter_Forget(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	c := newBuffered(repo, cache.NewMemory(nil))

	require.NoError(t, c.Record(ctx, l.ID))
	require.NoError(t, c.Forget(ctx, l.ID))
	assert.Zero(t, c.Pending())

	require.NoError(t, c.Flush(ctx))
	assert.Zero(t, storedClicks(t, repo, l.ID))
}

func TestClickCounter_InstancesDoNotShareBuffers(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	l := seedLink(t, repo)
	shared := cache.NewMemory(nil)

	a := NewClickCounter(ClickCounterConfig{Mode: ClickBuffered, Store: repo, Cache: shared, Instance: "a"})
	b := NewClickCounter(ClickCounterConfig{Mode: ClickBuffered, Store: repo, Cache: shared, Instance: "b"})

	require.NoError(t, a.Record(ctx, l.ID))
	require.NoError(t, b.Record(ctx, l.ID))
	require.NoError(t, b.Record(ctx, l.ID))

	require.NoError(t, a.Flush(ctx))
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, int64(3), storedClicks(t, repo, l.ID))
}

func TestClickCounter_RunFlushesUntilCanceled(t *testing.T) {
	repo := newMemRepo()
	l := seedLink(t, repo)
	c := NewClickCounter(ClickCounterConfig{
		Mode:          ClickBuffered,
		Store:         repo,
		Cache:         cache.NewMemory(nil),
		FlushInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.NoError(t, c.Record(ctx, l.ID))
	assert.Eventually(t, func() bool {
		got, err := repo.Get(context.Background(), l.ID)
		return err == nil && got.ClickCount == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
