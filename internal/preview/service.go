package preview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sundayezeilo/linkshare/internal/cache"
	"github.com/sundayezeilo/linkshare/internal/errx"
)

// ErrNegativeCached is returned while a recent failed fetch is still cached.
var ErrNegativeCached = errors.New("preview: recent fetch failed")

// Status describes what the cache held for a URL.
type Status uint8

const (
	Miss Status = iota
	Hit
	NegativeHit
)

// Source fetches a fresh preview.
type Source interface {
	Fetch(ctx context.Context, rawURL string) (Preview, error)
}

type entry struct {
	Preview   *Preview  `json:"preview,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Source      Source
	Cache       cache.Cache
	TTL         time.Duration
	NegativeTTL time.Duration
	// FetchTimeout bounds a shared fetch independently of the callers waiting on it.
	FetchTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service resolves previews through the cache, collapsing concurrent fetches of the
// same URL into one.
type Service struct {
	src          Source
	cache        cache.Cache
	ttl          time.Duration
	negTTL       time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	group        singleflight.Group
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 10 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		src:          cfg.Source,
		cache:        cfg.Cache,
		ttl:          cfg.TTL,
		negTTL:       cfg.NegativeTTL,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// Cached looks rawURL up without fetching. Cache failures read as Miss.
func (s *Service) Cached(ctx context.Context, rawURL string) (Preview, Status) {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return Preview{}, Miss
	}
	return s.lookup(ctx, key)
}

// Resolve returns the cached preview for rawURL or fetches it. A failed fetch is
// negatively cached so the target is not hammered.
func (s *Service) Resolve(ctx context.Context, rawURL string) (Preview, error) {
	const op = "preview.service.Resolve"

	key, err := NormalizeURL(rawURL)
	if err != nil {
		return Preview{}, errx.E(op, errx.Invalid, err)
	}

	switch p, st := s.lookup(ctx, key); st {
	case Hit:
		return p, nil
	case NegativeHit:
		return Preview{}, errx.E(op, errx.Unavailable, ErrNegativeCached)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetchAndStore(fctx, key, rawURL)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Preview{}, errx.Wrap(op, res.Err)
		}
		return res.Val.(Preview), nil
	case <-ctx.Done():
		return Preview{}, errx.E(op, errx.Unavailable, ctx.Err())
	}
}

func (s *Service) lookup(ctx context.Context, key string) (Preview, Status) {
	raw, err := s.cache.Get(ctx, cacheKey(key))
	if err != nil {
		if !cache.IsMiss(err) {
			s.logger.WarnContext(ctx, "preview cache read failed", "url", key, "error", err)
		}
		return Preview{}, Miss
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.WarnContext(ctx, "preview cache entry unreadable", "url", key, "error", err)
		return Preview{}, Miss
	}
	if e.Failed {
		return Preview{}, NegativeHit
	}
	if e.Preview == nil {
		return Preview{}, Miss
	}
	return *e.Preview, Hit
}

func (s *Service) fetchAndStore(ctx context.Context, key, rawURL string) (Preview, error) {
	p, fetchErr := s.src.Fetch(ctx, rawURL)

	e := entry{FetchedAt: s.now().UTC()}
	ttl := s.ttl
	if fetchErr != nil {
		e.Failed = true
		ttl = s.negTTL
	} else {
		e.Preview = &p
	}

	if raw, err := json.Marshal(e); err == nil {
		if err := s.cache.Set(ctx, cacheKey(key), raw, ttl); err != nil {
			s.logger.WarnContext(ctx, "preview cache write failed", "url", key, "error", err)
		}
	}

	if fetchErr != nil {
		s.logger.InfoContext(ctx, "preview fetch failed", "url", key, "error", fetchErr)
		return Preview{}, fetchErr
	}
	return p, nil
}
