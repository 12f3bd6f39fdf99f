package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkshare/internal/auth"
	"github.com/sundayezeilo/linkshare/internal/errx"
	"github.com/sundayezeilo/linkshare/internal/notify"
	"github.com/sundayezeilo/linkshare/internal/preview"
	"github.com/sundayezeilo/linkshare/internal/worker"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Previews is the read-through preview cache used by the link service.
type Previews interface {
	Cached(ctx context.Context, rawURL string) (preview.Preview, preview.Status)
	Resolve(ctx context.Context, rawURL string) (preview.Preview, error)
}

// Notifier delivers the link creation email.
type Notifier interface {
	SendLinkCreated(ctx context.Context, ev notify.LinkCreated) error
}

// Limiter decides whether a client may record another click.
type Limiter interface {
	Allow(ctx context.Context, scope, subject string) (bool, error)
}

// Service defines the link lifecycle operations.
type Service interface {
	Create(ctx context.Context, p auth.Principal, in CreateInput) (Link, error)
	Get(ctx context.Context, id uuid.UUID) (Link, error)
	List(ctx context.Context, limit, offset int) ([]Link, error)
	Update(ctx context.Context, p auth.Principal, id uuid.UUID, patch Patch) (Link, error)
	Delete(ctx context.Context, p auth.Principal, id uuid.UUID) error
	RecordClick(ctx context.Context, id uuid.UUID, client string) error
	EditableUntil(l Link) time.Time
}

// service implements the Service interface.
type service struct {
	repo     Repository
	policy   Policy
	now      func() time.Time
	tasks    worker.Submitter
	previews Previews
	notifier Notifier
	clicks   *ClickCounter
	limiter  Limiter
	logger   *slog.Logger
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	Policy *Policy // nil means DefaultPolicy
	Clock  func() time.Time
	// Tasks runs preview enrichment and creation emails off the request path.
	// Without it neither is scheduled.
	Tasks    worker.Submitter
	Previews Previews
	Notifier Notifier
	Clicks   *ClickCounter // nil means direct writes to repo
	Limiter  Limiter
	Logger   *slog.Logger
}

// NewService creates a new service instance.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	policy := DefaultPolicy()
	if config.Policy != nil {
		policy = *config.Policy
	}
	if policy.EditWindow <= 0 {
		policy.EditWindow = DefaultEditWindow
	}

	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clicks := config.Clicks
	if clicks == nil {
		clicks = NewClickCounter(ClickCounterConfig{Mode: ClickDirect, Store: repo, Logger: logger})
	}

	return &service{
		repo:     repo,
		policy:   policy,
		now:      clock,
		tasks:    config.Tasks,
		previews: config.Previews,
		notifier: config.Notifier,
		clicks:   clicks,
		limiter:  config.Limiter,
		logger:   logger,
	}
}

func (s *service) EditableUntil(l Link) time.Time {
	return s.policy.EditableUntil(l)
}

// Create validates and persists a link, then schedules preview enrichment and the
// creation email. It does not wait for either.
func (s *service) Create(ctx context.Context, p auth.Principal, in CreateInput) (Link, error) {
	const op = "links.service.Create"

	if err := s.policy.CanCreate(p); err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	if err := in.validate(); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	created, err := s.repo.Create(ctx, Link{
		URL:         in.URL,
		Title:       in.Title,
		Description: in.Description,
		OwnerID:     p.UserID,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}

	s.scheduleEnrichment(ctx, created)
	s.scheduleCreatedEmail(ctx, created, p.Email)
	return created, nil
}

// Get returns a link. A link without a stored preview is filled from the preview cache
// when possible, and a refresh is scheduled unless a recent fetch already failed.
func (s *service) Get(ctx context.Context, id uuid.UUID) (Link, error) {
	const op = "links.service.Get"

	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}
	if l.Preview != nil || s.previews == nil {
		return l, nil
	}

	p, status := s.previews.Cached(ctx, l.URL)
	switch status {
	case preview.Hit:
		l.Preview = &p
		s.scheduleEnrichment(ctx, l)
	case preview.Miss:
		s.scheduleEnrichment(ctx, l)
	}
	return l, nil
}

// List returns links newest first. limit <= 0 selects the default page size; larger
// limits are capped.
func (s *service) List(ctx context.Context, limit, offset int) ([]Link, error) {
	const op = "links.service.List"

	if offset < 0 {
		return nil, errx.E(op, errx.Invalid, errors.New("offset cannot be negative"))
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	out, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	return out, nil
}

// Update applies patch. Ownership and the edit window are judged once, against the
// locked row and a single request time.
func (s *service) Update(ctx context.Context, p auth.Principal, id uuid.UUID, patch Patch) (Link, error) {
	const op = "links.service.Update"

	if err := patch.validate(); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	now := s.now().UTC()
	updated, err := s.repo.Update(ctx, id, patch, now, func(current Link) error {
		return s.policy.CanUpdate(p, current, now)
	})
	if err != nil {
		return Link{}, errx.Wrap(op, err)
	}

	s.logger.InfoContext(ctx, "link updated",
		"link_id", id.String(),
		"user_id", p.UserID,
		"role", string(p.Role),
	)
	return updated, nil
}

// Delete removes a link regardless of the edit window and drops its pending clicks.
func (s *service) Delete(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	const op = "links.service.Delete"

	err := s.repo.Delete(ctx, id, func(current Link) error {
		return s.policy.CanDelete(p, current)
	})
	if err != nil {
		return errx.Wrap(op, err)
	}

	if err := s.clicks.Forget(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "pending clicks not cleared",
			"link_id", id.String(),
			"error", err.Error(),
		)
	}

	s.logger.InfoContext(ctx, "link deleted",
		"link_id", id.String(),
		"user_id", p.UserID,
		"role", string(p.Role),
	)
	return nil
}

// RecordClick counts a click. Store and cache failures are logged, not returned; an
// unknown link is still reported as NotFound. Clicks over the per-client limit are
// dropped silently.
func (s *service) RecordClick(ctx context.Context, id uuid.UUID, client string) error {
	const op = "links.service.RecordClick"

	if s.limiter != nil && client != "" {
		ok, err := s.limiter.Allow(ctx, "click", client)
		if err != nil {
			s.logger.WarnContext(ctx, "click limiter unavailable", "error", err.Error())
		}
		if !ok {
			s.logger.DebugContext(ctx, "click dropped by rate limit",
				"link_id", id.String(),
				"client", client,
			)
			return nil
		}
	}

	if err := s.clicks.Record(ctx, id); err != nil {
		if errx.Is(err, errx.NotFound) {
			return errx.Wrap(op, err)
		}
		s.logger.WarnContext(ctx, "click not recorded",
			"link_id", id.String(),
			"error", err.Error(),
			"error_kind", errx.KindOf(err),
		)
	}
	return nil
}

func (s *service) scheduleEnrichment(ctx context.Context, l Link) {
	if s.tasks == nil || s.previews == nil {
		return
	}

	id, rawURL := l.ID, l.URL
	ok := s.tasks.Submit(worker.Task{
		Name: "links.enrich_preview",
		Run: func(ctx context.Context) error {
			p, err := s.previews.Resolve(ctx, rawURL)
			if errors.Is(err, preview.ErrNegativeCached) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("resolve preview for %s: %w", id, err)
			}
			if err := s.repo.SetPreview(ctx, id, p); err != nil && !errx.Is(err, errx.NotFound) {
				return err
			}
			return nil
		},
	})
	if !ok {
		s.logger.DebugContext(ctx, "preview enrichment not scheduled", "link_id", id.String())
	}
}

func (s *service) scheduleCreatedEmail(ctx context.Context, l Link, email string) {
	if s.tasks == nil || s.notifier == nil || email == "" {
		return
	}

	ev := notify.LinkCreated{
		LinkID:        l.ID.String(),
		URL:           l.URL,
		Title:         l.Title,
		OwnerEmail:    email,
		CreatedAt:     l.CreatedAt,
		EditableUntil: s.policy.EditableUntil(l),
	}
	ok := s.tasks.Submit(worker.Task{
		Name: "links.creation_email",
		Run: func(ctx context.Context) error {
			return s.notifier.SendLinkCreated(ctx, ev)
		},
	})
	if !ok {
		s.logger.WarnContext(ctx, "creation email not scheduled", "link_id", ev.LinkID)
	}
}
