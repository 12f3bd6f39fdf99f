package links

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	db "github.com/sundayezeilo/linkshare/internal/db/sqlc"
	"github.com/sundayezeilo/linkshare/internal/errx"
	"github.com/sundayezeilo/linkshare/internal/idgen"
	"github.com/sundayezeilo/linkshare/internal/preview"
)

// querier is an internal interface that abstracts *db.Queries
type querier interface {
	CreateLink(ctx context.Context, arg db.CreateLinkParams) (db.Link, error)
	GetLink(ctx context.Context, id uuid.UUID) (db.Link, error)
	GetLinkForUpdate(ctx context.Context, id uuid.UUID) (db.Link, error)
	ListLinks(ctx context.Context, arg db.ListLinksParams) ([]db.Link, error)
	UpdateLink(ctx context.Context, arg db.UpdateLinkParams) (db.Link, error)
	DeleteLink(ctx context.Context, id uuid.UUID) (int64, error)
	IncrementClicks(ctx context.Context, arg db.IncrementClicksParams) (int64, error)
	SetLinkPreview(ctx context.Context, arg db.SetLinkPreviewParams) (int64, error)
}

// txRunner runs fn against a querier bound to a single transaction, committing when fn
// returns nil.
type txRunner func(ctx context.Context, fn func(q querier) error) error

// DefaultQueryTimeout bounds a store call when RepositoryConfig leaves it unset.
const DefaultQueryTimeout = 5 * time.Second

type repo struct {
	q       querier
	tx      txRunner
	ids     idgen.Generator
	timeout time.Duration
}

// RepositoryConfig holds configuration for the repository
type RepositoryConfig struct {
	IDGenerator idgen.Generator
	// QueryTimeout bounds each call, a whole transaction counting as one call. Lock
	// waits that outlive it surface as Unavailable.
	QueryTimeout time.Duration
}

// NewRepository creates a Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool, config *RepositoryConfig) Repository {
	queries := db.New(pool)
	tx := func(ctx context.Context, fn func(q querier) error) error {
		return pgx.BeginFunc(ctx, pool, func(t pgx.Tx) error {
			return fn(queries.WithTx(t))
		})
	}
	return newRepo(queries, tx, config)
}

func newRepo(q querier, tx txRunner, config *RepositoryConfig) *repo {
	if config == nil {
		config = &RepositoryConfig{}
	}

	// Default: UUID v7 (good for DB locality). Retry once by default inside idgen.NewV7.
	if config.IDGenerator == nil {
		config.IDGenerator = idgen.NewV7(idgen.WithRetries(1))
	}

	if config.QueryTimeout <= 0 {
		config.QueryTimeout = DefaultQueryTimeout
	}

	return &repo{
		q:       q,
		tx:      tx,
		ids:     config.IDGenerator,
		timeout: config.QueryTimeout,
	}
}

func (r *repo) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func mustTime(ts pgtype.Timestamptz, field string) (time.Time, error) {
	if !ts.Valid {
		return time.Time{}, fmt.Errorf("%s unexpectedly NULL", field)
	}
	return ts.Time.UTC(), nil
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

// decodePreview tolerates NULL and unreadable preview columns; both read as "no preview".
func decodePreview(raw []byte) *preview.Preview {
	if len(raw) == 0 {
		return nil
	}
	var p preview.Preview
	if err := json.Unmarshal(raw, &p); err != nil || p.Empty() {
		return nil
	}
	return &p
}

func toDomainLink(x db.Link) (Link, error) {
	createdAt, err := mustTime(x.CreatedAt, "created_at")
	if err != nil {
		return Link{}, err
	}
	updatedAt, err := mustTime(x.UpdatedAt, "updated_at")
	if err != nil {
		return Link{}, err
	}

	return Link{
		ID:          x.ID,
		URL:         x.Url,
		Title:       x.Title,
		Description: x.Description,
		OwnerID:     x.OwnerID,
		ClickCount:  x.ClickCount,
		Preview:     decodePreview(x.Preview),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (r *repo) Create(ctx context.Context, link Link) (Link, error) {
	const op = "links.repo.Create"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	// Generate ID if not provided
	if link.ID == uuid.Nil {
		id, err := r.ids.Generate()
		if err != nil {
			return Link{}, errx.E(op, errx.Unavailable, err)
		}
		link.ID = id
	}

	row, err := r.q.CreateLink(ctx, db.CreateLinkParams{
		ID:          link.ID,
		Url:         link.URL,
		Title:       link.Title,
		Description: link.Description,
		OwnerID:     link.OwnerID,
		CreatedAt:   timestamptz(link.CreatedAt),
	})
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}

	out, err := toDomainLink(row)
	if err != nil {
		return Link{}, errx.E(op, errx.Internal, err)
	}
	return out, nil
}

func (r *repo) Get(ctx context.Context, id uuid.UUID) (Link, error) {
	const op = "links.repo.Get"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	row, err := r.q.GetLink(ctx, id)
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}

	out, err := toDomainLink(row)
	if err != nil {
		return Link{}, errx.E(op, errx.Internal, err)
	}
	return out, nil
}

func (r *repo) List(ctx context.Context, limit, offset int) ([]Link, error) {
	const op = "links.repo.List"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	rows, err := r.q.ListLinks(ctx, db.ListLinksParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, mapRepoError(op, err)
	}

	out := make([]Link, 0, len(rows))
	for _, row := range rows {
		l, err := toDomainLink(row)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *repo) Update(ctx context.Context, id uuid.UUID, patch Patch, now time.Time, check CheckFunc) (Link, error) {
	const op = "links.repo.Update"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	var out Link
	err := r.tx(ctx, func(q querier) error {
		current, err := r.lock(ctx, q, op, id)
		if err != nil {
			return err
		}
		if err := check(current); err != nil {
			return err
		}

		row, err := q.UpdateLink(ctx, db.UpdateLinkParams{
			Title:       optionalText(patch.Title),
			Description: optionalText(patch.Description),
			UpdatedAt:   timestamptz(now),
			ID:          id,
		})
		if err != nil {
			return mapRepoError(op, err)
		}

		out, err = toDomainLink(row)
		if err != nil {
			return errx.E(op, errx.Internal, err)
		}
		return nil
	})
	if err != nil {
		return Link{}, txError(op, err)
	}
	return out, nil
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID, check CheckFunc) error {
	const op = "links.repo.Delete"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	err := r.tx(ctx, func(q querier) error {
		current, err := r.lock(ctx, q, op, id)
		if err != nil {
			return err
		}
		if err := check(current); err != nil {
			return err
		}

		n, err := q.DeleteLink(ctx, id)
		if err != nil {
			return mapRepoError(op, err)
		}
		if n == 0 {
			return errx.E(op, errx.NotFound, pgx.ErrNoRows)
		}
		return nil
	})
	if err != nil {
		return txError(op, err)
	}
	return nil
}

func (r *repo) lock(ctx context.Context, q querier, op string, id uuid.UUID) (Link, error) {
	row, err := q.GetLinkForUpdate(ctx, id)
	if err != nil {
		return Link{}, mapRepoError(op, err)
	}
	l, err := toDomainLink(row)
	if err != nil {
		return Link{}, errx.E(op, errx.Internal, err)
	}
	return l, nil
}

func (r *repo) IncrementClicks(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	const op = "links.repo.IncrementClicks"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	n, err := r.q.IncrementClicks(ctx, db.IncrementClicksParams{Delta: delta, ID: id})
	if err != nil {
		return 0, mapRepoError(op, err)
	}
	return n, nil
}

func (r *repo) SetPreview(ctx context.Context, id uuid.UUID, p preview.Preview) error {
	const op = "links.repo.SetPreview"

	ctx, cancel := r.bound(ctx)
	defer cancel()

	raw, err := json.Marshal(p)
	if err != nil {
		return errx.E(op, errx.Internal, err)
	}

	n, err := r.q.SetLinkPreview(ctx, db.SetLinkPreviewParams{ID: id, Preview: raw})
	if err != nil {
		return mapRepoError(op, err)
	}
	if n == 0 {
		return errx.E(op, errx.NotFound, pgx.ErrNoRows)
	}
	return nil
}
