package links

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sundayezeilo/linkshare/internal/preview"
)

// CheckFunc inspects the locked current row inside a mutation and aborts it by
// returning an error.
type CheckFunc func(current Link) error

// Repository persists links.
//
// Update and Delete lock the row, run check against it and only then write, all in one
// transaction. A check error is returned unchanged.
type Repository interface {
	Create(ctx context.Context, link Link) (Link, error)
	Get(ctx context.Context, id uuid.UUID) (Link, error)
	List(ctx context.Context, limit, offset int) ([]Link, error)
	Update(ctx context.Context, id uuid.UUID, patch Patch, now time.Time, check CheckFunc) (Link, error)
	Delete(ctx context.Context, id uuid.UUID, check CheckFunc) error
	IncrementClicks(ctx context.Context, id uuid.UUID, delta int64) (int64, error)
	SetPreview(ctx context.Context, id uuid.UUID, p preview.Preview) error
}
