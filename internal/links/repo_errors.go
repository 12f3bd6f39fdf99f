package links

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sundayezeilo/linkshare/internal/errx"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code
}

func mapRepoError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return errx.E(op, errx.NotFound, err)

	case isPgCode(err, pgUniqueViolation):
		return errx.E(op, errx.Conflict, err)

	case isPgCode(err, pgCheckViolation):
		return errx.E(op, errx.Invalid, err)

	default:
		return errx.E(op, errx.Unavailable, err)
	}
}

// txError classifies the result of a transaction: errors raised inside it already carry
// a kind, anything else came from begin or commit.
func txError(op string, err error) error {
	if errx.KindOf(err) != errx.Unknown {
		return errx.Wrap(op, err)
	}
	return mapRepoError(op, err)
}
