package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Stellar-cadet-s/kazi-trust/internal/apperr"
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// wrap maps pgx.ErrNoRows to apperr.ErrNotFound and unique violations to
// apperr.ErrConflict, naming what was looked up.
func wrap(err error, what string, key any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s %v: %w", what, key, apperr.ErrNotFound)
	case IsUniqueViolation(err):
		return fmt.Errorf("%s %v: %w: %w", what, key, apperr.ErrConflict, err)
	default:
		return fmt.Errorf("%s %v: %w", what, key, err)
	}
}
