package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when an insert collides with the live-content
// unique index or another uniqueness constraint.
var ErrDuplicate = errors.New("storage: duplicate")

// ErrAlreadyDeprecated is returned when a deprecation targets a memory
// that exists but is already deprecated. Callers treat it as a no-op.
var ErrAlreadyDeprecated = errors.New("storage: already deprecated")

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
