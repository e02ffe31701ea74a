package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// UniqueViolation is the Postgres error code for unique constraint breaches.
// Storage-level uniqueness (one order per request, one open session per
// operator/register) surfaces as this code and is translated into the
// domain taxonomy instead of leaking driver errors.
const UniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolation
}
