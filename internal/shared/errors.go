package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConcurrencyConflict indicates a row lock or serialization conflict.
// The caller may retry the operation.
var ErrConcurrencyConflict = errors.New("concurrent modification detected")

// ErrForbidden indicates the acting user's role does not permit the operation.
var ErrForbidden = errors.New("operation not permitted for role")

// TranslatePgError maps low-level postgres failures onto engine errors.
func TranslatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return ErrConcurrencyConflict
		}
	}
	return err
}
