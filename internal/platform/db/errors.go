package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinic/ledger/internal/platform/apperr"
)

// Postgres SQLSTATE codes the ledger reacts to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeOutOfRange          = "22003"
	codeStringTooLong       = "22001"
	codeQueryCanceled       = "57014"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// MapError converts a driver error into the ledger's error taxonomy. Errors
// that already carry a kind pass through untouched.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		e := apperr.NotFound(op, "record", "")
		e.Msg = "record not found"
		e.Err = err
		return e
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			e := apperr.Conflict(op, "duplicate value violates %s", pgErr.ConstraintName)
			e.Err = err
			return e
		case codeForeignKeyViolation, codeCheckViolation:
			e := apperr.Validation(op, "invalid reference or value (%s)", pgErr.ConstraintName)
			e.Err = err
			return e
		case codeOutOfRange, codeStringTooLong:
			e := apperr.Validation(op, "value does not fit its column: %s", pgErr.Message)
			e.Err = err
			return e
		case codeQueryCanceled, codeSerialization, codeDeadlock:
			return apperr.Persistence(op, err)
		}
	}
	// Timeouts, cancellations and connection failures all surface the same way.
	return apperr.Persistence(op, err)
}

// IsUniqueViolation reports whether err is a unique violation on constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
