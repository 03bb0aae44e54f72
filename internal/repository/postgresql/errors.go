package postgresql

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// pgError extracts SQLSTATE and constraint name from either driver's error
// type; both drivers can sit under database/sql depending on DB_DRIVER.
func pgError(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}

func isUniqueViolation(err error, constraint string) bool {
	code, c, ok := pgError(err)
	return ok && code == codeUniqueViolation && (constraint == "" || c == constraint)
}

func isForeignKeyViolation(err error) bool {
	code, _, ok := pgError(err)
	return ok && code == codeForeignKeyViolation
}

func isCheckViolation(err error) bool {
	code, _, ok := pgError(err)
	return ok && code == codeCheckViolation
}

// retryableCode returns the SQLSTATE when err is worth replaying the whole
// transaction for.
func retryableCode(err error) (string, bool) {
	code, _, ok := pgError(err)
	if !ok {
		return "", false
	}
	switch code {
	case codeSerializationFailure, codeDeadlockDetected:
		return code, true
	}
	return "", false
}
