package pg

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"relief.org/internal/ledger"
)

// Postgres error codes the stores react to.
const (
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
)

// unavailable wraps an infrastructure error as ledger.ErrStoreUnavailable so
// callers can classify it while the cause stays in the message.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeQueryCanceled:
			return fmt.Errorf("%w: %s: lock wait exceeded (%s)", ledger.ErrStoreUnavailable, op, pgErr.Code)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s: transaction aborted (%s)", ledger.ErrStoreUnavailable, op, pgErr.Code)
		}
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %s: bad connection", ledger.ErrStoreUnavailable, op)
	}
	return fmt.Errorf("%w: %s: %v", ledger.ErrStoreUnavailable, op, err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
