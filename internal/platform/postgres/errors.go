package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/taskqueue/internal/store"
)

// PostgreSQL error codes
const (
	uniqueViolationCode       = "23505"
	checkViolationCode        = "23514"
	notNullViolationCode      = "23502"
	invalidTextCode           = "22P02"
	serializationFailureCode  = "40001"
	deadlockDetectedCode      = "40P01"
	lockNotAvailableCode      = "55P03"
	tooManyConnectionsCode    = "53300"
	adminShutdownCode         = "57P01"
	cannotConnectNowCode      = "57P03"
	connectionExceptionPrefix = "08"
)

// MapError maps a database error to the store's sentinel errors.
// The original error stays in the chain for debugging.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolationCode:
			return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
		case pgErr.Code == checkViolationCode:
			return fmt.Errorf(
				"%w: check constraint violation (%s): %w",
				store.ErrInvalidEntity,
				pgErr.ConstraintName,
				err,
			)
		case pgErr.Code == notNullViolationCode:
			return fmt.Errorf(
				"%w: not null violation (%s): %w",
				store.ErrInvalidEntity,
				pgErr.ColumnName,
				err,
			)
		case pgErr.Code == invalidTextCode:
			return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		case isTransientCode(pgErr.Code):
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
		return err
	}

	if IsConnectionError(err) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}

	return err
}

func isTransientCode(code string) bool {
	switch code {
	case serializationFailureCode, deadlockDetectedCode, lockNotAvailableCode,
		tooManyConnectionsCode, adminShutdownCode, cannotConnectNowCode:
		return true
	}
	return strings.HasPrefix(code, connectionExceptionPrefix)
}

// IsConnectionError reports whether err comes from a failure to reach the
// server or a dropped connection rather than from the statement itself.
func IsConnectionError(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}
