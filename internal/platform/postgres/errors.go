package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/matrix-outbox/internal/store"
)

// ErrSchemaMissing is returned when the ledger tables do not exist yet.
var ErrSchemaMissing = errors.New("ledger schema is missing, run `outbox migrate up`")

// PostgreSQL error codes
const (
	uniqueViolationCode   = "23505"
	checkViolationCode    = "23514"
	notNullViolationCode  = "23502"
	undefinedTableCode    = "42P01"
	adminShutdownCode     = "57P01"
	cannotConnectNowCode  = "57P03"
	connectionFailureCode = "08006"
)

// MapError maps a database error to the matching store error while keeping
// the original error text for debugging.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if errors.Is(err, sql.ErrConnDone) || IsConnectionError(err) {
		return fmt.Errorf("%w: %v", store.ErrStoreClosed, err)
	}
	if IsUndefinedTable(err) {
		return fmt.Errorf("%w: %v", ErrSchemaMissing, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case checkViolationCode:
			return fmt.Errorf(
				"%w: check constraint violation (%s): %v",
				store.ErrInvalidEntity,
				pgErr.ConstraintName,
				err,
			)
		case notNullViolationCode:
			return fmt.Errorf(
				"%w: not null violation (%s): %v",
				store.ErrInvalidEntity,
				pgErr.ColumnName,
				err,
			)
		}
	}

	return err
}

// IsUndefinedTable reports whether the error means the schema has not been
// migrated yet.
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode
}

// IsConnectionError reports whether the server dropped or refused the
// connection.
func IsConnectionError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case adminShutdownCode, cannotConnectNowCode, connectionFailureCode:
			return true
		}
		return false
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
