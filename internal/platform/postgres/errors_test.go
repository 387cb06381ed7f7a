package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/matrix-outbox/internal/platform/postgres"
	"github.com/phrazzld/matrix-outbox/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		SchemaName:     "public",
		TableName:      "ledger_snapshots",
		ColumnName:     "value",
		ConstraintName: "ledger_snapshots_value_is_array",
	}
}

func TestIsUndefinedTable(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsUndefinedTable(newPgError("42P01")))
	assert.False(t, postgres.IsUndefinedTable(newPgError("23505")))
	assert.False(t, postgres.IsUndefinedTable(errors.New("relation does not exist")))
}

func TestIsConnectionError(t *testing.T) {
	t.Parallel()

	assert.True(t, postgres.IsConnectionError(newPgError("57P01")))
	assert.True(t, postgres.IsConnectionError(newPgError("08006")))
	assert.False(t, postgres.IsConnectionError(newPgError("23505")))
	assert.False(t, postgres.IsConnectionError(errors.New("boom")))
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		errIs  error
		errMsg string
	}{
		{"nil error", nil, nil, ""},
		{"sql.ErrNoRows", sql.ErrNoRows, store.ErrNotFound, "entity not found"},
		{"sql.ErrConnDone", sql.ErrConnDone, store.ErrStoreClosed, "store is closed"},
		{"unique violation", newPgError("23505"), store.ErrDuplicate, "entity already exists"},
		{"check constraint violation", newPgError("23514"), store.ErrInvalidEntity, "ledger_snapshots_value_is_array"},
		{"not null violation", newPgError("23502"), store.ErrInvalidEntity, "not null violation (value)"},
		{"admin shutdown", newPgError("57P01"), store.ErrStoreClosed, "store is closed"},
		{"wrapped connection failure", fmt.Errorf("put: %w", newPgError("08006")), store.ErrStoreClosed, "store is closed"},
		{"undefined table", newPgError("42P01"), postgres.ErrSchemaMissing, "outbox migrate up"},
		{"other postgres error", newPgError("22001"), nil, ""},
		{"generic error", errors.New("generic error"), nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := postgres.MapError(tt.err)

			if tt.err == nil {
				assert.Nil(t, result)
				return
			}
			if tt.errIs == nil {
				assert.Equal(t, tt.err.Error(), result.Error())
				return
			}
			assert.ErrorIs(t, result, tt.errIs)
			assert.Contains(t, result.Error(), tt.errMsg)
		})
	}
}
