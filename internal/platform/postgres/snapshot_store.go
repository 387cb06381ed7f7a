package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/phrazzld/matrix-outbox/internal/store"
)

// SnapshotStore implements sendqueue.SnapshotStore on the ledger_snapshots
// table. Rows are scoped to one session.
type SnapshotStore struct {
	db        store.DBTX
	sessionID string
}

// NewSnapshotStore creates a SnapshotStore for sessionID on db.
// db may be a *sql.DB or a *sql.Tx.
func NewSnapshotStore(db store.DBTX, sessionID string) *SnapshotStore {
	return &SnapshotStore{
		db:        db,
		sessionID: sessionID,
	}
}

// Get returns the strings stored under key.
func (s *SnapshotStore) Get(ctx context.Context, key string) ([]string, bool, error) {
	log := logger.FromContext(ctx)

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM ledger_snapshots WHERE session_id = $1 AND key = $2`,
		s.sessionID, key,
	).Scan(&data)

	if err != nil {
		mapped := MapError(err)
		if errors.Is(mapped, store.ErrNotFound) {
			return nil, false, nil
		}
		log.Error("failed to read ledger snapshot",
			"error", err,
			"session_id", s.sessionID,
			"key", key)
		return nil, false, snapshotError("get", key, mapped)
	}

	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, false, store.NewStoreError("snapshot", "get", "malformed value", err)
	}
	return values, true, nil
}

// Put replaces the strings stored under key.
func (s *SnapshotStore) Put(ctx context.Context, key string, values []string) error {
	log := logger.FromContext(ctx)

	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_snapshots (session_id, key, value, updated_at)
		 VALUES ($1, $2, $3::jsonb, now())
		 ON CONFLICT (session_id, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		s.sessionID, key, string(data),
	)
	if err != nil {
		log.Error("failed to write ledger snapshot",
			"error", err,
			"session_id", s.sessionID,
			"key", key,
			"entries", len(values))
		return snapshotError("put", key, MapError(err))
	}
	return nil
}

// snapshotError reports a closed store or a missing schema as the bare
// sentinel so callers can print it as is.
func snapshotError(op, key string, mapped error) error {
	switch {
	case errors.Is(mapped, store.ErrStoreClosed):
		return store.ErrStoreClosed
	case errors.Is(mapped, ErrSchemaMissing):
		return ErrSchemaMissing
	default:
		return store.NewStoreError("snapshot", op, key, mapped)
	}
}
