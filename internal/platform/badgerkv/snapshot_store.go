package badgerkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/phrazzld/matrix-outbox/internal/store"
)

// KeyPrefix is the root namespace of every key written by this package.
const KeyPrefix = "outbox/"

// SnapshotStore implements sendqueue.SnapshotStore for one user session.
type SnapshotStore struct {
	db     *badger.DB
	prefix []byte
}

// NewSnapshotStore scopes db to userID.
func NewSnapshotStore(db *badger.DB, userID string) *SnapshotStore {
	return &SnapshotStore{
		db:     db,
		prefix: []byte(KeyPrefix + userID + "/"),
	}
}

func (s *SnapshotStore) prefixKey(key string) []byte {
	prefixed := make([]byte, len(s.prefix)+len(key))
	copy(prefixed, s.prefix)
	copy(prefixed[len(s.prefix):], key)
	return prefixed
}

// Get returns the strings stored under key.
func (s *SnapshotStore) Get(ctx context.Context, key string) ([]string, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var values []string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.prefixKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(data []byte) error {
			return json.Unmarshal(data, &values)
		})
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, false, nil
	case errors.Is(err, badger.ErrDBClosed):
		return nil, false, store.ErrStoreClosed
	case err != nil:
		return nil, false, store.NewStoreError("snapshot", "get", key, err)
	}
	return values, true, nil
}

// Put replaces the strings stored under key.
func (s *SnapshotStore) Put(ctx context.Context, key string, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if values == nil {
		values = []string{}
	}

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.prefixKey(key), data)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return store.ErrStoreClosed
	}
	if err != nil {
		return store.NewStoreError("snapshot", "put", key, err)
	}
	return nil
}
