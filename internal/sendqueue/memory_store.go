package sendqueue

import (
	"context"
	"slices"
	"sync"
)

// MemorySnapshotStore is a SnapshotStore held in memory. It does not
// survive restarts and is meant for tests and dry runs. PutFn, when set,
// runs before every write and can fail it.
type MemorySnapshotStore struct {
	mu     sync.Mutex
	values map[string][]string
	puts   int

	PutFn func(ctx context.Context, key string, values []string) error
}

// NewMemorySnapshotStore returns an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{values: make(map[string][]string)}
}

// Get implements SnapshotStore.
func (s *MemorySnapshotStore) Get(ctx context.Context, key string) ([]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return slices.Clone(v), ok, nil
}

// Put implements SnapshotStore.
func (s *MemorySnapshotStore) Put(ctx context.Context, key string, values []string) error {
	if s.PutFn != nil {
		if err := s.PutFn(ctx, key, values); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = slices.Clone(values)
	s.puts++
	return nil
}

// Puts returns the number of successful writes.
func (s *MemorySnapshotStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
