package task

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/store"
)

// MockEchoStore is an in-memory store.LocalEchoStore for testing. The Fn fields
// override the default map-backed behaviour when set.
type MockEchoStore struct {
	mutex  sync.RWMutex
	echoes map[string]*domain.LocalEcho

	SaveFn            func(ctx context.Context, echo *domain.LocalEcho) error
	GetFn             func(ctx context.Context, eventID string) (*domain.LocalEcho, error)
	UpdateSendStateFn func(ctx context.Context, eventID string, state domain.SendState) error
}

// NewMockEchoStore creates a store holding copies of echoes.
func NewMockEchoStore(echoes ...*domain.LocalEcho) *MockEchoStore {
	s := &MockEchoStore{echoes: make(map[string]*domain.LocalEcho)}
	for _, e := range echoes {
		s.Put(e)
	}
	return s
}

// Put inserts or replaces a copy of echo.
func (s *MockEchoStore) Put(echo *domain.LocalEcho) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	c := *echo
	s.echoes[echo.EventID] = &c
}

// Has reports whether an echo with eventID exists.
func (s *MockEchoStore) Has(eventID string) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	_, ok := s.echoes[eventID]
	return ok
}

// State returns the send state of eventID, or "" when missing.
func (s *MockEchoStore) State(eventID string) domain.SendState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if e, ok := s.echoes[eventID]; ok {
		return e.SendState
	}
	return ""
}

// Save implements store.LocalEchoStore.
func (s *MockEchoStore) Save(ctx context.Context, echo *domain.LocalEcho) error {
	if s.SaveFn != nil {
		return s.SaveFn(ctx, echo)
	}
	if echo == nil {
		return store.ErrInvalidEntity
	}
	if err := echo.Validate(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.echoes[echo.EventID]; ok {
		return store.ErrLocalEchoExists
	}
	c := *echo
	s.echoes[echo.EventID] = &c
	return nil
}

// Get implements EchoStore.
func (s *MockEchoStore) Get(ctx context.Context, eventID string) (*domain.LocalEcho, error) {
	if s.GetFn != nil {
		return s.GetFn(ctx, eventID)
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	e, ok := s.echoes[eventID]
	if !ok {
		return nil, store.ErrLocalEchoNotFound
	}
	c := *e
	return &c, nil
}

// UpdateSendState implements EchoStore.
func (s *MockEchoStore) UpdateSendState(ctx context.Context, eventID string, state domain.SendState) error {
	if s.UpdateSendStateFn != nil {
		return s.UpdateSendStateFn(ctx, eventID, state)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, ok := s.echoes[eventID]
	if !ok {
		return store.ErrLocalEchoNotFound
	}
	e.SendState = state
	return nil
}

// MarkSent implements EchoStore. The state change goes through
// UpdateSendState so UpdateSendStateFn sees it.
func (s *MockEchoStore) MarkSent(ctx context.Context, eventID, remoteEventID string) error {
	s.mutex.Lock()
	e, ok := s.echoes[eventID]
	if ok {
		e.RemoteEventID = remoteEventID
	}
	s.mutex.Unlock()

	if !ok {
		return store.ErrLocalEchoNotFound
	}
	return s.UpdateSendState(ctx, eventID, domain.SendStateSent)
}

// Delete implements EchoStore.
func (s *MockEchoStore) Delete(ctx context.Context, eventID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.echoes, eventID)
	return nil
}

// ListByRoom implements store.LocalEchoStore.
func (s *MockEchoStore) ListByRoom(ctx context.Context, roomID string) ([]*domain.LocalEcho, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var echoes []*domain.LocalEcho
	for _, e := range s.echoes {
		if e.RoomID == roomID {
			c := *e
			echoes = append(echoes, &c)
		}
	}
	sort.Slice(echoes, func(i, j int) bool {
		if !echoes[i].CreatedAt.Equal(echoes[j].CreatedAt) {
			return echoes[i].CreatedAt.Before(echoes[j].CreatedAt)
		}
		return echoes[i].EventID < echoes[j].EventID
	})
	return echoes, nil
}

var _ store.LocalEchoStore = (*MockEchoStore)(nil)
