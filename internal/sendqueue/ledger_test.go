package sendqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotIDs(t *testing.T, s *MemorySnapshotStore) []string {
	t.Helper()
	values, _, err := s.Get(context.Background(), SnapshotKey)
	require.NoError(t, err)

	l := NewLedger(s, testLogger(), nil)
	var ids []string
	for _, rec := range l.decodeAll(values) {
		switch r := rec.(type) {
		case SendRecord:
			ids = append(ids, r.LocalEchoID)
		case RedactRecord:
			ids = append(ids, r.LocalEchoID)
		}
	}
	return ids
}

func TestLedger_TrackUntrack(t *testing.T) {
	t.Parallel()

	s := NewMemorySnapshotStore()
	l := NewLedger(s, testLogger(), nil)
	ctx := context.Background()

	a := task.NewMockTask("$local.a", "!r:example.org")
	b := task.NewMockTask("$local.b", "!r:example.org")

	require.NoError(t, l.Track(ctx, a))
	require.NoError(t, l.Track(ctx, b))
	assert.Equal(t, []string{"$local.a", "$local.b"}, snapshotIDs(t, s))
	assert.True(t, l.IsTracked("$local.a"))
	assert.Equal(t, 2, l.Len())

	require.NoError(t, l.Untrack(ctx, a))
	assert.Equal(t, []string{"$local.b"}, snapshotIDs(t, s))
	assert.False(t, l.IsTracked("$local.a"))

	// Untracking twice is harmless.
	require.NoError(t, l.Untrack(ctx, a))
	assert.Equal(t, 1, l.Len())
}

func TestLedger_UntrackMatchesIdentity(t *testing.T) {
	t.Parallel()

	l := NewLedger(NewMemorySnapshotStore(), testLogger(), nil)
	ctx := context.Background()

	tracked := task.NewMockTask("$local.a", "!r:example.org")
	other := task.NewMockTask("$local.a", "!r:example.org")

	require.NoError(t, l.Track(ctx, tracked))
	require.NoError(t, l.Untrack(ctx, other))
	assert.True(t, l.IsTracked("$local.a"))
}

func TestLedger_RejectsDuplicate(t *testing.T) {
	t.Parallel()

	l := NewLedger(NewMemorySnapshotStore(), testLogger(), nil)
	ctx := context.Background()

	require.NoError(t, l.Track(ctx, task.NewMockTask("$local.a", "!r:example.org")))
	err := l.Track(ctx, task.NewMockTask("$local.a", "!r:example.org"))
	assert.ErrorIs(t, err, ErrDuplicateTask)
}

func TestLedger_TrackWriteFailure(t *testing.T) {
	t.Parallel()

	s := NewMemorySnapshotStore()
	s.PutFn = func(ctx context.Context, key string, values []string) error {
		return errors.New("disk full")
	}
	l := NewLedger(s, testLogger(), nil)

	err := l.Track(context.Background(), task.NewMockTask("$local.a", "!r:example.org"))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 0, l.Len())
}

func TestLedger_ConcurrentTracking(t *testing.T) {
	t.Parallel()

	s := NewMemorySnapshotStore()
	l := NewLedger(s, testLogger(), nil)
	ctx := context.Background()

	tasks := make([]*task.MockTask, 50)
	for i := range tasks {
		tasks[i] = task.NewMockTask(domain.NewLocalEchoID(), "!r:example.org")
	}

	var wg sync.WaitGroup
	for _, mt := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Track(ctx, mt))
		}()
	}
	wg.Wait()
	assert.Len(t, snapshotIDs(t, s), 50)

	for _, mt := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Untrack(ctx, mt))
		}()
	}
	wg.Wait()
	assert.Empty(t, snapshotIDs(t, s))
}

// fixture builds echoes in a mock store with a factory to rebuild them.
type fixture struct {
	echoes  *task.MockEchoStore
	sender  *task.MockRemoteSender
	factory *task.Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{echoes: task.NewMockEchoStore(), sender: &task.MockRemoteSender{}}
	factory, err := task.NewFactory(f.echoes, &task.MockEncryptionChecker{}, f.sender, nil, testLogger())
	require.NoError(t, err)
	f.factory = factory
	return f
}

func (f *fixture) message(t *testing.T, roomID string, state domain.SendState) *domain.LocalEcho {
	t.Helper()
	echo, err := domain.NewLocalEcho(roomID, domain.EventTypeMessage, json.RawMessage(`{"body":"hi"}`))
	require.NoError(t, err)
	echo.SendState = state
	f.echoes.Put(echo)
	return echo
}

func (f *fixture) redaction(t *testing.T, roomID, target string, state domain.SendState) *domain.LocalEcho {
	t.Helper()
	echo, err := domain.NewRedactionEcho(roomID, target, "")
	require.NoError(t, err)
	echo.SendState = state
	f.echoes.Put(echo)
	return echo
}

func (f *fixture) sendTask(t *testing.T, echo *domain.LocalEcho) task.Task {
	t.Helper()
	no := false
	st, err := f.factory.CreateSendTask(context.Background(), echo, &no)
	require.NoError(t, err)
	return st
}

func collect(posted *[]task.Task) func(ctx context.Context, t task.Task) error {
	return func(ctx context.Context, t task.Task) error {
		*posted = append(*posted, t)
		return nil
	}
}

func TestLedger_RestoreInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewMemorySnapshotStore()
	ctx := context.Background()

	e1 := f.message(t, "!r:example.org", domain.SendStateSending)
	e2 := f.message(t, "!r:example.org", domain.SendStateSending)
	e3 := f.redaction(t, "!r:example.org", "$target", domain.SendStateUnsent)

	before := NewLedger(s, testLogger(), nil)
	require.NoError(t, before.Track(ctx, f.sendTask(t, e1)))
	require.NoError(t, before.Track(ctx, f.sendTask(t, e2)))
	rt, err := f.factory.CreateRedactTask(e3)
	require.NoError(t, err)
	require.NoError(t, before.Track(ctx, rt))

	// Simulated restart: a fresh ledger over the same store.
	after := NewLedger(s, testLogger(), nil)
	var posted []task.Task
	n, err := after.Restore(ctx, f.factory, collect(&posted))
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	require.Len(t, posted, 3)
	assert.Equal(t, e1.EventID, posted[0].ID())
	assert.Equal(t, e2.EventID, posted[1].ID())
	assert.Equal(t, e3.EventID, posted[2].ID())
	assert.Equal(t, task.TaskTypeRedact, posted[2].Type())
	assert.Equal(t, domain.SendStateUnsent, f.echoes.State(e1.EventID))
}

func TestLedger_RestoreSkipsMissingEcho(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewMemorySnapshotStore()
	ctx := context.Background()

	e1 := f.message(t, "!r:example.org", domain.SendStateSending)
	e2 := f.message(t, "!r:example.org", domain.SendStateSending)

	before := NewLedger(s, testLogger(), nil)
	require.NoError(t, before.Track(ctx, f.sendTask(t, e1)))
	require.NoError(t, before.Track(ctx, f.sendTask(t, e2)))

	require.NoError(t, f.echoes.Delete(ctx, e1.EventID))

	var posted []task.Task
	n, err := NewLedger(s, testLogger(), nil).Restore(ctx, f.factory, collect(&posted))
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, posted, 1)
	assert.Equal(t, e2.EventID, posted[0].ID())
}

func TestLedger_RestoreSkipsSettledAndUnknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	sent := f.message(t, "!r:example.org", domain.SendStateSent)
	pending := f.message(t, "!r:example.org", domain.SendStateUnsent)

	s := NewMemorySnapshotStore()
	require.NoError(t, s.Put(ctx, SnapshotKey, []string{
		`{"type":"send","order":3,"payload":{"local_echo_id":"` + pending.EventID + `","encrypt":false}}`,
		`garbage`,
		`{"type":"poll","order":0,"payload":{}}`,
		`{"type":"send","order":1,"payload":{"local_echo_id":"` + sent.EventID + `","encrypt":false}}`,
	}))

	l := NewLedger(s, testLogger(), nil)
	var posted []task.Task
	n, err := l.Restore(ctx, f.factory, collect(&posted))
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, posted, 1)
	assert.Equal(t, pending.EventID, posted[0].ID())

	// The stale records are dropped once restore completes.
	values, _, err := s.Get(ctx, SnapshotKey)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestLedger_RestoreKeepsRecordsUntilDone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewMemorySnapshotStore()
	ctx := context.Background()

	e1 := f.message(t, "!r:example.org", domain.SendStateSending)
	e2 := f.message(t, "!r:example.org", domain.SendStateSending)

	before := NewLedger(s, testLogger(), nil)
	require.NoError(t, before.Track(ctx, f.sendTask(t, e1)))
	require.NoError(t, before.Track(ctx, f.sendTask(t, e2)))

	after := NewLedger(s, testLogger(), nil)
	var seenDuringRestore [][]string
	_, err := after.Restore(ctx, f.factory, func(ctx context.Context, t2 task.Task) error {
		if err := after.Track(ctx, t2); err != nil {
			return err
		}
		seenDuringRestore = append(seenDuringRestore, snapshotIDs(t, s))
		return nil
	})
	require.NoError(t, err)

	// After re-tracking the first task the second one's old record is still present.
	require.Len(t, seenDuringRestore, 2)
	assert.Contains(t, seenDuringRestore[0], e2.EventID)
	assert.ElementsMatch(t, []string{e1.EventID, e2.EventID}, snapshotIDs(t, s))

	// A second restart sees each task once.
	records, err := after.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, e1.EventID, records[0].(SendRecord).LocalEchoID)
}

// flakyRebuilder fails the listed echoes with their error and defers the
// rest to the embedded rebuilder.
type flakyRebuilder struct {
	TaskRebuilder
	failures map[string]error
}

func (r flakyRebuilder) RestoreSendTask(ctx context.Context, payload task.SendEventPayload) (task.Task, error) {
	if err, ok := r.failures[payload.LocalEchoID]; ok {
		return nil, err
	}
	return r.TaskRebuilder.RestoreSendTask(ctx, payload)
}

func TestLedger_RestoreKeepsRecordsThatMayRecover(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewMemorySnapshotStore()
	ctx := context.Background()

	locked := f.message(t, "!r:example.org", domain.SendStateSending)
	rejected := f.message(t, "!r:example.org", domain.SendStateSending)
	fine := f.message(t, "!r:example.org", domain.SendStateSending)

	before := NewLedger(s, testLogger(), nil)
	for _, e := range []*domain.LocalEcho{locked, rejected, fine} {
		require.NoError(t, before.Track(ctx, f.sendTask(t, e)))
	}

	rebuilder := flakyRebuilder{
		TaskRebuilder: f.factory,
		failures:      map[string]error{locked.EventID: errors.New("database is locked")},
	}
	after := NewLedger(s, testLogger(), nil)
	n, err := after.Restore(ctx, rebuilder, func(ctx context.Context, t2 task.Task) error {
		if t2.ID() == rejected.EventID {
			return ErrProcessorStopped
		}
		return after.Track(ctx, t2)
	})
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{locked.EventID, rejected.EventID, fine.EventID}, snapshotIDs(t, s))

	// Untracking the restored task keeps the records still owed a retry.
	require.NoError(t, after.Untrack(ctx, findTracked(t, after, fine.EventID)))
	assert.ElementsMatch(t, []string{locked.EventID, rejected.EventID}, snapshotIDs(t, s))

	// The next session restores them once the cause has cleared.
	var posted []task.Task
	n, err = NewLedger(s, testLogger(), nil).Restore(ctx, f.factory, collect(&posted))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, posted, 2)
	assert.Equal(t, locked.EventID, posted[0].ID())
	assert.Equal(t, rejected.EventID, posted[1].ID())
}

func TestLedger_RestoreInterrupted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewMemorySnapshotStore()

	var echoes []*domain.LocalEcho
	before := NewLedger(s, testLogger(), nil)
	for i := 0; i < 3; i++ {
		e := f.message(t, "!r:example.org", domain.SendStateSending)
		echoes = append(echoes, e)
		require.NoError(t, before.Track(context.Background(), f.sendTask(t, e)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	after := NewLedger(s, testLogger(), nil)
	n, err := after.Restore(ctx, f.factory, func(ctx context.Context, t2 task.Task) error {
		defer cancel()
		return after.Track(ctx, t2)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)

	// Each task appears once: the restored one as a live entry, the
	// others as the records left unvisited.
	ids := []string{echoes[0].EventID, echoes[1].EventID, echoes[2].EventID}
	assert.ElementsMatch(t, ids, snapshotIDs(t, s))

	require.NoError(t, after.Untrack(context.Background(), findTracked(t, after, echoes[0].EventID)))
	assert.Equal(t, ids[1:], snapshotIDs(t, s))
}

// findTracked returns the tracked task with id.
func findTracked(t *testing.T, l *Ledger, id string) task.Task {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.task.ID() == id {
			return e.task
		}
	}
	t.Fatalf("task %s is not tracked", id)
	return nil
}

func TestLedger_RestoreEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := NewLedger(NewMemorySnapshotStore(), testLogger(), nil)

	n, err := l.Restore(context.Background(), f.factory, collect(new([]task.Task)))
	require.NoError(t, err)
	assert.Zero(t, n)
}
