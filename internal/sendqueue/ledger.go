package sendqueue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/phrazzld/matrix-outbox/internal/domain"
	"github.com/phrazzld/matrix-outbox/internal/store"
	"github.com/phrazzld/matrix-outbox/internal/task"
)

// SnapshotKey is the key the ledger snapshot is stored under. Stores scope
// it to the session's user.
const SnapshotKey = "pending_tasks"

// ErrDuplicateTask is returned when a task with the same id is already tracked.
var ErrDuplicateTask = errors.New("task already tracked")

// SnapshotStore is a durable string-set store scoped to one user session.
// Version: 1.0
type SnapshotStore interface {
	// Get returns the values stored under key. The bool is false when the
	// key has never been written.
	Get(ctx context.Context, key string) ([]string, bool, error)

	// Put replaces the values stored under key.
	Put(ctx context.Context, key string, values []string) error
}

// TaskRebuilder recreates tasks from persisted records. *task.Factory
// implements it.
type TaskRebuilder interface {
	RestoreSendTask(ctx context.Context, payload task.SendEventPayload) (task.Task, error)
	RestoreRedactTask(ctx context.Context, payload task.RedactPayload) (task.Task, error)
}

type ledgerEntry struct {
	task   task.Task
	record string
}

// Ledger is the durable record of the tasks the processor currently owns.
// Every change rewrites the full snapshot while holding the lock.
type Ledger struct {
	mu      sync.Mutex
	store   SnapshotStore
	entries []ledgerEntry
	// carried holds the previous session's records while a restore is in
	// progress, so a crash mid-restore loses nothing.
	carried []string
	next    int64
	logger  *slog.Logger
	metrics *Metrics
}

// NewLedger creates an empty ledger over store. metrics may be nil.
func NewLedger(store SnapshotStore, logger *slog.Logger, metrics *Metrics) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger.With("component", "ledger"),
		metrics: metrics,
	}
}

// Track records t and persists the snapshot. Nothing changes when the
// write fails.
func (l *Ledger) Track(ctx context.Context, t task.Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.task.ID() == t.ID() {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID())
		}
	}

	record, err := encodeRecord(l.next, t)
	if err != nil {
		return err
	}

	entries := append(slices.Clone(l.entries), ledgerEntry{task: t, record: record})
	if err := l.persist(ctx, entries); err != nil {
		return err
	}

	l.entries = entries
	l.next++
	return nil
}

// Untrack removes t, matched by identity, and persists the snapshot. The
// task is forgotten in memory even if the write fails; the next
// successful write drops it from storage.
func (l *Ledger) Untrack(ctx context.Context, t task.Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := slices.IndexFunc(l.entries, func(e ledgerEntry) bool { return e.task == t })
	if idx < 0 {
		return nil
	}

	l.entries = slices.Delete(slices.Clone(l.entries), idx, idx+1)
	return l.persist(ctx, l.entries)
}

// IsTracked reports whether a task with id is tracked.
func (l *Ledger) IsTracked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.ContainsFunc(l.entries, func(e ledgerEntry) bool { return e.task.ID() == id })
}

// Len returns the number of tracked tasks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Records reads and decodes the durable snapshot, ordered by position.
// Values that are not records at all are logged and left out.
func (l *Ledger) Records(ctx context.Context) ([]Record, error) {
	values, _, err := l.store.Get(ctx, SnapshotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	return l.decodeAll(values), nil
}

// Restore resubmits the tasks recorded by a previous session, oldest
// first, through post. Records whose local echo is gone or no longer
// pending are dropped, as are unknown records. A record that fails for any
// other reason stays in the snapshot for the next session, and a failure on
// one record does not stop the others. When ctx ends partway, the records
// not yet visited are kept the same way. It returns the number of tasks
// resubmitted.
func (l *Ledger) Restore(
	ctx context.Context,
	rebuilder TaskRebuilder,
	post func(ctx context.Context, t task.Task) error,
) (int, error) {
	values, found, err := l.store.Get(ctx, SnapshotKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}
	if !found || len(values) == 0 {
		l.logger.Debug("no tasks to restore")
		return 0, nil
	}

	records := l.decode(values)

	l.mu.Lock()
	l.carried = slices.Clone(values)
	if n := len(records); n > 0 && records[n-1].rec.RecordOrder() >= l.next {
		l.next = records[n-1].rec.RecordOrder() + 1
	}
	l.mu.Unlock()

	l.logger.Info("restoring send queue", "record_count", len(records))

	var (
		kept     []string
		restored int
		ctxErr   error
	)
	for i, d := range records {
		if ctxErr = ctx.Err(); ctxErr != nil {
			for _, rest := range records[i:] {
				kept = append(kept, rest.raw)
			}
			break
		}

		posted, keep := l.restoreOne(ctx, d.rec, rebuilder, post)
		if posted {
			restored++
		}
		if keep {
			kept = append(kept, d.raw)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.carried = kept
	if err := l.persist(context.WithoutCancel(ctx), l.entries); err != nil {
		return restored, err
	}
	if ctxErr != nil {
		return restored, ctxErr
	}

	l.logger.Info("send queue restored",
		"restored_count", restored,
		"kept_count", len(kept),
		"record_count", len(records))
	return restored, nil
}

// restoreOne rebuilds and posts rec. keep reports that the record must stay
// in the snapshot because its failure may clear up in a later session.
func (l *Ledger) restoreOne(
	ctx context.Context,
	rec Record,
	rebuilder TaskRebuilder,
	post func(ctx context.Context, t task.Task) error,
) (posted, keep bool) {
	log := l.logger.With("order", rec.RecordOrder(), "record_type", rec.RecordType())

	var (
		t   task.Task
		err error
	)
	switch r := rec.(type) {
	case SendRecord:
		t, err = rebuilder.RestoreSendTask(ctx, r.SendEventPayload)
	case RedactRecord:
		t, err = rebuilder.RestoreRedactTask(ctx, r.RedactPayload)
	default:
		log.Debug("dropping unknown ledger record")
		return false, false
	}

	if err != nil {
		if store.IsNotFoundError(err) || errors.Is(err, domain.ErrNotPending) {
			log.Debug("dropping completed ledger record", "error", err)
			return false, false
		}
		log.Warn("failed to rebuild task from ledger record, keeping it", "error", err)
		return false, true
	}

	if err := post(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			log.Debug("task already queued", "task_id", t.ID())
			return false, false
		}
		log.Warn("failed to resubmit restored task, keeping it", "task_id", t.ID(), "error", err)
		return false, true
	}
	return true, false
}

type decodedRecord struct {
	rec Record
	raw string
}

// decode parses values and sorts them by order, keeping each raw value.
func (l *Ledger) decode(values []string) []decodedRecord {
	records := make([]decodedRecord, 0, len(values))
	for _, v := range values {
		rec, err := decodeRecord(v)
		if err != nil {
			l.logger.Warn("skipping unreadable ledger record", "error", err)
			continue
		}
		records = append(records, decodedRecord{rec: rec, raw: v})
	}

	slices.SortStableFunc(records, func(a, b decodedRecord) int {
		return cmp.Compare(a.rec.RecordOrder(), b.rec.RecordOrder())
	})
	return records
}

// decodeAll parses values and sorts them by order.
func (l *Ledger) decodeAll(values []string) []Record {
	decoded := l.decode(values)
	records := make([]Record, len(decoded))
	for i, d := range decoded {
		records[i] = d.rec
	}
	return records
}

// persist writes entries, plus any carried records, as the full snapshot.
// The caller holds l.mu.
func (l *Ledger) persist(ctx context.Context, entries []ledgerEntry) error {
	values := make([]string, 0, len(entries)+len(l.carried))
	values = append(values, l.carried...)
	for _, e := range entries {
		values = append(values, e.record)
	}

	if err := l.store.Put(ctx, SnapshotKey, values); err != nil {
		return fmt.Errorf("failed to write ledger snapshot: %w", err)
	}
	l.metrics.setLedgerSize(len(entries))
	return nil
}
