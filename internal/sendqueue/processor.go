package sendqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/phrazzld/matrix-outbox/internal/task"
)

// ErrProcessorStopped is returned by PostTask after OnSessionStopped.
var ErrProcessorStopped = errors.New("send queue processor is stopped")

// Defaults applied to zero ProcessorConfig fields.
const (
	DefaultMaxRetry          = 3
	DefaultRetryDelay        = 3 * time.Second
	DefaultRetryAfterPadding = 200 * time.Millisecond
)

// ProcessorConfig tunes the retry policy.
type ProcessorConfig struct {
	// MaxRetry is the number of counted failures after which a task fails
	// permanently.
	MaxRetry int

	// DefaultRetryDelay is used when a rate-limited response carries no
	// retry hint.
	DefaultRetryDelay time.Duration

	// RetryAfterPadding is added to server-suggested delays.
	RetryAfterPadding time.Duration

	// OnGlobalError receives failures that invalidate the whole session,
	// such as a rejected access token.
	OnGlobalError func(err error)

	// Clock drives retry delays. Nil selects the wall clock.
	Clock clock.Clock
}

// DefaultProcessorConfig returns a ProcessorConfig with the default policy.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxRetry:          DefaultMaxRetry,
		DefaultRetryDelay: DefaultRetryDelay,
		RetryAfterPadding: DefaultRetryAfterPadding,
	}
}

// CancelHandle lets the submitter cancel a posted task.
type CancelHandle struct {
	task task.Task
}

// TaskID returns the id of the task the handle controls.
func (h CancelHandle) TaskID() string {
	return h.task.ID()
}

// Cancel cancels the task. It is safe to call at any time.
func (h CancelHandle) Cancel() {
	h.task.Cancel()
}

// Processor orchestrates task execution: it records tasks in the ledger,
// sequences them per room, holds them behind the network gate, and applies
// the retry policy.
type Processor struct {
	cfg       ProcessorConfig
	ledger    *Ledger
	gate      *NetworkGate
	rebuilder TaskRebuilder
	seqs      *sequencers
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	tasks   map[string]task.Task
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewProcessor creates a processor that accepts tasks immediately.
// rebuilder may be nil when there is nothing to restore; metrics may be nil.
func NewProcessor(
	ledger *Ledger,
	gate *NetworkGate,
	rebuilder TaskRebuilder,
	cfg ProcessorConfig,
	logger *slog.Logger,
	metrics *Metrics,
) *Processor {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = DefaultMaxRetry
	}
	if cfg.DefaultRetryDelay <= 0 {
		cfg.DefaultRetryDelay = DefaultRetryDelay
	}
	if cfg.RetryAfterPadding < 0 {
		cfg.RetryAfterPadding = 0
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		cfg:       cfg,
		ledger:    ledger,
		gate:      gate,
		rebuilder: rebuilder,
		seqs:      newSequencers(),
		clock:     clk,
		logger:    logger.With("component", "send_queue"),
		metrics:   metrics,
		tasks:     make(map[string]task.Task),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// PostTask records t in the ledger and queues it behind earlier tasks of
// its room. It returns without waiting for execution.
func (p *Processor) PostTask(ctx context.Context, t task.Task) (CancelHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return CancelHandle{}, ErrProcessorStopped
	}
	if _, ok := p.tasks[t.ID()]; ok {
		return CancelHandle{}, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID())
	}

	if err := p.ledger.Track(ctx, t); err != nil {
		return CancelHandle{}, fmt.Errorf("failed to track task: %w", err)
	}

	p.tasks[t.ID()] = t
	p.seqs.runExclusive(t.RoomID(), func() { p.executeWithRetry(t) })
	p.metrics.taskSubmitted(t.Type())

	p.logger.Debug("task posted", "task_id", t.ID(), "task_type", t.Type(), "room_id", t.RoomID())
	return CancelHandle{task: t}, nil
}

// Cancel cancels the queued task with taskID in roomID. It reports whether
// such a task was found.
func (p *Processor) Cancel(taskID, roomID string) bool {
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	p.mu.Unlock()

	if !ok || t.RoomID() != roomID {
		return false
	}
	t.Cancel()
	return true
}

// Pending returns the number of tasks the processor currently owns.
func (p *Processor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// OnSessionStarted resubmits the tasks recorded by the previous session.
func (p *Processor) OnSessionStarted(ctx context.Context) error {
	if p.rebuilder == nil {
		return nil
	}

	_, err := p.ledger.Restore(ctx, p.rebuilder, func(ctx context.Context, t task.Task) error {
		_, err := p.PostTask(ctx, t)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to restore send queue: %w", err)
	}
	return nil
}

// OnSessionStopped rejects new tasks and interrupts waiting ones. Tasks
// interrupted this way stay in the ledger for the next session. It returns
// once every room has drained or ctx is done.
func (p *Processor) OnSessionStopped(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.cancel()
	p.mu.Unlock()

	p.logger.Info("stopping send queue", "pending_tasks", p.Pending())

	done := make(chan struct{})
	go func() {
		p.seqs.wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send queue did not drain: %w", ctx.Err())
	}
}

// executeWithRetry runs t until it succeeds, fails permanently, is
// cancelled, or the processor stops.
func (p *Processor) executeWithRetry(t task.Task) {
	ctx := p.ctx
	log := p.logger.With("task_id", t.ID(), "task_type", t.Type(), "room_id", t.RoomID())

	skipGate := false
	for {
		if t.IsCancelled() {
			log.Info("task cancelled before execution")
			p.finish(t, outcomeCancelled)
			return
		}

		if ctx.Err() != nil {
			log.Info("task left queued for the next session")
			p.release(t)
			return
		}

		if !skipGate {
			if err := p.gate.AwaitReachable(ctx); err != nil {
				log.Info("task interrupted while waiting for network", "error", err)
				p.release(t)
				return
			}
		}
		skipGate = false

		err := t.Execute(ctx)
		if err == nil {
			p.finish(t, outcomeSent)
			return
		}

		if ctx.Err() != nil {
			log.Info("task interrupted by shutdown", "error", err)
			p.release(t)
			return
		}

		switch task.Classify(err) {
		case task.CategoryConnectivity:
			log.Warn("connectivity failure, waiting for network", "error", err)
			p.gate.MarkUnreachable()
			p.metrics.taskRetried(task.CategoryConnectivity.String())

		case task.CategoryRateLimited:
			n := t.IncrementRetryCount()
			if n >= p.cfg.MaxRetry {
				log.Error("retry budget exhausted", "retry_count", n, "error", err)
				p.fail(t, err)
				return
			}

			delay := p.retryDelay(err)
			log.Info("rate limited, retrying", "retry_count", n, "delay", delay)
			p.metrics.taskRetried(task.CategoryRateLimited.String())

			select {
			case <-ctx.Done():
				log.Info("task interrupted during retry delay")
				p.release(t)
				return
			case <-p.clock.After(delay):
			}
			// The server answered, so the network is fine.
			skipGate = true

		case task.CategoryCancelled:
			log.Info("task cancelled during execution")
			p.finish(t, outcomeCancelled)
			return

		default:
			if errors.Is(err, task.ErrSessionInvalid) && p.cfg.OnGlobalError != nil {
				p.cfg.OnGlobalError(err)
			}
			log.Error("task failed permanently", "retry_count", t.RetryCount(), "error", err)
			p.fail(t, err)
			return
		}
	}
}

func (p *Processor) retryDelay(err error) time.Duration {
	if d := task.RetryAfter(err); d > 0 {
		return d + p.cfg.RetryAfterPadding
	}
	return p.cfg.DefaultRetryDelay
}

// fail runs the permanent failure callback, then untracks t.
func (p *Processor) fail(t task.Task, cause error) {
	ctx := context.WithoutCancel(p.ctx)
	if err := t.OnPermanentFailure(ctx); err != nil {
		p.logger.Error("permanent failure callback failed",
			"task_id", t.ID(),
			"task_type", t.Type(),
			"cause", cause,
			"error", err)
	}
	p.finish(t, outcomeFailed)
}

// finish removes a terminated task from the ledger.
func (p *Processor) finish(t task.Task, outcome string) {
	if err := p.ledger.Untrack(context.WithoutCancel(p.ctx), t); err != nil {
		p.logger.Error("failed to untrack task", "task_id", t.ID(), "error", err)
	}
	p.release(t)
	p.metrics.taskTerminated(t.Type(), outcome)
}

// release forgets the cancel handle of t without touching the ledger.
func (p *Processor) release(t task.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.tasks[t.ID()]; ok && cur == t {
		delete(p.tasks, t.ID())
	}
}
