package sendqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

// ErrGateClosed is returned by AwaitReachable after the gate is closed.
var ErrGateClosed = errors.New("network gate closed")

// DefaultProbeInterval is the pause before each reachability probe while
// the gate is closed.
const DefaultProbeInterval = 10 * time.Second

// Prober answers whether the homeserver can currently be reached.
type Prober interface {
	Check(ctx context.Context) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

// Check implements Prober.
func (f ProberFunc) Check(ctx context.Context) bool {
	return f(ctx)
}

// NetworkGate holds task execution while the homeserver is unreachable.
// It starts optimistic. Waiters share a single probing loop.
type NetworkGate struct {
	reachable atomic.Bool
	prober    Prober
	interval  time.Duration
	clock     clock.Clock
	group     singleflight.Group
	logger    *slog.Logger
	metrics   *Metrics

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// GateOption configures a NetworkGate.
type GateOption func(*NetworkGate)

// WithGateClock replaces the wall clock used between probes.
func WithGateClock(c clock.Clock) GateOption {
	return func(g *NetworkGate) { g.clock = c }
}

// WithGateMetrics reports the gate state to m.
func WithGateMetrics(m *Metrics) GateOption {
	return func(g *NetworkGate) { g.metrics = m }
}

// NewNetworkGate creates an open gate that probes every interval while
// closed. A non-positive interval selects DefaultProbeInterval.
func NewNetworkGate(prober Prober, interval time.Duration, logger *slog.Logger, opts ...GateOption) *NetworkGate {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &NetworkGate{
		prober:   prober,
		interval: interval,
		clock:    clock.New(),
		logger:   logger.With("component", "network_gate"),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.reachable.Store(true)
	g.metrics.setReachable(true)
	return g
}

// Reachable reports the current flag value.
func (g *NetworkGate) Reachable() bool {
	return g.reachable.Load()
}

// MarkUnreachable closes the gate. The next AwaitReachable starts probing
// after one interval.
func (g *NetworkGate) MarkUnreachable() {
	if g.reachable.CompareAndSwap(true, false) {
		g.logger.Warn("homeserver unreachable, holding outbound tasks")
		g.metrics.setReachable(false)
	}
}

// AwaitReachable returns once the gate is open, ctx is done, or the gate
// is closed.
func (g *NetworkGate) AwaitReachable(ctx context.Context) error {
	if g.reachable.Load() {
		return nil
	}

	ch := g.group.DoChan("probe", func() (interface{}, error) {
		return nil, g.probeUntilReachable()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Close stops any probing loop and releases waiters with ErrGateClosed.
func (g *NetworkGate) Close() {
	g.closeOnce.Do(g.cancel)
}

// probeUntilReachable runs on the gate's own context so one waiter giving
// up does not stop the loop for the others. Every probe, the first one
// included, waits one interval; a task that just failed on the network is
// not retried sooner than that even when the probe succeeds at once.
func (g *NetworkGate) probeUntilReachable() error {
	attempts := 0
	for {
		select {
		case <-g.ctx.Done():
			return ErrGateClosed
		case <-g.clock.After(g.interval):
		}

		if g.reachable.Load() {
			return nil
		}

		attempts++
		if g.prober.Check(g.ctx) {
			if g.reachable.CompareAndSwap(false, true) {
				g.logger.Info("homeserver reachable again", "probe_attempts", attempts)
				g.metrics.setReachable(true)
			}
			return nil
		}

		g.logger.Debug("homeserver still unreachable", "probe_attempts", attempts, "retry_in", g.interval)
	}
}
