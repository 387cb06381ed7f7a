package sendqueue

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// switchProber reports reachability from a flag the test controls.
type switchProber struct {
	up    atomic.Bool
	calls atomic.Int32
}

func newSwitchProber(up bool) *switchProber {
	p := &switchProber{}
	p.up.Store(up)
	return p
}

func (p *switchProber) Check(ctx context.Context) bool {
	p.calls.Add(1)
	return p.up.Load()
}

type harness struct {
	store     *MemorySnapshotStore
	ledger    *Ledger
	gate      *NetworkGate
	prober    *switchProber
	processor *Processor
}

func newHarness(t *testing.T, cfg ProcessorConfig, rebuilder TaskRebuilder) *harness {
	t.Helper()
	h := &harness{
		store:  NewMemorySnapshotStore(),
		prober: newSwitchProber(true),
	}
	h.ledger = NewLedger(h.store, testLogger(), nil)
	h.gate = NewNetworkGate(h.prober, tick, testLogger())
	h.processor = NewProcessor(h.ledger, h.gate, rebuilder, cfg, testLogger(), nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, h.processor.OnSessionStopped(ctx))
		h.gate.Close()
	})
	return h
}

// fastConfig keeps retry delays short.
func fastConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxRetry:          3,
		DefaultRetryDelay: 5 * time.Millisecond,
		RetryAfterPadding: 0,
	}
}
