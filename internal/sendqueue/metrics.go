package sendqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for terminated tasks.
const (
	outcomeSent      = "sent"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// Metrics exposes send queue activity to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	submitted  *prometheus.CounterVec
	terminated *prometheus.CounterVec
	retries    *prometheus.CounterVec
	reachable  prometheus.Gauge
	ledgerSize prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted by the send queue.",
		}, []string{"type"}),
		terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "tasks_terminated_total",
			Help:      "Tasks that left the send queue, by outcome.",
		}, []string{"type", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "task_retries_total",
			Help:      "Execution attempts that were retried, by failure class.",
		}, []string{"reason"}),
		reachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outbox",
			Name:      "homeserver_reachable",
			Help:      "1 while the network gate is open.",
		}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outbox",
			Name:      "ledger_tasks",
			Help:      "Tasks currently recorded in the persistence ledger.",
		}),
	}

	for _, c := range []prometheus.Collector{m.submitted, m.terminated, m.retries, m.reachable, m.ledgerSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) taskSubmitted(taskType string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(taskType).Inc()
}

func (m *Metrics) taskTerminated(taskType, outcome string) {
	if m == nil {
		return
	}
	m.terminated.WithLabelValues(taskType, outcome).Inc()
}

func (m *Metrics) taskRetried(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) setReachable(reachable bool) {
	if m == nil {
		return
	}
	if reachable {
		m.reachable.Set(1)
	} else {
		m.reachable.Set(0)
	}
}

func (m *Metrics) setLedgerSize(n int) {
	if m == nil {
		return
	}
	m.ledgerSize.Set(float64(n))
}
