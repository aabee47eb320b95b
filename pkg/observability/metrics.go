package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/espalier/pkg/domain"
)

// Metrics exposes run counters to Prometheus. All methods are safe on a nil
// receiver, so wiring metrics stays optional.
type Metrics struct {
	invocations    prometheus.Counter
	decisions      *prometheus.CounterVec
	fallbacks      prometheus.Counter
	tasksCompleted prometheus.Counter
	runsFinished   *prometheus.CounterVec
	modelCalls     *prometheus.CounterVec
	callDuration   prometheus.Histogram
}

// NewMetrics builds and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		invocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "invocations_total",
			Help:      "Sequencer and router entries across all runs.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by chosen agent kind.",
		}, []string{"chosen"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "routing_fallbacks_total",
			Help:      "Decisions resolved by a deterministic fallback.",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "tasks_completed_total",
			Help:      "Tasks marked complete across all runs.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "runs_finished_total",
			Help:      "Finished runs by final status.",
		}, []string{"status"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "model_calls_total",
			Help:      "Decision-service calls by outcome.",
		}, []string{"outcome"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "espalier",
			Name:      "model_call_duration_seconds",
			Help:      "Decision-service call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(
		m.invocations,
		m.decisions,
		m.fallbacks,
		m.tasksCompleted,
		m.runsFinished,
		m.modelCalls,
		m.callDuration,
	)
	return m
}

// ObserveInvocation counts one sequencer/router entry.
func (m *Metrics) ObserveInvocation() {
	if m == nil {
		return
	}
	m.invocations.Inc()
}

// ObserveDecision counts a routing decision and, when the reason indicates a
// substitution, a fallback.
func (m *Metrics) ObserveDecision(d domain.RoutingDecision, fallback bool) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Chosen)).Inc()
	if fallback {
		m.fallbacks.Inc()
	}
}

// ObserveTaskComplete counts a task completion.
func (m *Metrics) ObserveTaskComplete() {
	if m == nil {
		return
	}
	m.tasksCompleted.Inc()
}

// ObserveRunFinished counts a finished run by status.
func (m *Metrics) ObserveRunFinished(status domain.RunStatus) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(string(status)).Inc()
}

// ObserveCall counts one decision-service call and records its latency.
func (m *Metrics) ObserveCall(c domain.ModelCall) {
	if m == nil {
		return
	}
	outcome := "ok"
	if strings.HasSuffix(c.Purpose, domain.FailedSuffix) {
		outcome = "failed"
	}
	m.modelCalls.WithLabelValues(outcome).Inc()
	m.callDuration.Observe(c.Duration.Seconds())
}
