// Package telemetry exposes prometheus counters for the orchestrator.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements the recorder boundaries used across the orchestrator:
// turn outcomes, tool runs, guard verdicts and session evictions.
type Metrics struct {
	turns         *prometheus.CounterVec
	toolRuns      *prometheus.CounterVec
	guardVerdicts *prometheus.CounterVec
	intercepts    prometheus.Counter
	evictions     *prometheus.CounterVec
}

// New creates and registers the metric set on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "turns_total",
			Help:      "Turns processed, by outcome.",
		}, []string{"outcome"}),
		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "tool_runs_total",
			Help:      "Tool invocations, by tool and result.",
		}, []string{"tool", "result"}),
		guardVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "guard_verdicts_total",
			Help:      "Guard verdicts, by action.",
		}, []string{"action"}),
		intercepts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "guard_intercepts_total",
			Help:      "Turns intercepted by the guard.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "session_evictions_total",
			Help:      "Session evictions, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.turns, m.toolRuns, m.guardVerdicts, m.intercepts, m.evictions)
	return m
}

// RecordTurn counts one finished turn.
func (m *Metrics) RecordTurn(outcome string) {
	m.turns.WithLabelValues(outcome).Inc()
}

// RecordToolRun counts one tool invocation.
func (m *Metrics) RecordToolRun(tool string, success bool) {
	result := "ok"
	if !success {
		result = "error"
	}
	m.toolRuns.WithLabelValues(tool, result).Inc()
}

// RecordGuardIntercept counts one intercepted turn.
func (m *Metrics) RecordGuardIntercept() {
	m.intercepts.Inc()
}

// RecordGuardVerdict counts one guard verdict.
func (m *Metrics) RecordGuardVerdict(action string) {
	m.guardVerdicts.WithLabelValues(action).Inc()
}

// RecordEviction counts one session eviction.
func (m *Metrics) RecordEviction(kind string) {
	m.evictions.WithLabelValues(kind).Inc()
}
