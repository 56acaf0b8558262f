// Package metrics exposes prometheus instrumentation for cluster member
// transitions, client sessions, retried deletes and scenario outcomes.
//
// All Record methods are safe to call on a nil *Registry, so components can be
// built without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all quorumcheck metrics on a private prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	MemberTransitionsTotal *prometheus.CounterVec
	MemberStartDuration    *prometheus.HistogramVec

	SessionConnectAttemptsTotal *prometheus.CounterVec
	DeleteAttemptsTotal         *prometheus.CounterVec

	ScenariosTotal   *prometheus.CounterVec
	ScenarioDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with every metric initialized.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.MemberTransitionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumcheck_member_transitions_total",
			Help: "Member lifecycle transitions by operation and result",
		},
		[]string{"member", "op", "result"}, // op: start, stop, restart
	)

	r.MemberStartDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorumcheck_member_start_duration_seconds",
			Help:    "Time from spawning a member until it is ready",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"member"},
	)

	r.SessionConnectAttemptsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumcheck_session_connect_attempts_total",
			Help: "Session connect attempts by member and result",
		},
		[]string{"member", "result"},
	)

	r.DeleteAttemptsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumcheck_delete_attempts_total",
			Help: "Retried delete attempts by member and error class",
		},
		[]string{"member", "result"},
	)

	r.ScenariosTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorumcheck_scenarios_total",
			Help: "Scenario runs by result",
		},
		[]string{"scenario", "result"}, // passed, failed
	)

	r.ScenarioDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quorumcheck_scenario_duration_seconds",
			Help:    "Scenario wall time including cleanup",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"scenario"},
	)

	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordTransition records a member lifecycle operation.
func (r *Registry) RecordTransition(member, op string, err error) {
	if r == nil {
		return
	}
	r.MemberTransitionsTotal.WithLabelValues(member, op, result(err)).Inc()
}

// RecordStart records how long a successful start took.
func (r *Registry) RecordStart(member string, duration time.Duration) {
	if r == nil {
		return
	}
	r.MemberStartDuration.WithLabelValues(member).Observe(duration.Seconds())
}

// RecordConnectAttempt records one session connect attempt.
func (r *Registry) RecordConnectAttempt(member string, err error) {
	if r == nil {
		return
	}
	r.SessionConnectAttemptsTotal.WithLabelValues(member, result(err)).Inc()
}

// RecordDeleteAttempt records one retried delete attempt; class is the
// error classification ("ok", "retryable", "absent", "fatal").
func (r *Registry) RecordDeleteAttempt(member, class string) {
	if r == nil {
		return
	}
	r.DeleteAttemptsTotal.WithLabelValues(member, class).Inc()
}

// RecordScenario records a scenario outcome.
func (r *Registry) RecordScenario(scenario string, passed bool, duration time.Duration) {
	if r == nil {
		return
	}

	status := "passed"
	if !passed {
		status = "failed"
	}
	r.ScenariosTotal.WithLabelValues(scenario, status).Inc()
	r.ScenarioDuration.WithLabelValues(scenario).Observe(duration.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
