package authclient

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricAuthLoginSuccess      = "auth.login.success"
	metricAuthLoginFailure      = "auth.login.failure"
	metricAuthRefreshSuccess    = "auth.refresh.success"
	metricAuthRefreshFailure    = "auth.refresh.failure"
	metricAuthRefreshProactive  = "auth.refresh.proactive"
	metricAuthRefreshCoalesced  = "auth.refresh.coalesced"
	metricAuthRequestRetried    = "auth.request.retried"
	metricAuthLogoutSuccess     = "auth.logout.success"
	metricAuthSessionExpired    = "auth.session.expired"
	metricAuthCheckShortCircuit = "auth.check.short_circuit"
)

// MetricsRecorder increments counters for session events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CounterMetrics implements MetricsRecorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}

// PrometheusMetrics exports session events as a labelled counter.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics builds the collector. Register it with RegisterCollectors.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	if namespace == "" {
		namespace = "authsession"
	}
	return &PrometheusMetrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "session_events_total", Help: "Number of session lifecycle events by type."},
			[]string{"event"},
		),
	}
}

// Increment increases the counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}

// RegisterCollectors registers the counter with reg.
func (recorder *PrometheusMetrics) RegisterCollectors(reg prometheus.Registerer) error {
	return reg.Register(recorder.events)
}

// Collector exposes the underlying collector for tests and custom registries.
func (recorder *PrometheusMetrics) Collector() prometheus.Collector {
	return recorder.events
}
