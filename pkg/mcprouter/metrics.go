package mcprouter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by a Router. A nil *Metrics
// records nothing.
type Metrics struct {
	toolCalls    *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	connects     *prometheus.CounterVec
	sessions     *prometheus.GaugeVec
}

// NewMetrics creates the router collectors and registers them with reg. A nil
// reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcprouter",
			Name:      "tool_calls_total",
			Help:      "Tool invocations routed to upstream servers, by outcome.",
		}, []string{"server", "tool", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcprouter",
			Name:      "tool_call_duration_seconds",
			Help:      "Latency of tool invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcprouter",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to upstream servers, by outcome.",
		}, []string{"server", "outcome"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcprouter",
			Name:      "sessions",
			Help:      "Sessions currently owned by the router, by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.toolCalls, m.callDuration, m.connects, m.sessions)
	}
	return m
}

func (m *Metrics) observeCall(server, tool string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.toolCalls.WithLabelValues(server, tool, outcome).Inc()
	if server != "" {
		m.callDuration.WithLabelValues(server).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeConnect(server string, status SessionStatus) {
	if m == nil {
		return
	}
	outcome := "ok"
	if status != StatusReady {
		outcome = "failed"
	}
	m.connects.WithLabelValues(server, outcome).Inc()
}

func (m *Metrics) setSessions(counts map[SessionStatus]int) {
	if m == nil {
		return
	}
	for _, status := range []SessionStatus{StatusConnecting, StatusReady, StatusFailed, StatusClosed} {
		m.sessions.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
