package fetcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the fetcher's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	results        *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	liveDuration   prometheus.Histogram
	snapshotWrites *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_results_total",
			Help: "Fetch cycles by result kind.",
		}, []string{"kind"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "HTTP attempts by outcome.",
		}, []string{"outcome"}),
		liveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetch_live_duration_seconds",
			Help:    "Duration of fetch cycles that produced live data, retries included.",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_writes_total",
			Help: "Snapshot writes by status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.results, m.attempts, m.liveDuration, m.snapshotWrites)
	}
	return m
}

func (m *Metrics) observeResult(k Kind) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(k.String()).Inc()
}

func (m *Metrics) observeAttempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeLive(seconds float64) {
	if m == nil {
		return
	}
	m.liveDuration.Observe(seconds)
}

func (m *Metrics) observeWrite(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.snapshotWrites.WithLabelValues(status).Inc()
}
