package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the limiter's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	storeDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by category, subject class and outcome.",
		}, []string{"category", "subject_class", "decision"}),
		storeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "store_failures_total",
			Help:      "Quota store calls that failed open, by reason.",
		}, []string{"reason"}),
		storeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "ratelimit",
			Name:      "store_duration_seconds",
			Help:      "Latency of guarded quota store calls.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
	}
}

func (m *Metrics) recordDecision(category Category, class SubjectClass, d Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(category), string(class), d.Outcome()).Inc()
}

func (m *Metrics) recordStoreFailure(reason string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeStore(d time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.Observe(d.Seconds())
}
