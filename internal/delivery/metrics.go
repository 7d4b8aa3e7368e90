package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the delivery counters exported on /metrics.
type Metrics struct {
	deliveries *prometheus.CounterVec
	runSeconds prometheus.Histogram
}

// NewMetrics registers the delivery collectors on reg. A nil reg yields
// unregistered collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broadcastbot",
			Name:      "deliveries_total",
			Help:      "Per-recipient broadcast sends by result.",
		}, []string{"result"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "broadcastbot",
			Name:      "delivery_run_seconds",
			Help:      "Wall-clock duration of a whole delivery run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.runSeconds)
	}
	return m
}

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("ok").Add(float64(r.Success))
	m.deliveries.WithLabelValues("error").Add(float64(r.Errors))
	m.runSeconds.Observe(r.Took.Seconds())
}
