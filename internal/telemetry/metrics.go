package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics are the placement counters. A nil *Metrics records nothing.
type Metrics struct {
	placed        prometheus.Counter
	rejected      *prometheus.CounterVec
	compensations *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewMetrics registers the placement metrics and the runtime collectors on
// reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		placed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shop",
			Subsystem: "placement",
			Name:      "orders_placed_total",
			Help:      "Orders committed.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Subsystem: "placement",
			Name:      "orders_rejected_total",
			Help:      "Placements that ended without an order, by error kind.",
		}, []string{"kind"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Subsystem: "placement",
			Name:      "compensations_total",
			Help:      "Compensating stock releases, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shop",
			Subsystem: "placement",
			Name:      "duration_seconds",
			Help:      "PlaceOrder latency by result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.placed, m.rejected, m.compensations, m.duration,
	)
	return m
}

func (m *Metrics) Placed(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.placed.Inc()
	m.duration.WithLabelValues("placed").Observe(elapsed.Seconds())
}

func (m *Metrics) Rejected(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "UNKNOWN"
	}
	m.rejected.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues("rejected").Observe(elapsed.Seconds())
}

// Compensated counts a release run after a failed persist; ok is false when
// the release itself failed.
func (m *Metrics) Compensated(ok bool) {
	if m == nil {
		return
	}
	outcome := "released"
	if !ok {
		outcome = "failed"
	}
	m.compensations.WithLabelValues(outcome).Inc()
}
