package scheduler

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "scheduler"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of blocks waiting in the priority buckets.
	PrioritySize metrics.Gauge
	// Number of blocks dropped from a full priority bucket.
	PriorityOverflow metrics.Counter
	// Number of elections started, labeled by behavior.
	Activated metrics.Counter
	// Number of blocks waiting in the manual queue.
	ManualSize metrics.Gauge
	// Number of accounts activated by the backlog scan.
	BacklogActivated metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		PrioritySize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "priority_size",
			Help:      "Number of blocks waiting in the priority buckets.",
		}, labels).With(labelsAndValues...),
		PriorityOverflow: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "priority_overflow",
			Help:      "Number of blocks dropped from a full priority bucket.",
		}, labels).With(labelsAndValues...),
		Activated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "activated",
			Help:      "Number of elections started by the schedulers.",
		}, append(labels, "behavior")).With(labelsAndValues...),
		ManualSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "manual_size",
			Help:      "Number of blocks waiting in the manual queue.",
		}, labels).With(labelsAndValues...),
		BacklogActivated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "backlog_activated",
			Help:      "Number of accounts activated by the backlog scan.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		PrioritySize:     discard.NewGauge(),
		PriorityOverflow: discard.NewCounter(),
		Activated:        discard.NewCounter(),
		ManualSize:       discard.NewGauge(),
		BacklogActivated: discard.NewCounter(),
	}
}
