package node

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "node"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of blocks processed, labeled by ledger result.
	BlocksProcessed metrics.Counter
	// Number of blocks waiting in the block processor queue.
	BlockQueueSize metrics.Gauge
	// Number of blocks refused because the queue was full.
	BlocksOverflow metrics.Counter
	// Number of blocks rolled back to make room for a confirmed winner.
	RolledBack metrics.Counter
	// Number of observer notifications dropped because the worker pool was
	// saturated.
	NotificationsDropped metrics.Counter
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
		BlocksProcessed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_processed",
			Help:      "Number of blocks processed, labeled by ledger result.",
		}, append(labels, "result")).With(labelsAndValues...),
		BlockQueueSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "block_queue_size",
			Help:      "Number of blocks waiting in the block processor queue.",
		}, labels).With(labelsAndValues...),
		BlocksOverflow: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_overflow",
			Help:      "Number of blocks refused because the block processor queue was full.",
		}, labels).With(labelsAndValues...),
		RolledBack: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rolled_back",
			Help:      "Number of blocks rolled back in favour of a confirmed winner.",
		}, labels).With(labelsAndValues...),
		NotificationsDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "notifications_dropped",
			Help:      "Number of observer notifications dropped by a saturated worker pool.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		BlocksProcessed:      discard.NewCounter(),
		BlockQueueSize:       discard.NewGauge(),
		BlocksOverflow:       discard.NewCounter(),
		RolledBack:           discard.NewCounter(),
		NotificationsDropped: discard.NewCounter(),
	}
}
