package cementing

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "cementing"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of hashes waiting to be cemented.
	ConfirmingSetSize metrics.Gauge
	// Number of hashes refused because the confirming set was full.
	ConfirmingSetRejected metrics.Counter
	// Number of blocks cemented.
	CementedBlocks metrics.Counter
	// Number of blocks written per commit.
	BatchSize metrics.Histogram
	// Time spent committing one batch, in seconds.
	CommitDuration metrics.Histogram
	// Number of ledger consistency and commit errors.
	Errors metrics.Counter
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
		ConfirmingSetSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "confirming_set_size",
			Help:      "Number of hashes waiting to be cemented.",
		}, labels).With(labelsAndValues...),
		ConfirmingSetRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "confirming_set_rejected",
			Help:      "Number of hashes refused because the confirming set was full.",
		}, labels).With(labelsAndValues...),
		CementedBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "cemented_blocks",
			Help:      "Number of blocks cemented.",
		}, labels).With(labelsAndValues...),
		BatchSize: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "batch_size",
			Help:      "Number of blocks cemented per commit.",
			Buckets:   stdprometheus.ExponentialBuckets(1, 4, 8),
		}, labels).With(labelsAndValues...),
		CommitDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "commit_duration",
			Help:      "Time spent committing one cementation batch in seconds.",
			Buckets:   stdprometheus.ExponentialBuckets(0.0005, 3, 8),
		}, labels).With(labelsAndValues...),
		Errors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "errors",
			Help:      "Number of ledger consistency and commit errors during cementation.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		ConfirmingSetSize:     discard.NewGauge(),
		ConfirmingSetRejected: discard.NewCounter(),
		CementedBlocks:        discard.NewCounter(),
		BatchSize:             discard.NewHistogram(),
		CommitDuration:        discard.NewHistogram(),
		Errors:                discard.NewCounter(),
	}
}
