package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/orvnode/orv/types"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "active_elections"
)

// DropReason says why an election left the container unconfirmed, or was
// never admitted.
type DropReason int

const (
	// DropCapacity: insertion refused for lack of vacancy.
	DropCapacity DropReason = iota
	// DropEvicted: a hinted or optimistic election made way for a priority one.
	DropEvicted
	// DropExpired: the election outlived its time to live.
	DropExpired
	// DropErased: erased by request, rollback or shutdown.
	DropErased

	numDropReasons
)

func (r DropReason) String() string {
	switch r {
	case DropCapacity:
		return "capacity"
	case DropEvicted:
		return "evicted"
	case DropExpired:
		return "expired"
	case DropErased:
		return "erased"
	default:
		return "unknown"
	}
}

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of elections started.
	ElectionsStarted metrics.Counter
	// Number of elections that ended without confirmation, plus insertions
	// refused for lack of capacity, per DropReason.
	ElectionsDropped [numDropReasons]metrics.Counter
	// Number of elections confirmed.
	ElectionsConfirmed metrics.Counter
	// Number of live elections, per behavior.
	ElectionsLive [4]metrics.Gauge

	// Outcome of each processed vote, per vote code.
	VoteResults [4]metrics.Counter
	// Number of votes held for blocks without an election.
	VoteCacheSize metrics.Gauge

	// Online voting weight, in raw.
	OnlineWeight metrics.Gauge

	// Number of votes generated by the local representative.
	VotesGenerated metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	m := &Metrics{
		ElectionsStarted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "started",
			Help:      "Number of elections started.",
		}, labels).With(labelsAndValues...),
		ElectionsConfirmed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "confirmed",
			Help:      "Number of elections confirmed.",
		}, labels).With(labelsAndValues...),
		VoteCacheSize: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "vote_cache_size",
			Help:      "Number of blocks with cached votes.",
		}, labels).With(labelsAndValues...),
		OnlineWeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "online_weight",
			Help:      "Voting weight of representatives seen recently.",
		}, labels).With(labelsAndValues...),
		VotesGenerated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "votes_generated",
			Help:      "Number of votes signed by the local representative.",
		}, labels).With(labelsAndValues...),
	}

	live := prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "live",
		Help:      "Number of running elections per behavior.",
	}, append(labels, "behavior"))
	for _, b := range types.ElectionBehaviors {
		m.ElectionsLive[b] = live.With(append(labelsAndValues, "behavior", b.String())...)
	}

	dropped := prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "dropped",
		Help:      "Number of elections dropped unconfirmed or refused, per reason.",
	}, append(labels, "reason"))
	for r := DropReason(0); r < numDropReasons; r++ {
		m.ElectionsDropped[r] = dropped.With(append(labelsAndValues, "reason", r.String())...)
	}

	results := prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "vote_results",
		Help:      "Number of processed votes per result code.",
	}, append(labels, "code"))
	for _, code := range []types.VoteCode{
		types.VoteCodeInvalid, types.VoteCodeReplay, types.VoteCodeVote, types.VoteCodeIndeterminate,
	} {
		m.VoteResults[code] = results.With(append(labelsAndValues, "code", code.String())...)
	}
	return m
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	m := &Metrics{
		ElectionsStarted:   discard.NewCounter(),
		ElectionsConfirmed: discard.NewCounter(),
		VoteCacheSize:      discard.NewGauge(),
		OnlineWeight:       discard.NewGauge(),
		VotesGenerated:     discard.NewCounter(),
	}
	for i := range m.ElectionsLive {
		m.ElectionsLive[i] = discard.NewGauge()
	}
	for i := range m.ElectionsDropped {
		m.ElectionsDropped[i] = discard.NewCounter()
	}
	for i := range m.VoteResults {
		m.VoteResults[i] = discard.NewCounter()
	}
	return m
}
