// Package node assembles the ledger, the elections and cementation into a
// running node.
package node

import (
	"context"
	"errors"
	"fmt"

	dbm "github.com/tendermint/tm-db"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/cementing"
	"github.com/orvnode/orv/internal/consensus"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/network"
	"github.com/orvnode/orv/internal/scheduler"
	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/internal/uniquer"
	"github.com/orvnode/orv/libs/events"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

const (
	filterSize           = 256 * 1024
	maxBroadcastsPerLoop = 30
)

// Node is the top-level service holding every component.
type Node struct {
	service.BaseService
	logger log.Logger

	config *config.Config
	db     dbm.DB

	ledger         *ledger.Ledger
	online         *consensus.OnlineReps
	voteCache      *consensus.VoteCache
	filter         *network.Filter
	active         *consensus.ActiveElections
	cementer       *cementing.Processor
	confirming     *cementing.ConfirmingSet
	voteProcessor  *consensus.VoteProcessor
	voteGenerator  *consensus.VoteGenerator
	blockProcessor *BlockProcessor
	priority       *scheduler.Priority
	backlog        *scheduler.Backlog
	manual         *scheduler.Manual
	hinted         *scheduler.Hinted
	blocks         *uniquer.Uniquer[*types.Block]
	votes          *uniquer.Uniquer[*types.Vote]
	evsw           events.EventSwitch
	workers        *workerPool

	// services in start order
	services *service.Group
}

// MetricsProvider returns the metrics of every package of the node.
type MetricsProvider func(network string) (*consensus.Metrics, *cementing.Metrics, *scheduler.Metrics, *Metrics)

// DefaultMetricsProvider returns Prometheus metrics when instrumentation is
// enabled and no-op metrics otherwise.
func DefaultMetricsProvider(cfg *config.InstrumentationConfig) MetricsProvider {
	return func(network string) (*consensus.Metrics, *cementing.Metrics, *scheduler.Metrics, *Metrics) {
		if cfg.Prometheus {
			return consensus.PrometheusMetrics(cfg.Namespace, "network", network),
				cementing.PrometheusMetrics(cfg.Namespace, "network", network),
				scheduler.PrometheusMetrics(cfg.Namespace, "network", network),
				PrometheusMetrics(cfg.Namespace, "network", network)
		}
		return consensus.NopMetrics(), cementing.NopMetrics(), scheduler.NopMetrics(), NopMetrics()
	}
}

type options struct {
	dbProvider      config.DBProvider
	broadcaster     network.Broadcaster
	metricsProvider MetricsProvider
	constants       *ledger.Constants
}

// Option sets an optional parameter on the Node.
type Option func(*options)

// WithDBProvider sets how the ledger database is opened.
func WithDBProvider(p config.DBProvider) Option {
	return func(o *options) { o.dbProvider = p }
}

// WithBroadcaster sets where blocks, votes and confirmation requests are
// sent.
func WithBroadcaster(b network.Broadcaster) Option {
	return func(o *options) { o.broadcaster = b }
}

// WithMetricsProvider overrides the metrics.
func WithMetricsProvider(p MetricsProvider) Option {
	return func(o *options) { o.metricsProvider = p }
}

// WithLedgerConstants overrides the genesis of the configured network.
func WithLedgerConstants(c ledger.Constants) Option {
	return func(o *options) { o.constants = &c }
}

// New opens the ledger and wires every component. Call Start to run it.
func New(ctx context.Context, cfg *config.Config, logger log.Logger, opts ...Option) (*Node, error) {
	o := options{
		dbProvider:      config.DefaultDBProvider,
		broadcaster:     network.NopBroadcaster{},
		metricsProvider: DefaultMetricsProvider(cfg.Instrumentation),
	}
	for _, opt := range opts {
		opt(&o)
	}

	constants, err := networkConstants(cfg.Network)
	if err != nil {
		return nil, err
	}
	if o.constants != nil {
		constants = *o.constants
	}
	minimum, err := cfg.Voting.OnlineWeightMinimumAmount()
	if err != nil {
		return nil, fmt.Errorf("invalid online_weight_minimum: %w", err)
	}
	repKey, voting, err := cfg.Voting.RepresentativeKey()
	if err != nil {
		return nil, err
	}

	db, err := o.dbProvider(&config.DBContext{ID: "ledger", Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}
	l, err := ledger.New(ctx, store.New(db), constants, logger.With("module", "ledger"))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing ledger: %w", err)
	}

	csMetrics, cemMetrics, schedMetrics, nodeMetrics := o.metricsProvider(cfg.Network)

	n := &Node{
		logger: logger,
		config: cfg,
		db:     db,
		ledger: l,
		filter: network.NewFilter(filterSize),
		blocks: uniquer.NewBlocks(uniquer.DefaultSize),
		votes:  uniquer.NewVotes(uniquer.DefaultSize),
		evsw:   events.NewEventSwitch(logger.With("module", "events")),
	}
	n.workers = newWorkerPool(logger.With("module", "workers"), cfg.BackgroundThreads, func() {
		nodeMetrics.NotificationsDropped.Add(1)
	})
	n.online = consensus.NewOnlineReps(l, cfg.Voting.OnlineWeightPeriod, minimum,
		uint64(cfg.Voting.OnlineWeightQuorum), csMetrics)
	n.voteCache = consensus.NewVoteCache(cfg.Voting.VoteCacheSize, csMetrics)

	n.cementer = cementing.NewProcessor(logger.With("module", "cementing"), cfg.Cementing, l, cemMetrics)
	n.confirming = cementing.NewConfirmingSet(logger.With("module", "confirming_set"), cfg.Cementing, l, n.cementer, cemMetrics)

	activeOpts := []consensus.ActiveOption{
		consensus.ActiveMetrics(csMetrics),
		consensus.ActiveWinnerForcer(forcerFunc(func(ctx context.Context, b *types.Block) error {
			return n.blockProcessor.Force(ctx, b)
		})),
		consensus.ActiveStoppedObserver(n.electionStopped),
	}
	if voting {
		n.voteGenerator = consensus.NewVoteGenerator(
			logger.With("module", "vote_generator"),
			repKey,
			o.broadcaster,
			func(v *types.Vote) types.VoteCode { return n.voteProcessor.VoteBlocking(v) },
			csMetrics,
			cfg.Voting.VoteGeneratorDelay,
			cfg.Voting.VoteGeneratorThreshold,
			cfg.ActiveElections.ConfirmationCache,
		)
		activeOpts = append(activeOpts, consensus.ActiveVoter(n.voteGenerator))
	}
	n.active = consensus.NewActiveElections(
		logger.With("module", "active_elections"),
		cfg.ActiveElections,
		l,
		n.online,
		n.confirming,
		n.voteCache,
		n.filter,
		network.NewSolicitor(o.broadcaster, cfg.Voting.MaxConfirmReqBatch, maxBroadcastsPerLoop),
		activeOpts...,
	)
	n.voteProcessor = consensus.NewVoteProcessor(logger.With("module", "vote_processor"),
		n.active, n.online, n.voteCache, l, csMetrics, cfg.BackgroundThreads)

	n.priority = scheduler.NewPriority(logger.With("module", "priority_scheduler"), cfg.Scheduler, l, n.active, schedMetrics)
	n.backlog = scheduler.NewBacklog(logger.With("module", "backlog_population"), cfg.Scheduler, l, n.priority, schedMetrics)
	n.manual = scheduler.NewManual(logger.With("module", "manual_scheduler"), n.active, schedMetrics)
	n.hinted = scheduler.NewHinted(logger.With("module", "hinted_scheduler"), cfg.Scheduler,
		cfg.Voting.ElectionHintWeightPercent, l, n.active, n.voteCache, n.online, schedMetrics)
	n.active.OnVacancy(n.priority.Notify)

	n.blockProcessor = NewBlockProcessor(logger.With("module", "block_processor"),
		cfg.Scheduler.BlockProcessorQueueSize, l, n.active, n.priority, n.filter, n.blocks, nodeMetrics)
	n.blockProcessor.rolledBack = n.blockRolledBack

	n.cementer.AddObserver(n.blockCemented)

	services := []service.Service{n.workers, n.confirming, n.active, n.voteProcessor}
	if n.voteGenerator != nil {
		services = append(services, n.voteGenerator)
	}
	services = append(services, n.blockProcessor, n.priority, n.backlog, n.manual, n.hinted)
	n.services = service.NewGroup(logger, "NodeServices", services...)

	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

func networkConstants(network string) (ledger.Constants, error) {
	switch network {
	case config.NetworkDev:
		return ledger.DevConstants(), nil
	case config.NetworkTest:
		return ledger.TestConstants(), nil
	default:
		return ledger.Constants{}, fmt.Errorf("unknown network %q", network)
	}
}

// forcerFunc adapts a function to consensus.WinnerForcer.
type forcerFunc func(context.Context, *types.Block) error

func (f forcerFunc) Force(ctx context.Context, b *types.Block) error { return f(ctx, b) }

// OnStart starts every service in dependency order.
func (n *Node) OnStart(ctx context.Context) error {
	n.logger.Info("starting node",
		"network", n.config.Network,
		"blocks", n.ledger.BlockCount(),
		"cemented", n.ledger.CementedCount(),
		"voting", n.voteGenerator != nil,
	)
	// Services outlive ctx; OnStop shuts them down in reverse order before
	// the database closes.
	return n.services.Start(context.Background())
}

// OnStop stops the services in reverse order and closes the database.
func (n *Node) OnStop() {
	n.logger.Info("stopping node")
	if err := n.services.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) {
		n.logger.Error("error stopping services", "err", err)
	}
	if err := n.db.Close(); err != nil {
		n.logger.Error("error closing database", "err", err)
	}
}

//-----------------------------------------------------------------------------
// Entry points

// ProcessActive queues a block received from the network.
func (n *Node) ProcessActive(block *types.Block) bool {
	return n.blockProcessor.ProcessActive(block)
}

// Process applies a locally created block synchronously.
func (n *Node) Process(ctx context.Context, block *types.Block) (ledger.ProcessResult, error) {
	return n.blockProcessor.Process(ctx, n.blocks.Unique(block))
}

// Vote queues a vote received from the network. Votes already seen are
// dropped.
func (n *Node) Vote(vote *types.Vote) bool {
	if unique := n.votes.Unique(vote); unique != vote {
		return false
	}
	return n.voteProcessor.Add(vote)
}

// StartElection requests an election for block regardless of its
// dependencies and of the election limits.
func (n *Node) StartElection(block *types.Block) {
	n.manual.Push(block)
}

//-----------------------------------------------------------------------------
// Observers

// blockCemented runs on the cementing worker after each commit, in commit
// order. Successors are activated here; notifications go to the worker pool
// and may be dropped.
func (n *Node) blockCemented(cb cementing.CementedBlock) {
	status := n.active.BlockCemented(cb.Block, cb.Election)
	block := cb.Block
	n.activateSuccessors(block)
	n.workers.Submit(func() {
		amount, _ := n.ledger.Amount(n.ledger.Store().TxBeginRead(), block)
		n.evsw.FireEvent(EventBlockConfirmed, EventDataBlockConfirmed{
			Status:  status,
			Account: block.Account(),
			Amount:  amount,
			IsSend:  block.IsSend(),
		})
		n.evsw.FireEvent(EventAccountBalanceChanged, EventDataBalanceChanged{Account: block.Account()})
		if block.IsSend() {
			n.evsw.FireEvent(EventAccountBalanceChanged, EventDataBalanceChanged{
				Account:    block.Destination(),
				Receivable: true,
			})
		}
	})
}

// activateSuccessors schedules the blocks that may have become electable
// now that block is cemented.
func (n *Node) activateSuccessors(block *types.Block) {
	n.priority.Activate(block.Account())
	if block.IsSend() {
		if dest := block.Destination(); !dest.IsZero() {
			n.priority.Activate(dest)
		}
	}
}

func (n *Node) electionStopped(status types.ElectionStatus) {
	n.workers.Submit(func() {
		n.evsw.FireEvent(EventElectionStopped, EventDataElectionStopped{Status: status})
	})
}

func (n *Node) blockRolledBack(block *types.Block) {
	account := block.Account()
	n.workers.Submit(func() {
		n.evsw.FireEvent(EventAccountBalanceChanged, EventDataBalanceChanged{Account: account})
	})
}

//-----------------------------------------------------------------------------
// Accessors

func (n *Node) Config() *config.Config { return n.config }

func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

func (n *Node) ActiveElections() *consensus.ActiveElections { return n.active }

func (n *Node) ConfirmingSet() *cementing.ConfirmingSet { return n.confirming }

func (n *Node) BlockProcessor() *BlockProcessor { return n.blockProcessor }

func (n *Node) OnlineReps() *consensus.OnlineReps { return n.online }

func (n *Node) VoteCache() *consensus.VoteCache { return n.voteCache }

// VoteGenerator is nil unless a representative key is configured.
func (n *Node) VoteGenerator() *consensus.VoteGenerator { return n.voteGenerator }

func (n *Node) EventSwitch() events.EventSwitch { return n.evsw }
