package consensus

import (
	"context"

	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// DefaultVoteQueueSize bounds the votes waiting to be processed.
const DefaultVoteQueueSize = 4096

// VoteProcessor validates incoming votes and routes them to the active
// elections. Votes for blocks without an election are cached.
type VoteProcessor struct {
	service.BaseService
	logger log.Logger

	active    *ActiveElections
	online    *OnlineReps
	voteCache *VoteCache
	weights   WeightSource
	metrics   *Metrics

	workers int
	queue   chan *types.Vote
}

// NewVoteProcessor returns a processor running workers goroutines once
// started.
func NewVoteProcessor(
	logger log.Logger,
	active *ActiveElections,
	online *OnlineReps,
	voteCache *VoteCache,
	weights WeightSource,
	metrics *Metrics,
	workers int,
) *VoteProcessor {
	if workers < 1 {
		workers = 1
	}
	vp := &VoteProcessor{
		logger:    logger,
		active:    active,
		online:    online,
		voteCache: voteCache,
		weights:   weights,
		metrics:   metrics,
		workers:   workers,
		queue:     make(chan *types.Vote, DefaultVoteQueueSize),
	}
	vp.BaseService = *service.NewBaseService(logger, "VoteProcessor", vp)
	return vp
}

func (vp *VoteProcessor) OnStart(ctx context.Context) error {
	for i := 0; i < vp.workers; i++ {
		vp.Spawn(ctx, vp.processRoutine)
	}
	return nil
}

func (vp *VoteProcessor) OnStop() {}

// Add queues vote for processing. It returns false if the queue is full and
// the vote was dropped.
func (vp *VoteProcessor) Add(vote *types.Vote) bool {
	select {
	case vp.queue <- vote:
		return true
	default:
		vp.logger.Debug("vote queue full; dropping vote", "vote", vote)
		return false
	}
}

// Len returns the number of queued votes.
func (vp *VoteProcessor) Len() int { return len(vp.queue) }

func (vp *VoteProcessor) processRoutine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-vp.Quit():
			return
		case vote := <-vp.queue:
			vp.VoteBlocking(vote)
		}
	}
}

// VoteBlocking validates and applies vote on the calling goroutine and
// returns the combined outcome.
func (vp *VoteProcessor) VoteBlocking(vote *types.Vote) types.VoteCode {
	if err := vote.ValidateBasic(); err != nil {
		vp.metrics.VoteResults[types.VoteCodeInvalid].Add(1)
		vp.logger.Debug("invalid vote", "err", err)
		return types.VoteCodeInvalid
	}
	if err := vote.Verify(); err != nil {
		vp.metrics.VoteResults[types.VoteCodeInvalid].Add(1)
		vp.logger.Debug("invalid vote", "vote", vote, "err", err)
		return types.VoteCodeInvalid
	}
	return vp.vote(vote)
}

// vote applies a vote whose signature was already checked.
func (vp *VoteProcessor) vote(vote *types.Vote) types.VoteCode {
	vp.online.Observe(vote.Account)

	results := vp.active.Vote(vote)
	var weight types.Amount
	for hash, code := range results {
		if code != types.VoteCodeIndeterminate {
			continue
		}
		if weight.IsZero() {
			weight = vp.weights.Weight(vote.Account)
		}
		vp.voteCache.Vote(hash, vote.Account, vote.Timestamp, weight)
	}

	code := results.Code()
	vp.metrics.VoteResults[code].Add(1)
	return code
}
