package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/orvnode/orv/internal/network"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// voteDurationBits is the validity exponent carried by non-final votes.
const voteDurationBits = 9

type candidate struct {
	root types.QualifiedRoot
	hash types.Hash
}

// VoteGenerator signs votes as the local representative. Candidates are
// batched and signed once threshold hashes are queued, and otherwise every
// delay. Every vote is handed to the local handler and then
// flooded.
//
// A final vote is signed at most once per root; later requests for another
// hash of the same root are ignored.
type VoteGenerator struct {
	service.BaseService
	logger log.Logger

	key         types.PrivKey
	broadcaster network.Broadcaster
	handler     func(*types.Vote) types.VoteCode
	metrics     *Metrics
	delay       time.Duration
	threshold   int

	mtx        sync.Mutex
	normal     []candidate
	final      []candidate
	finalVotes *simplelru.LRU[types.QualifiedRoot, types.Hash]
	wake       chan struct{}

	now func() time.Time
}

var _ Voter = (*VoteGenerator)(nil)

// NewVoteGenerator returns a generator signing with key. handler receives
// each signed vote before it is flooded.
func NewVoteGenerator(
	logger log.Logger,
	key types.PrivKey,
	broadcaster network.Broadcaster,
	handler func(*types.Vote) types.VoteCode,
	metrics *Metrics,
	delay time.Duration,
	threshold int,
	historySize int,
) *VoteGenerator {
	if threshold < 1 || threshold > types.MaxVoteHashes {
		threshold = types.MaxVoteHashes
	}
	finalVotes, err := simplelru.NewLRU[types.QualifiedRoot, types.Hash](historySize, nil)
	if err != nil {
		panic(err)
	}
	vg := &VoteGenerator{
		logger:      logger,
		key:         key,
		broadcaster: broadcaster,
		handler:     handler,
		metrics:     metrics,
		delay:       delay,
		threshold:   threshold,
		finalVotes:  finalVotes,
		wake:        make(chan struct{}, 1),
		now:         time.Now,
	}
	vg.BaseService = *service.NewBaseService(logger, "VoteGenerator", vg)
	return vg
}

// Representative returns the account votes are signed for.
func (vg *VoteGenerator) Representative() types.Account { return vg.key.Account() }

func (vg *VoteGenerator) OnStart(ctx context.Context) error {
	vg.Spawn(ctx, vg.run)
	return nil
}

func (vg *VoteGenerator) OnStop() {}

// Vote queues a non-final vote for hash.
func (vg *VoteGenerator) Vote(root types.QualifiedRoot, hash types.Hash) {
	vg.mtx.Lock()
	vg.normal = append(vg.normal, candidate{root: root, hash: hash})
	full := len(vg.normal) >= vg.threshold
	vg.mtx.Unlock()
	if full {
		vg.signal()
	}
}

// VoteFinal queues a final vote for block.
func (vg *VoteGenerator) VoteFinal(block *types.Block) {
	root := block.QualifiedRoot()
	vg.mtx.Lock()
	if prev, ok := vg.finalVotes.Get(root); ok {
		vg.mtx.Unlock()
		if prev != block.Hash() {
			vg.logger.Error("refusing conflicting final vote", "root", root, "voted", prev, "requested", block.Hash())
		}
		return
	}
	vg.finalVotes.Add(root, block.Hash())
	vg.final = append(vg.final, candidate{root: root, hash: block.Hash()})
	full := len(vg.final) >= vg.threshold
	vg.mtx.Unlock()
	if full {
		vg.signal()
	}
}

func (vg *VoteGenerator) signal() {
	select {
	case vg.wake <- struct{}{}:
	default:
	}
}

func (vg *VoteGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(vg.delay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-vg.Quit():
			return
		case <-vg.wake:
		case <-ticker.C:
		}
		vg.Flush()
	}
}

// Flush signs everything queued. Hashes are packed into votes of at most
// types.MaxVoteHashes.
func (vg *VoteGenerator) Flush() {
	vg.mtx.Lock()
	normal, final := vg.normal, vg.final
	vg.normal, vg.final = nil, nil
	vg.mtx.Unlock()

	for _, batch := range batches(normal) {
		ts := uint64(vg.now().UnixMilli())
		vg.publish(types.NewVote(vg.key, ts, voteDurationBits, batch))
	}
	for _, batch := range batches(final) {
		vg.publish(types.NewFinalVote(vg.key, batch))
	}
}

func (vg *VoteGenerator) publish(vote *types.Vote) {
	vg.metrics.VotesGenerated.Add(1)
	if vg.handler != nil {
		vg.handler(vote)
	}
	vg.broadcaster.FloodVote(vote)
}

// batches splits candidates into hash lists that fit one vote, dropping
// repeated hashes.
func batches(cs []candidate) [][]types.Hash {
	var (
		out  [][]types.Hash
		cur  []types.Hash
		seen = make(map[types.Hash]struct{}, len(cs))
	)
	for _, c := range cs {
		if _, ok := seen[c.hash]; ok {
			continue
		}
		seen[c.hash] = struct{}{}
		cur = append(cur, c.hash)
		if len(cur) == types.MaxVoteHashes {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
