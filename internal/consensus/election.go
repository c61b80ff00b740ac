package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/orvnode/orv/types"
)

// WeightSource returns the voting weight of a representative.
type WeightSource interface {
	Weight(rep types.Account) types.Amount
}

// Quorum supplies the weight a winner needs to be confirmed.
type Quorum interface {
	Delta() types.Amount
}

const (
	// DefaultMaxBlocks bounds the number of forks one election tracks.
	DefaultMaxBlocks = 10

	confirmReqInterval = 500 * time.Millisecond
	broadcastInterval  = 15 * time.Second
	generateInterval   = 15 * time.Second
)

// lastVote is the latest vote of one representative in an election, with
// the weight it added to the tally.
type lastVote struct {
	hash      types.Hash
	timestamp uint64
	weight    types.Amount
	time      time.Time
}

func (v lastVote) final() bool { return v.timestamp == types.FinalTimestamp }

// TallyEntry is one candidate and the weight voting for it.
type TallyEntry struct {
	Weight types.Amount
	Block  *types.Block
}

// Election decides between the candidate blocks of one qualified root.
// An election is owned by ActiveElections; all methods are safe for
// concurrent use.
type Election struct {
	mtx sync.Mutex

	root     types.QualifiedRoot
	behavior types.ElectionBehavior
	weights  WeightSource
	quorum   Quorum

	maxBlocks int
	state     types.ElectionState
	started   time.Time
	status    types.ElectionStatus

	// candidates by hash, and their insertion order for tie-breaks
	blocks   map[types.Hash]*types.Block
	order    []types.Hash
	votes    map[types.Account]lastVote
	tally    map[types.Hash]types.Amount
	final    map[types.Hash]types.Amount
	winner   types.Hash
	requests uint32

	lastRequest   time.Time
	lastBroadcast time.Time
	lastGenerated types.Hash
	lastGenTime   time.Time
}

// NewElection starts an election for the qualified root of block.
func NewElection(
	block *types.Block,
	behavior types.ElectionBehavior,
	maxBlocks int,
	weights WeightSource,
	quorum Quorum,
) *Election {
	if maxBlocks < 1 {
		maxBlocks = DefaultMaxBlocks
	}
	now := time.Now()
	e := &Election{
		root:      block.QualifiedRoot(),
		behavior:  behavior,
		weights:   weights,
		quorum:    quorum,
		maxBlocks: maxBlocks,
		state:     types.ElectionRunning,
		started:   now,
		blocks:    map[types.Hash]*types.Block{block.Hash(): block},
		order:     []types.Hash{block.Hash()},
		votes:     make(map[types.Account]lastVote),
		tally:     make(map[types.Hash]types.Amount),
		final:     make(map[types.Hash]types.Amount),
		winner:    block.Hash(),
	}
	e.status = types.ElectionStatus{Winner: block, Type: types.StatusOngoing}
	return e
}

// Vote applies a representative's vote for hash. It returns the vote code
// and whether this vote confirmed the election; the caller then runs the
// confirmation pipeline.
//
// A newer timestamp replaces the representative's previous vote. An equal
// or older one is a replay and changes nothing, except that a final vote
// always replaces a non-final one.
func (e *Election) Vote(rep types.Account, timestamp uint64, hash types.Hash) (types.VoteCode, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if _, ok := e.blocks[hash]; !ok {
		return types.VoteCodeIndeterminate, false
	}
	if e.state != types.ElectionRunning {
		return types.VoteCodeReplay, false
	}

	isFinal := timestamp == types.FinalTimestamp
	prev, hadVote := e.votes[rep]
	if hadVote {
		switch {
		case prev.hash == hash && prev.timestamp == timestamp:
			return types.VoteCodeReplay, false
		case isFinal && !prev.final():
		case timestamp <= prev.timestamp:
			return types.VoteCodeReplay, false
		}
		e.tally[prev.hash] = e.tally[prev.hash].SaturatingSub(prev.weight)
		if prev.final() {
			e.final[prev.hash] = e.final[prev.hash].SaturatingSub(prev.weight)
		}
	}

	weight := e.weights.Weight(rep)
	e.votes[rep] = lastVote{hash: hash, timestamp: timestamp, weight: weight, time: time.Now()}
	e.tally[hash] = e.tally[hash].MustAdd(weight)
	if isFinal {
		e.final[hash] = e.final[hash].MustAdd(weight)
	}
	return types.VoteCodeVote, e.tryConfirm()
}

// tryConfirm moves the winner and confirms when its support reaches the
// quorum delta. Zero support never confirms. e.mtx must be held.
func (e *Election) tryConfirm() bool {
	e.winner = e.leader()
	support := e.final[e.winner]
	if support.IsZero() {
		support = e.tally[e.winner]
	}
	if support.IsZero() || support.Lt(e.quorum.Delta()) {
		return false
	}
	e.confirm(types.StatusActiveConfirmedQuorum)
	return true
}

// leader returns the candidate with the highest tally. On equal tallies the
// candidate seen first wins. e.mtx must be held.
func (e *Election) leader() types.Hash {
	best := e.order[0]
	for _, h := range e.order[1:] {
		if e.tally[h].Gt(e.tally[best]) {
			best = h
		}
	}
	return best
}

func (e *Election) confirm(kind types.ElectionStatusType) {
	e.state = types.ElectionConfirmed
	e.snapshot(kind)
}

// snapshot freezes the status of an election that just ended.
func (e *Election) snapshot(kind types.ElectionStatusType) {
	now := time.Now()
	e.status = types.ElectionStatus{
		Winner:                   e.blocks[e.winner],
		Tally:                    e.tally[e.winner],
		FinalTally:               e.final[e.winner],
		ElectionEnd:              now,
		ElectionDuration:         now.Sub(e.started),
		ConfirmationRequestCount: e.requests,
		BlockCount:               uint32(len(e.blocks)),
		VoterCount:               uint32(len(e.votes)),
		Type:                     kind,
	}
}

// Publish adds a competing block. At the fork cap the candidate with the
// lowest tally that is not the winner is evicted, the oldest on ties, and
// returned. Blocks for another root, known blocks and blocks arriving after
// the election ended are not inserted.
func (e *Election) Publish(block *types.Block) (inserted bool, evicted *types.Block) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if block.QualifiedRoot() != e.root || e.state != types.ElectionRunning {
		return false, nil
	}
	hash := block.Hash()
	if _, ok := e.blocks[hash]; ok {
		return false, nil
	}

	if len(e.blocks) >= e.maxBlocks {
		evicted = e.evictLowest()
	}

	e.blocks[hash] = block
	e.order = append(e.order, hash)
	// votes may already name this block
	var tally, final types.Amount
	for _, v := range e.votes {
		if v.hash == hash {
			tally = tally.MustAdd(v.weight)
			if v.final() {
				final = final.MustAdd(v.weight)
			}
		}
	}
	e.tally[hash], e.final[hash] = tally, final
	return true, evicted
}

func (e *Election) evictLowest() *types.Block {
	var (
		victim types.Hash
		found  bool
	)
	for _, h := range e.order {
		if h == e.winner {
			continue
		}
		if !found || e.tally[h].Lt(e.tally[victim]) {
			victim, found = h, true
		}
	}
	if !found {
		return nil
	}
	block := e.blocks[victim]
	delete(e.blocks, victim)
	delete(e.tally, victim)
	delete(e.final, victim)
	for i, h := range e.order {
		if h == victim {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
	return block
}

// ForceConfirm confirms the current winner regardless of tally. It returns
// false if the election had already ended.
func (e *Election) ForceConfirm() bool {
	return e.confirmAs(types.StatusActiveConfirmedQuorum)
}

// confirmAs ends a running election with the current leader as winner.
func (e *Election) confirmAs(kind types.ElectionStatusType) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.state != types.ElectionRunning {
		return false
	}
	e.winner = e.leader()
	e.confirm(kind)
	return true
}

// confirmBlock ends the election with hash as winner because hash was
// cemented by another route.
func (e *Election) confirmBlock(hash types.Hash) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.state != types.ElectionRunning {
		return false
	}
	if _, ok := e.blocks[hash]; !ok {
		return false
	}
	e.winner = hash
	e.confirm(types.StatusActiveConfirmationHeight)
	return true
}

// cancel ends a running election without confirmation.
func (e *Election) cancel() bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.state != types.ElectionRunning {
		return false
	}
	e.state = types.ElectionExpiredUnconfirmed
	e.snapshot(types.StatusStopped)
	return true
}

// Tally returns the candidates by descending weight, ties in the order the
// candidates were seen.
func (e *Election) Tally() []TallyEntry {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	out := make([]TallyEntry, 0, len(e.order))
	for _, h := range e.order {
		out = append(out, TallyEntry{Weight: e.tally[h], Block: e.blocks[h]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight.Gt(out[j].Weight) })
	return out
}

// FinalTally returns the weight of final votes per candidate.
func (e *Election) FinalTally() map[types.Hash]types.Amount {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	out := make(map[types.Hash]types.Amount, len(e.final))
	for h, w := range e.final {
		if !w.IsZero() {
			out[h] = w
		}
	}
	return out
}

// Winner returns the leading candidate, or the confirmed winner.
func (e *Election) Winner() *types.Block {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.blocks[e.winner]
}

// Blocks returns the candidates.
func (e *Election) Blocks() map[types.Hash]*types.Block {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	out := make(map[types.Hash]*types.Block, len(e.blocks))
	for h, b := range e.blocks {
		out[h] = b
	}
	return out
}

// Contains reports whether hash is a candidate.
func (e *Election) Contains(hash types.Hash) bool {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	_, ok := e.blocks[hash]
	return ok
}

// Votes returns the latest vote of each representative.
func (e *Election) Votes() []types.VoteWithWeight {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	out := make([]types.VoteWithWeight, 0, len(e.votes))
	for rep, v := range e.votes {
		out = append(out, types.VoteWithWeight{
			Representative: rep,
			Hash:           v.hash,
			Timestamp:      v.timestamp,
			Weight:         v.weight,
			Time:           v.time,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight.Gt(out[j].Weight) })
	return out
}

// Status returns the status snapshot. It is final once the election ended.
func (e *Election) Status() types.ElectionStatus {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	st := e.status
	if e.state == types.ElectionRunning {
		st.Winner = e.blocks[e.winner]
		st.Tally = e.tally[e.winner]
		st.FinalTally = e.final[e.winner]
		st.ConfirmationRequestCount = e.requests
		st.BlockCount = uint32(len(e.blocks))
		st.VoterCount = uint32(len(e.votes))
	}
	return st
}

func (e *Election) State() types.ElectionState {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.state
}

func (e *Election) Confirmed() bool { return e.State() == types.ElectionConfirmed }

func (e *Election) QualifiedRoot() types.QualifiedRoot { return e.root }

func (e *Election) Behavior() types.ElectionBehavior { return e.behavior }

// Age returns how long the election has been running.
func (e *Election) Age(now time.Time) time.Duration { return now.Sub(e.started) }

// solicit asks for votes and rebroadcasts the winner when the election is
// contested. It returns the hash the local representative should vote for,
// if any.
func (e *Election) solicit(now time.Time, s solicitor) (vote types.Hash, ok bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.state != types.ElectionRunning {
		return types.Hash{}, false
	}
	winner := e.blocks[e.winner]
	if now.Sub(e.lastRequest) >= confirmReqInterval {
		e.lastRequest = now
		e.requests++
		s.Add(winner)
	}
	if len(e.blocks) > 1 && now.Sub(e.lastBroadcast) >= broadcastInterval {
		if s.Broadcast(winner) {
			e.lastBroadcast = now
		}
	}
	if e.lastGenerated != e.winner || now.Sub(e.lastGenTime) >= generateInterval {
		e.lastGenerated = e.winner
		e.lastGenTime = now
		return e.winner, true
	}
	return types.Hash{}, false
}

type solicitor interface {
	Add(block *types.Block)
	Broadcast(block *types.Block) bool
}
