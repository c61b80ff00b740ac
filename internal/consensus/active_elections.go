package consensus

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/network"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// ConfirmingSet receives the winners of confirmed elections for cementation.
type ConfirmingSet interface {
	// AddElection queues the winner of status for cementation.
	AddElection(status types.ElectionStatus) error
	// Exists reports whether hash is waiting to be cemented.
	Exists(hash types.Hash) bool
	// Vacancy returns how many more hashes can be queued.
	Vacancy() int
}

// WinnerForcer puts a confirmed winner into the ledger, replacing the block
// the ledger holds for the same root.
type WinnerForcer interface {
	Force(ctx context.Context, block *types.Block) error
}

// Voter signs votes as the local representative.
type Voter interface {
	// Vote queues a vote for a candidate of a running election.
	Vote(root types.QualifiedRoot, hash types.Hash)
	// VoteFinal queues a final vote for a confirmed winner.
	VoteFinal(block *types.Block)
}

// VoteResults holds the outcome of a vote per referenced hash.
type VoteResults map[types.Hash]types.VoteCode

// Code returns the most specific outcome: vote over replay over
// indeterminate.
func (r VoteResults) Code() types.VoteCode {
	code := types.VoteCodeInvalid
	for _, c := range r {
		switch {
		case c == types.VoteCodeVote:
			return c
		case c == types.VoteCodeReplay:
			code = c
		case c == types.VoteCodeIndeterminate && code == types.VoteCodeInvalid:
			code = c
		}
	}
	return code
}

// InsertResult is the outcome of ActiveElections.Insert.
type InsertResult struct {
	Election *Election
	Inserted bool
}

type activeEntry struct {
	election *Election
	seq      uint64
}

func entryLess(a, b *activeEntry) bool { return a.seq < b.seq }

// ActiveElections owns every running election. Elections are keyed by
// qualified root and counted per behavior for admission.
//
// Locks are always taken in the order ActiveElections, then Election.
// Confirmation side effects run after both are released.
type ActiveElections struct {
	service.BaseService
	logger log.Logger

	cfg        *config.ActiveElectionsConfig
	ledger     *ledger.Ledger
	quorum     Quorum
	confirming ConfirmingSet
	voteCache  *VoteCache
	filter     *network.Filter
	solicitor  *network.Solicitor
	forcer     WinnerForcer
	voter      Voter
	stopped    func(types.ElectionStatus)
	metrics    *Metrics

	recentlyConfirmed *RecentlyConfirmed
	recentlyCemented  *RecentlyCemented

	mtx      sync.Mutex
	roots    map[types.QualifiedRoot]*activeEntry
	blocks   map[types.Hash]*Election
	ordered  [4]*btree.BTreeG[*activeEntry]
	seq      uint64
	vacancyN []func()
}

// ActiveOption sets an optional parameter on ActiveElections.
type ActiveOption func(*ActiveElections)

// ActiveMetrics sets the metrics.
func ActiveMetrics(m *Metrics) ActiveOption {
	return func(ae *ActiveElections) { ae.metrics = m }
}

// ActiveWinnerForcer sets who puts confirmed winners missing from the ledger
// into it.
func ActiveWinnerForcer(f WinnerForcer) ActiveOption {
	return func(ae *ActiveElections) { ae.forcer = f }
}

// ActiveVoter enables voting by the local representative.
func ActiveVoter(v Voter) ActiveOption {
	return func(ae *ActiveElections) { ae.voter = v }
}

// ActiveStoppedObserver sets fn to receive the status of every election
// that ends without confirmation. fn is called with the container locked and
// must neither block nor call back into it.
func ActiveStoppedObserver(fn func(types.ElectionStatus)) ActiveOption {
	return func(ae *ActiveElections) { ae.stopped = fn }
}

// NewActiveElections returns the election container. Call Start to run the
// periodic election cycle.
func NewActiveElections(
	logger log.Logger,
	cfg *config.ActiveElectionsConfig,
	l *ledger.Ledger,
	quorum Quorum,
	confirming ConfirmingSet,
	voteCache *VoteCache,
	filter *network.Filter,
	solicitor *network.Solicitor,
	options ...ActiveOption,
) *ActiveElections {
	ae := &ActiveElections{
		logger:            logger,
		cfg:               cfg,
		ledger:            l,
		quorum:            quorum,
		confirming:        confirming,
		voteCache:         voteCache,
		filter:            filter,
		solicitor:         solicitor,
		metrics:           NopMetrics(),
		recentlyConfirmed: NewRecentlyConfirmed(cfg.ConfirmationCache),
		recentlyCemented:  NewRecentlyCemented(cfg.ConfirmationHistorySize),
		roots:             make(map[types.QualifiedRoot]*activeEntry),
		blocks:            make(map[types.Hash]*Election),
	}
	for i := range ae.ordered {
		ae.ordered[i] = btree.NewG(8, entryLess)
	}
	for _, opt := range options {
		opt(ae)
	}
	ae.BaseService = *service.NewBaseService(logger, "ActiveElections", ae)
	return ae
}

// OnStart starts the election cycle.
func (ae *ActiveElections) OnStart(ctx context.Context) error {
	ae.Spawn(ctx, ae.run)
	return nil
}

// OnStop implements service.Service.
func (ae *ActiveElections) OnStop() {}

// OnVacancy registers fn to be called whenever vacancy may have changed.
// It is called without locks held.
func (ae *ActiveElections) OnVacancy(fn func()) {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	ae.vacancyN = append(ae.vacancyN, fn)
}

func (ae *ActiveElections) notifyVacancy() {
	ae.mtx.Lock()
	fns := ae.vacancyN
	ae.mtx.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// limit returns the capacity of a behavior bucket.
func (ae *ActiveElections) limit(b types.ElectionBehavior) int {
	switch b {
	case types.BehaviorManual:
		return math.MaxInt32
	case types.BehaviorPriority:
		return ae.cfg.Size
	case types.BehaviorHinted:
		return ae.cfg.Limit(ae.cfg.HintedLimitPercentage)
	case types.BehaviorOptimistic:
		return ae.cfg.Limit(ae.cfg.OptimisticLimitPercentage)
	}
	return 0
}

// vacancyLocked is the number of elections of behavior b that can still be
// started. Hinted and optimistic elections give way to priority and manual
// ones, so they do not reduce priority vacancy. ae.mtx must be held.
func (ae *ActiveElections) vacancyLocked(b types.ElectionBehavior) int {
	count := func(b types.ElectionBehavior) int { return ae.ordered[b].Len() }
	var v int
	switch b {
	case types.BehaviorManual:
		v = math.MaxInt32
	case types.BehaviorPriority:
		v = ae.cfg.Size - count(types.BehaviorPriority) - count(types.BehaviorManual)
	default:
		v = ae.limit(b) - count(b)
		if total := ae.cfg.Size - len(ae.roots); total < v {
			v = total
		}
	}
	if room := ae.confirming.Vacancy(); room < v {
		v = room
	}
	if v < 0 {
		v = 0
	}
	return v
}

// Vacancy returns how many more elections of behavior b can be started.
func (ae *ActiveElections) Vacancy(b types.ElectionBehavior) int {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	return ae.vacancyLocked(b)
}

// Insert starts an election for the root of block with behavior b. If an
// election for the root already exists it is returned without inserting.
// Roots decided recently and behaviors without vacancy are refused.
func (ae *ActiveElections) Insert(block *types.Block, b types.ElectionBehavior) InsertResult {
	root := block.QualifiedRoot()

	ae.mtx.Lock()
	if entry, ok := ae.roots[root]; ok {
		ae.mtx.Unlock()
		return InsertResult{Election: entry.election}
	}
	if ae.recentlyConfirmed.ExistsRoot(root) {
		ae.mtx.Unlock()
		return InsertResult{}
	}
	if b != types.BehaviorManual && ae.vacancyLocked(b) <= 0 {
		ae.mtx.Unlock()
		ae.metrics.ElectionsDropped[DropCapacity].Add(1)
		ae.logger.Debug("no vacancy for election", "root", root, "behavior", b)
		return InsertResult{}
	}

	e := NewElection(block, b, ae.cfg.MaxBlocksPerElection, ae.ledger, ae.quorum)
	ae.seq++
	entry := &activeEntry{election: e, seq: ae.seq}
	ae.roots[root] = entry
	ae.blocks[block.Hash()] = e
	ae.ordered[b].ReplaceOrInsert(entry)

	var evicted []*Election
	if b == types.BehaviorPriority || b == types.BehaviorManual {
		evicted = ae.evictLocked()
	}
	ae.metrics.ElectionsStarted.Add(1)
	ae.mtx.Unlock()

	ae.logger.Debug("started election", "root", root, "hash", block.Hash(), "behavior", b)
	for _, old := range evicted {
		ae.logger.Debug("evicted election", "root", old.QualifiedRoot(), "behavior", old.Behavior())
	}

	ae.applyCachedVotes(e, block.Hash())
	if ae.voter != nil {
		ae.voter.Vote(root, block.Hash())
	}
	ae.notifyVacancy()
	return InsertResult{Election: e, Inserted: true}
}

// evictLocked drops the oldest hinted, then optimistic, elections while the
// container is over capacity. ae.mtx must be held.
func (ae *ActiveElections) evictLocked() []*Election {
	var out []*Election
	for _, b := range []types.ElectionBehavior{types.BehaviorHinted, types.BehaviorOptimistic} {
		for len(ae.roots) > ae.cfg.Size {
			oldest, ok := ae.ordered[b].Min()
			if !ok {
				break
			}
			ae.eraseLocked(oldest.election, DropEvicted)
			out = append(out, oldest.election)
		}
	}
	return out
}

// applyCachedVotes replays votes that arrived before the election existed.
func (ae *ActiveElections) applyCachedVotes(e *Election, hash types.Hash) {
	votes, ok := ae.voteCache.Find(hash)
	if !ok {
		return
	}
	for _, v := range votes {
		if _, confirmed := e.Vote(v.Representative, v.Timestamp, hash); confirmed {
			ae.confirmed(e)
			break
		}
	}
	ae.voteCache.Erase(hash)
}

// Publish adds block as a candidate to the election for its root. It
// returns false if there is no such election or the block is already a
// candidate.
func (ae *ActiveElections) Publish(block *types.Block) bool {
	ae.mtx.Lock()
	entry, ok := ae.roots[block.QualifiedRoot()]
	if !ok {
		ae.mtx.Unlock()
		return false
	}
	e := entry.election
	inserted, evicted := e.Publish(block)
	if inserted {
		ae.blocks[block.Hash()] = e
	}
	if evicted != nil {
		delete(ae.blocks, evicted.Hash())
	}
	ae.mtx.Unlock()

	if evicted != nil && ae.filter != nil {
		ae.filter.ClearBlock(evicted)
	}
	if inserted {
		ae.applyCachedVotes(e, block.Hash())
	}
	return inserted
}

// Vote applies a validated vote to every election it references.
func (ae *ActiveElections) Vote(vote *types.Vote) VoteResults {
	results := make(VoteResults, len(vote.Hashes))
	for _, hash := range vote.Hashes {
		ae.mtx.Lock()
		e, ok := ae.blocks[hash]
		ae.mtx.Unlock()

		switch {
		case ok:
			code, confirmed := e.Vote(vote.Account, vote.Timestamp, hash)
			results[hash] = code
			if confirmed {
				ae.confirmed(e)
			}
		case ae.recentlyConfirmed.ExistsHash(hash):
			results[hash] = types.VoteCodeReplay
		default:
			results[hash] = types.VoteCodeIndeterminate
		}
	}
	return results
}

// confirmed runs once per election after it transitions to confirmed: the
// outcome is recorded, the winner queued for cementation and the election
// removed.
func (ae *ActiveElections) confirmed(e *Election) {
	status := e.Status()
	winner := status.Winner
	root := e.QualifiedRoot()

	ae.recentlyConfirmed.Put(root, winner.Hash())
	ae.remove(e)
	ae.metrics.ElectionsConfirmed.Add(1)
	ae.logger.Debug("election confirmed",
		"root", root, "winner", winner.Hash(), "tally", status.Tally, "blocks", status.BlockCount)

	if ae.forcer != nil && !ae.ledger.BlockOrPruned(ae.ledger.Store().TxBeginRead(), winner.Hash()) {
		if err := ae.forcer.Force(context.Background(), winner); err != nil {
			ae.logger.Error("failed to put confirmed winner into ledger", "hash", winner.Hash(), "err", err)
		}
	}
	if err := ae.confirming.AddElection(status); err != nil {
		ae.logger.Error("could not queue confirmed block for cementation", "hash", winner.Hash(), "err", err)
	}
	if ae.voter != nil {
		ae.voter.VoteFinal(winner)
	}
	ae.notifyVacancy()
}

// remove takes a finished election out of the container.
func (ae *ActiveElections) remove(e *Election) {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	if entry, ok := ae.roots[e.QualifiedRoot()]; ok && entry.election == e {
		ae.eraseLocked(e, DropErased)
	}
}

// eraseLocked removes e from every index. An election still running is
// cancelled: its blocks leave the duplicate filter so they can be
// processed again, and the drop is counted under reason. ae.mtx must be held.
func (ae *ActiveElections) eraseLocked(e *Election, reason DropReason) {
	entry := ae.roots[e.QualifiedRoot()]
	delete(ae.roots, e.QualifiedRoot())
	ae.ordered[e.Behavior()].Delete(entry)
	blocks := e.Blocks()
	for h := range blocks {
		if ae.blocks[h] == e {
			delete(ae.blocks, h)
		}
	}
	if e.cancel() {
		ae.metrics.ElectionsDropped[reason].Add(1)
		if ae.filter != nil {
			for _, b := range blocks {
				ae.filter.ClearBlock(b)
			}
		}
		if ae.stopped != nil {
			ae.stopped(e.Status())
		}
	}
}

// Erase removes the election for the root of block, whatever its state.
func (ae *ActiveElections) Erase(block *types.Block) bool {
	return ae.EraseRoot(block.QualifiedRoot())
}

// EraseRoot removes the election for root, whatever its state.
func (ae *ActiveElections) EraseRoot(root types.QualifiedRoot) bool {
	ae.mtx.Lock()
	entry, ok := ae.roots[root]
	if ok {
		ae.eraseLocked(entry.election, DropErased)
	}
	ae.mtx.Unlock()
	if ok {
		ae.notifyVacancy()
	}
	return ok
}

// ForceConfirm confirms e with its current winner and runs the same steps
// as a confirmation by votes. It is a no-op for an election that already
// ended.
func (ae *ActiveElections) ForceConfirm(e *Election) {
	if e.ForceConfirm() {
		ae.confirmed(e)
	}
}

// BlockCemented is called for every block after its cementation commits.
// An election still running for the block ends with the block as winner.
// It returns the status to report for the block.
func (ae *ActiveElections) BlockCemented(block *types.Block, status *types.ElectionStatus) types.ElectionStatus {
	if status == nil {
		ae.mtx.Lock()
		e, ok := ae.blocks[block.Hash()]
		ae.mtx.Unlock()
		if ok && e.confirmBlock(block.Hash()) {
			ae.recentlyConfirmed.Put(e.QualifiedRoot(), block.Hash())
			ae.remove(e)
			ae.metrics.ElectionsConfirmed.Add(1)
			ae.notifyVacancy()
			st := e.Status()
			status = &st
		}
	}
	// a fork of the cemented block can no longer win
	if e, ok := ae.Election(block.QualifiedRoot()); ok && !e.Contains(block.Hash()) {
		ae.EraseRoot(block.QualifiedRoot())
	}
	if status == nil {
		status = &types.ElectionStatus{
			Winner:      block,
			ElectionEnd: time.Now(),
			Type:        types.StatusInactiveConfirmationHeight,
		}
	}
	ae.recentlyCemented.Put(*status)
	return *status
}

//-----------------------------------------------------------------------------
// Election cycle

func (ae *ActiveElections) run(ctx context.Context) {
	ticker := time.NewTicker(ae.cfg.LoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ae.Quit():
			return
		case <-ticker.C:
			ae.RequestConfirm(time.Now())
		}
	}
}

// ttl returns how long an unconfirmed election of behavior b may run.
func (ae *ActiveElections) ttl(b types.ElectionBehavior) time.Duration {
	switch b {
	case types.BehaviorHinted, types.BehaviorOptimistic:
		return ae.cfg.HintedTTL
	default:
		return ae.cfg.PriorityTTL
	}
}

// RequestConfirm runs one election cycle: expired elections are dropped and
// the rest solicit votes.
func (ae *ActiveElections) RequestConfirm(now time.Time) {
	var expired int
	for _, e := range ae.ListActive(0) {
		if e.Age(now) > ae.ttl(e.Behavior()) {
			ae.mtx.Lock()
			if entry, ok := ae.roots[e.QualifiedRoot()]; ok && entry.election == e {
				ae.eraseLocked(e, DropExpired)
				expired++
			}
			ae.mtx.Unlock()
			continue
		}
		if hash, ok := e.solicit(now, ae.solicitor); ok && ae.voter != nil {
			ae.voter.Vote(e.QualifiedRoot(), hash)
		}
	}
	ae.solicitor.Flush()

	ae.mtx.Lock()
	for _, b := range types.ElectionBehaviors {
		ae.metrics.ElectionsLive[b].Set(float64(ae.ordered[b].Len()))
	}
	ae.mtx.Unlock()

	if expired > 0 {
		ae.logger.Debug("dropped expired elections", "count", expired)
		ae.notifyVacancy()
	}
}

//-----------------------------------------------------------------------------
// Queries

// Size returns the number of live elections.
func (ae *ActiveElections) Size() int {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	return len(ae.roots)
}

// SizeOf returns the number of live elections of behavior b.
func (ae *ActiveElections) SizeOf(b types.ElectionBehavior) int {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	return ae.ordered[b].Len()
}

// ListActive returns up to max live elections, oldest first. A max of zero
// returns all of them.
func (ae *ActiveElections) ListActive(max int) []*Election {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	entries := make([]*activeEntry, 0, len(ae.roots))
	for _, entry := range ae.roots {
		entries = append(entries, entry)
	}
	sortEntries(entries)
	if max > 0 && len(entries) > max {
		entries = entries[:max]
	}
	out := make([]*Election, len(entries))
	for i, entry := range entries {
		out[i] = entry.election
	}
	return out
}

// Election returns the live election for root.
func (ae *ActiveElections) Election(root types.QualifiedRoot) (*Election, bool) {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	entry, ok := ae.roots[root]
	if !ok {
		return nil, false
	}
	return entry.election, true
}

// ElectionFor returns the live election tracking hash as a candidate.
func (ae *ActiveElections) ElectionFor(hash types.Hash) (*Election, bool) {
	ae.mtx.Lock()
	defer ae.mtx.Unlock()
	e, ok := ae.blocks[hash]
	return e, ok
}

// Active reports whether hash is a candidate of a live election.
func (ae *ActiveElections) Active(hash types.Hash) bool {
	_, ok := ae.ElectionFor(hash)
	return ok
}

// ActiveRoot reports whether root has a live election.
func (ae *ActiveElections) ActiveRoot(root types.QualifiedRoot) bool {
	_, ok := ae.Election(root)
	return ok
}

// Confirmed reports whether e ended confirmed, or its root was decided
// recently.
func (ae *ActiveElections) Confirmed(e *Election) bool {
	return e.Confirmed() || ae.recentlyConfirmed.ExistsRoot(e.QualifiedRoot())
}

// Clear cancels and removes every election.
func (ae *ActiveElections) Clear() {
	ae.mtx.Lock()
	for _, entry := range ae.roots {
		ae.eraseLocked(entry.election, DropErased)
	}
	ae.mtx.Unlock()
	ae.notifyVacancy()
}

// ClearRecentlyConfirmed forgets recent outcomes; later votes for those
// blocks are indeterminate.
func (ae *ActiveElections) ClearRecentlyConfirmed() {
	ae.recentlyConfirmed.Clear()
}

func (ae *ActiveElections) RecentlyConfirmed() *RecentlyConfirmed { return ae.recentlyConfirmed }

func (ae *ActiveElections) RecentlyCemented() *RecentlyCemented { return ae.recentlyCemented }

func sortEntries(entries []*activeEntry) {
	sort.Slice(entries, func(i, j int) bool { return entryLess(entries[i], entries[j]) })
}
