package ledger

import (
	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/types"
)

// ProcessCode is the outcome of applying a block to the ledger.
type ProcessCode uint8

const (
	Progress ProcessCode = iota
	Old
	Fork
	GapPrevious
	GapSource
	BadSignature
	NegativeSpend
	Unreceivable
	BalanceMismatch
	BlockPosition
	RepresentativeMismatch
)

func (c ProcessCode) String() string {
	switch c {
	case Progress:
		return "progress"
	case Old:
		return "old"
	case Fork:
		return "fork"
	case GapPrevious:
		return "gap_previous"
	case GapSource:
		return "gap_source"
	case BadSignature:
		return "bad_signature"
	case NegativeSpend:
		return "negative_spend"
	case Unreceivable:
		return "unreceivable"
	case BalanceMismatch:
		return "balance_mismatch"
	case BlockPosition:
		return "block_position"
	case RepresentativeMismatch:
		return "representative_mismatch"
	default:
		return "unknown"
	}
}

// ProcessResult carries the stored copy of the block on Progress, with its
// sideband filled in.
type ProcessResult struct {
	Code  ProcessCode
	Block *types.Block
}

// blockCheck holds what validation learned about a block before applying it.
type blockCheck struct {
	account     types.Account
	prev        *types.Block
	info        types.AccountInfo
	balance     types.Amount
	rep         types.Account
	details     types.BlockDetails
	amount      types.Amount
	pending     types.PendingKey
	destination types.Account
}

// Process validates block against the state visible in txn and, if valid,
// applies it. The passed block is never modified.
func (l *Ledger) Process(txn *store.WriteTxn, block *types.Block) ProcessResult {
	if l.BlockOrPruned(txn, block.Hash()) {
		return ProcessResult{Code: Old}
	}

	var (
		chk  blockCheck
		code ProcessCode
	)
	switch block.Type() {
	case types.BlockTypeState:
		chk, code = l.checkState(txn, block)
	case types.BlockTypeOpen:
		chk, code = l.checkOpen(txn, block)
	case types.BlockTypeSend, types.BlockTypeReceive, types.BlockTypeChange:
		chk, code = l.checkLegacy(txn, block)
	default:
		return ProcessResult{Code: BlockPosition}
	}
	if code != Progress {
		return ProcessResult{Code: code}
	}
	return ProcessResult{Code: Progress, Block: l.apply(txn, block, chk)}
}

// checkPrevious resolves the previous block and the account it belongs to.
func (l *Ledger) checkPrevious(txn *store.WriteTxn, block *types.Block) (blockCheck, ProcessCode) {
	var chk blockCheck
	prev, ok := txn.Block(block.Previous())
	if !ok {
		if txn.Pruned(block.Previous()) {
			// the head of an account is never pruned
			return chk, Fork
		}
		return chk, GapPrevious
	}
	chk.prev = prev
	chk.account = prev.Account()
	info, ok := txn.Account(chk.account)
	if !ok {
		return chk, GapPrevious
	}
	chk.info = info
	if info.Head != prev.Hash() {
		return chk, Fork
	}
	return chk, Progress
}

func (l *Ledger) checkState(txn *store.WriteTxn, block *types.Block) (blockCheck, ProcessCode) {
	var (
		chk  blockCheck
		code ProcessCode
	)
	account := block.Account()
	isEpoch := l.constants.IsEpochLink(block.Link())

	if block.Previous().IsZero() {
		if _, ok := txn.Account(account); ok {
			return chk, Fork
		}
		chk.account = account
	} else {
		if chk, code = l.checkPrevious(txn, block); code != Progress {
			return chk, code
		}
		if chk.account != account {
			return chk, Fork
		}
	}

	signer := account
	prevBalance := chk.info.Balance
	balance := block.Balance()
	epoch := isEpoch && balance == prevBalance && !block.Previous().IsZero()
	if epoch {
		signer = l.constants.EpochSigner
	}
	if !block.VerifySignature(signer) {
		return chk, BadSignature
	}

	chk.balance = balance
	chk.rep = block.Representative()
	link := block.Link()
	switch {
	case balance.Lt(prevBalance):
		chk.details.IsSend = true
		chk.amount = prevBalance.MustSub(balance)
		chk.destination = link.AsAccount()
	case epoch:
		if chk.rep != chk.info.Representative {
			return chk, RepresentativeMismatch
		}
		chk.details.IsEpoch = true
	case link.IsZero():
		if balance != prevBalance {
			return chk, BalanceMismatch
		}
		if block.Previous().IsZero() {
			return chk, GapSource
		}
	default:
		// receive
		if !l.BlockOrPruned(txn, link) {
			return chk, GapSource
		}
		key := types.PendingKey{Account: account, Hash: link}
		pending, ok := txn.Pending(key)
		if !ok {
			return chk, Unreceivable
		}
		if balance.MustSub(prevBalance) != pending.Amount {
			return chk, BalanceMismatch
		}
		chk.details.IsReceive = true
		chk.amount = pending.Amount
		chk.pending = key
	}
	return chk, Progress
}

func (l *Ledger) checkOpen(txn *store.WriteTxn, block *types.Block) (blockCheck, ProcessCode) {
	var chk blockCheck
	account := block.Account()
	if _, ok := txn.Account(account); ok {
		return chk, Fork
	}
	if !block.VerifySignature(account) {
		return chk, BadSignature
	}
	source := block.Source()
	if !l.BlockOrPruned(txn, source) {
		return chk, GapSource
	}
	key := types.PendingKey{Account: account, Hash: source}
	pending, ok := txn.Pending(key)
	if !ok {
		return chk, Unreceivable
	}
	chk.account = account
	chk.balance = pending.Amount
	chk.amount = pending.Amount
	chk.rep = block.Representative()
	chk.details.IsReceive = true
	chk.pending = key
	return chk, Progress
}

func (l *Ledger) checkLegacy(txn *store.WriteTxn, block *types.Block) (blockCheck, ProcessCode) {
	chk, code := l.checkPrevious(txn, block)
	if code != Progress {
		return chk, code
	}
	// legacy blocks cannot follow a state block
	if chk.prev.Type() == types.BlockTypeState {
		return chk, BlockPosition
	}
	if !block.VerifySignature(chk.account) {
		return chk, BadSignature
	}

	chk.rep = chk.info.Representative
	chk.balance = chk.info.Balance
	switch block.Type() {
	case types.BlockTypeSend:
		balance := block.Balance()
		if balance.Gt(chk.info.Balance) {
			return chk, NegativeSpend
		}
		chk.balance = balance
		chk.amount = chk.info.Balance.MustSub(balance)
		chk.destination = block.Destination()
		chk.details.IsSend = true
	case types.BlockTypeReceive:
		source := block.Source()
		if !l.BlockOrPruned(txn, source) {
			return chk, GapSource
		}
		key := types.PendingKey{Account: chk.account, Hash: source}
		pending, ok := txn.Pending(key)
		if !ok {
			return chk, Unreceivable
		}
		chk.balance = chk.info.Balance.MustAdd(pending.Amount)
		chk.amount = pending.Amount
		chk.pending = key
		chk.details.IsReceive = true
	case types.BlockTypeChange:
		chk.rep = block.Representative()
	}
	return chk, Progress
}

func (l *Ledger) apply(txn *store.WriteTxn, block *types.Block, chk blockCheck) *types.Block {
	now := l.now()
	height := chk.info.BlockCount + 1

	stored := block.Clone()
	stored.SetSideband(types.Sideband{
		Height:    height,
		Account:   chk.account,
		Balance:   chk.balance,
		Timestamp: now,
		Details:   chk.details,
	})
	txn.BlockPut(stored)
	if chk.prev != nil {
		txn.BlockSuccessorSet(chk.prev.Hash(), stored.Hash())
	}

	l.weights.move(txn, chk.info.Representative, chk.rep, chk.info.Balance, chk.balance)

	switch {
	case chk.details.IsSend:
		txn.PendingPut(
			types.PendingKey{Account: chk.destination, Hash: stored.Hash()},
			types.PendingInfo{Source: chk.account, Amount: chk.amount},
		)
	case chk.details.IsReceive:
		txn.PendingDel(chk.pending)
	}

	open := chk.info.Open
	if open.IsZero() {
		open = stored.Hash()
	}
	txn.AccountPut(chk.account, types.AccountInfo{
		Head:           stored.Hash(),
		Representative: chk.rep,
		Open:           open,
		Balance:        chk.balance,
		Modified:       now,
		BlockCount:     height,
	})
	txn.BlockCountPut(txn.BlockCount() + 1)
	return stored
}
