package ledger

import (
	"fmt"

	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/types"
)

// Rollback removes hash and every block above it in its account chain. Sends
// that were already received are undone by rolling back the receiving chain
// first. Nothing at or below a confirmation height is ever removed; in that
// case ErrRollbackCemented is returned and txn must be discarded. The
// removed blocks are returned, most recent first.
func (l *Ledger) Rollback(txn *store.WriteTxn, hash types.Hash) ([]*types.Block, error) {
	target, ok := txn.Block(hash)
	if !ok {
		return nil, ErrBlockNotFound
	}
	account := target.Account()
	var removed []*types.Block
	for {
		info, ok := txn.Account(account)
		if !ok {
			return removed, fmt.Errorf("rolling back %v: account %v has no info", hash, account)
		}
		head, ok := txn.Block(info.Head)
		if !ok {
			return removed, fmt.Errorf("rolling back %v: head %v missing", hash, info.Head)
		}
		if head.Height() <= txn.ConfirmationHeight(account).Height {
			return removed, ErrRollbackCemented
		}
		undone, err := l.rollbackHead(txn, head, info)
		removed = append(removed, undone...)
		if err != nil {
			return removed, err
		}
		if head.Hash() == hash {
			return removed, nil
		}
	}
}

// rollbackHead removes the head block of an account.
func (l *Ledger) rollbackHead(txn *store.WriteTxn, head *types.Block, info types.AccountInfo) ([]*types.Block, error) {
	var removed []*types.Block
	account := head.Account()

	if head.IsSend() {
		key := types.PendingKey{Account: head.Destination(), Hash: head.Hash()}
		for {
			if _, ok := txn.Pending(key); ok {
				break
			}
			// The destination received it. Undo its chain until the entry reappears.
			dest, ok := txn.Account(key.Account)
			if !ok {
				return removed, fmt.Errorf("send %v received by unknown account %v", head.Hash(), key.Account)
			}
			undone, err := l.Rollback(txn, dest.Head)
			removed = append(removed, undone...)
			if err != nil {
				return removed, err
			}
		}
		txn.PendingDel(key)
	}

	prevBalance := types.Amount{}
	prevRep := types.ZeroAccount
	if prev := head.Previous(); !prev.IsZero() {
		prevBlock, ok := txn.Block(prev)
		if !ok {
			return removed, fmt.Errorf("rolling back %v: previous %v missing", head.Hash(), prev)
		}
		prevBalance = prevBlock.Balance()
		prevRep = l.representativeAt(txn, prev)
	}

	if head.IsReceive() {
		amount := head.Balance().MustSub(prevBalance)
		source := types.ZeroAccount
		if src, ok := txn.Block(head.Source()); ok {
			source = src.Account()
		}
		txn.PendingPut(
			types.PendingKey{Account: account, Hash: head.Source()},
			types.PendingInfo{Source: source, Amount: amount},
		)
	}

	l.weights.move(txn, info.Representative, prevRep, info.Balance, prevBalance)

	if prev := head.Previous(); prev.IsZero() {
		txn.AccountDel(account)
		txn.ConfirmationHeightDel(account)
	} else {
		txn.BlockSuccessorSet(prev, types.ZeroHash)
		txn.AccountPut(account, types.AccountInfo{
			Head:           prev,
			Representative: prevRep,
			Open:           info.Open,
			Balance:        prevBalance,
			Modified:       l.now(),
			BlockCount:     info.BlockCount - 1,
		})
	}
	txn.BlockDel(head.Hash())
	txn.BlockCountPut(txn.BlockCount() - 1)

	return append(removed, head), nil
}
