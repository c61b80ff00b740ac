// Package scheduler decides which blocks get elections. Priority elections
// follow ledger order, hinted elections follow vote weight seen before a
// block was scheduled and manual elections are requested explicitly.
package scheduler

import (
	"github.com/orvnode/orv/internal/consensus"
	"github.com/orvnode/orv/types"
)

// Elections is the part of the election container the schedulers fill.
type Elections interface {
	Insert(block *types.Block, behavior types.ElectionBehavior) consensus.InsertResult
	Vacancy(behavior types.ElectionBehavior) int
}

var _ Elections = (*consensus.ActiveElections)(nil)

// signal performs a non-blocking send on a wake channel of capacity one.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
