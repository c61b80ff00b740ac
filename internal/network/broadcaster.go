package network

import (
	"github.com/orvnode/orv/types"
)

//go:generate ../../scripts/mockery_generate.sh Broadcaster

// HashRoot is one entry of a confirmation request.
type HashRoot struct {
	Hash types.Hash
	Root types.Hash
}

// Broadcaster sends messages to peers. Implementations must not block the
// caller on network I/O.
type Broadcaster interface {
	// FloodBlock publishes block to peers.
	FloodBlock(block *types.Block)
	// FloodVote publishes vote to peers.
	FloodVote(vote *types.Vote)
	// SendConfirmReq asks representatives to vote on the given blocks.
	SendConfirmReq(batch []HashRoot)
}

// NopBroadcaster drops every message. It serves nodes without peers.
type NopBroadcaster struct{}

var _ Broadcaster = NopBroadcaster{}

func (NopBroadcaster) FloodBlock(*types.Block) {}

func (NopBroadcaster) FloodVote(*types.Vote) {}

func (NopBroadcaster) SendConfirmReq([]HashRoot) {}
