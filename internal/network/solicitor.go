package network

import (
	"sync"

	"github.com/orvnode/orv/types"
)

// Solicitor collects, during one election cycle, the blocks that need votes
// and the blocks that need re-broadcasting, and sends them in bounded
// batches when flushed.
type Solicitor struct {
	broadcaster   Broadcaster
	maxBatch      int
	maxBroadcasts int

	mtx        sync.Mutex
	requests   []HashRoot
	broadcasts []*types.Block
}

// NewSolicitor returns a solicitor sending at most maxBatch roots per
// confirmation request and maxBroadcasts block floods per cycle.
func NewSolicitor(broadcaster Broadcaster, maxBatch, maxBroadcasts int) *Solicitor {
	return &Solicitor{
		broadcaster:   broadcaster,
		maxBatch:      maxBatch,
		maxBroadcasts: maxBroadcasts,
	}
}

// Add queues a confirmation request for block.
func (s *Solicitor) Add(block *types.Block) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.requests = append(s.requests, HashRoot{Hash: block.Hash(), Root: block.Root()})
}

// Broadcast queues block for flooding. It returns false once the per-cycle
// limit is reached.
func (s *Solicitor) Broadcast(block *types.Block) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if len(s.broadcasts) >= s.maxBroadcasts {
		return false
	}
	s.broadcasts = append(s.broadcasts, block)
	return true
}

// Flush sends everything queued since the last flush.
func (s *Solicitor) Flush() {
	s.mtx.Lock()
	requests, broadcasts := s.requests, s.broadcasts
	s.requests, s.broadcasts = nil, nil
	s.mtx.Unlock()

	for _, block := range broadcasts {
		s.broadcaster.FloodBlock(block)
	}
	for len(requests) > 0 {
		n := s.maxBatch
		if n > len(requests) {
			n = len(requests)
		}
		s.broadcaster.SendConfirmReq(requests[:n])
		requests = requests[n:]
	}
}
