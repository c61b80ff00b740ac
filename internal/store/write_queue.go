package store

import (
	"context"
	"sync"
)

// Writer identifies who is asking for the write slot.
type Writer uint8

// Writers in decreasing priority. Cementation goes first so confirmation
// latency does not suffer behind bulk work.
const (
	WriterConfirmationHeight Writer = iota
	WriterBlockProcessor
	WriterPruning
	WriterBootstrap
	WriterTesting

	numWriters
)

func (w Writer) String() string {
	switch w {
	case WriterConfirmationHeight:
		return "confirmation_height"
	case WriterBlockProcessor:
		return "block_processor"
	case WriterPruning:
		return "pruning"
	case WriterBootstrap:
		return "bootstrap"
	case WriterTesting:
		return "testing"
	default:
		return "unknown"
	}
}

// WriteQueue grants a single write slot. Waiting writers are served by
// writer priority and FIFO within the same writer.
type WriteQueue struct {
	mtx     sync.Mutex
	busy    bool
	owner   Writer
	waiting [numWriters][]chan struct{}
}

func NewWriteQueue() *WriteQueue {
	return &WriteQueue{}
}

// Acquire blocks until writer owns the slot or ctx is done. The returned
// release func must be called exactly once.
func (q *WriteQueue) Acquire(ctx context.Context, writer Writer) (func(), error) {
	q.mtx.Lock()
	if !q.busy {
		q.busy = true
		q.owner = writer
		q.mtx.Unlock()
		return q.releaseFunc(), nil
	}
	ch := make(chan struct{})
	q.waiting[writer] = append(q.waiting[writer], ch)
	q.mtx.Unlock()

	select {
	case <-ch:
		return q.releaseFunc(), nil
	case <-ctx.Done():
		q.mtx.Lock()
		defer q.mtx.Unlock()
		select {
		case <-ch:
			// granted while we were giving up; pass it on
			q.handOff()
		default:
			q.remove(writer, ch)
		}
		return nil, ctx.Err()
	}
}

// Contains reports whether writer holds or waits for the slot.
func (q *WriteQueue) Contains(writer Writer) bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return (q.busy && q.owner == writer) || len(q.waiting[writer]) > 0
}

// Waiting returns the number of writers waiting for the slot.
func (q *WriteQueue) Waiting() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	n := 0
	for _, w := range q.waiting {
		n += len(w)
	}
	return n
}

func (q *WriteQueue) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			q.mtx.Lock()
			q.handOff()
			q.mtx.Unlock()
		})
	}
}

// handOff passes the slot to the next waiter or frees it. q.mtx must be held.
func (q *WriteQueue) handOff() {
	for w := Writer(0); w < numWriters; w++ {
		if len(q.waiting[w]) == 0 {
			continue
		}
		ch := q.waiting[w][0]
		q.waiting[w] = q.waiting[w][1:]
		q.owner = w
		close(ch)
		return
	}
	q.busy = false
}

func (q *WriteQueue) remove(writer Writer, ch chan struct{}) {
	waiting := q.waiting[writer]
	for i, c := range waiting {
		if c == ch {
			q.waiting[writer] = append(waiting[:i:i], waiting[i+1:]...)
			return
		}
	}
}
