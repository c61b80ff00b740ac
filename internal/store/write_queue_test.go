package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteQueuePriority(t *testing.T) {
	defer leaktest.Check(t)()

	ctx := context.Background()
	q := NewWriteQueue()

	release, err := q.Acquire(ctx, WriterBootstrap)
	require.NoError(t, err)

	var (
		mtx   sync.Mutex
		order []Writer
		wg    sync.WaitGroup
	)
	enqueue := func(w Writer) {
		waiting := q.Waiting()
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := q.Acquire(ctx, w)
			if !assert.NoError(t, err) {
				return
			}
			mtx.Lock()
			order = append(order, w)
			mtx.Unlock()
			rel()
		}()
		require.Eventually(t, func() bool { return q.Waiting() == waiting+1 }, time.Second, time.Millisecond)
	}

	enqueue(WriterBootstrap)
	enqueue(WriterPruning)
	enqueue(WriterConfirmationHeight)
	enqueue(WriterBlockProcessor)
	require.Equal(t, 4, q.Waiting())

	release()
	wg.Wait()

	assert.Equal(t, []Writer{
		WriterConfirmationHeight,
		WriterBlockProcessor,
		WriterPruning,
		WriterBootstrap,
	}, order)
	assert.Equal(t, 0, q.Waiting())
}

func TestWriteQueueCancel(t *testing.T) {
	defer leaktest.Check(t)()

	q := NewWriteQueue()
	release, err := q.Acquire(context.Background(), WriterBlockProcessor)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = q.Acquire(ctx, WriterConfirmationHeight)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, q.Waiting())

	// double release is harmless
	release()
	release()

	release, err = q.Acquire(context.Background(), WriterPruning)
	require.NoError(t, err)
	release()
	assert.False(t, q.Contains(WriterPruning))
}
