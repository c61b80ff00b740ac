package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/libs/log"
)

type testService struct {
	BaseService
	ticks int32
}

func newTestService() *testService {
	ts := &testService{}
	ts.BaseService = *NewBaseService(log.NewNopLogger(), "TestService", ts)
	return ts
}

func (ts *testService) OnStart(ctx context.Context) error {
	ts.Spawn(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ts.Quit():
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				atomic.AddInt32(&ts.ticks, 1)
			}
		}
	})
	return nil
}

func (ts *testService) OnStop() {}

func TestBaseServiceWait(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.NoError(t, ts.Start(ctx))

	waitFinished := make(chan struct{})
	go func() {
		ts.Wait()
		close(waitFinished)
	}()

	go ts.Stop() //nolint:errcheck // ignore for tests

	select {
	case <-waitFinished:
		// all good
	case <-time.After(time.Second):
		t.Fatal("expected Wait() to finish within 1s")
	}
}

func TestBaseServiceLifecycle(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTestService()
	require.ErrorIs(t, ts.Stop(), ErrNotStarted)

	require.NoError(t, ts.Start(ctx))
	require.True(t, ts.IsRunning())
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ts.ticks) > 0 }, time.Second, time.Millisecond)

	require.NoError(t, ts.Stop())
	require.False(t, ts.IsRunning())
	require.ErrorIs(t, ts.Stop(), ErrAlreadyStopped)
	require.ErrorIs(t, ts.Start(ctx), ErrAlreadyStarted)
}

func TestBaseServiceContextCancel(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	ts := newTestService()
	require.NoError(t, ts.Start(ctx))

	cancel()
	select {
	case <-ts.Quit():
	case <-time.After(time.Second):
		t.Fatal("service did not stop after context cancellation")
	}
}
