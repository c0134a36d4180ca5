// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

package workpool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/datagate/datagate/gateway/gerr"
	"github.com/datagate/datagate/gateway/workpool"
)

func TestAwaitReturnsResult(t *testing.T) {
	pool := workpool.New(zaptest.NewLogger(t), 2)
	defer func() { require.NoError(t, pool.Close()) }()

	value, err := pool.Await(context.Background(), func(ctx context.Context) (any, error) {
		return "done", nil
	}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "done", value)

	boom := errs.New("boom")
	_, err = pool.Await(context.Background(), func(ctx context.Context) (any, error) {
		return nil, boom
	}, time.Second)
	require.ErrorIs(t, err, boom)
}

func TestAwaitTimeout(t *testing.T) {
	pool := workpool.New(zaptest.NewLogger(t), 1)
	defer func() { require.NoError(t, pool.Close()) }()

	release := make(chan struct{})
	_, err := pool.Await(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	}, 20*time.Millisecond)
	require.Error(t, err)
	require.True(t, gerr.Timeout.Has(err))
	close(release)
}

func TestFireRunsJob(t *testing.T) {
	pool := workpool.New(zaptest.NewLogger(t), 2)
	defer func() { require.NoError(t, pool.Close()) }()

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Fire(context.Background(), func(ctx context.Context) (any, error) {
		wg.Done()
		return nil, nil
	})
	wg.Wait()
}

func TestDetachRunsOutsideWorkers(t *testing.T) {
	// All workers blocked, the detached job still runs.
	pool := workpool.New(zaptest.NewLogger(t), 1)

	release := make(chan struct{})
	pool.Fire(context.Background(), func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Detach(context.Background(), func(ctx context.Context) (any, error) {
		wg.Done()
		return nil, nil
	})
	wg.Wait()

	close(release)
	require.NoError(t, pool.Close())
}

func TestCountersBalanceAfterClose(t *testing.T) {
	pool := workpool.New(zaptest.NewLogger(t), 3)

	for i := 0; i < 10; i++ {
		_, err := pool.Await(context.Background(), func(ctx context.Context) (any, error) {
			return i, nil
		}, time.Second)
		require.NoError(t, err)
	}
	_, err := pool.Await(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errs.New("expected")
	}, time.Second)
	require.Error(t, err)

	require.NoError(t, pool.Close())

	counters := pool.Counters()
	require.EqualValues(t, 11, counters.Started)
	require.EqualValues(t, 10, counters.Completed)
	require.EqualValues(t, 1, counters.Errored)
	require.EqualValues(t, 0, counters.Alive)
	require.EqualValues(t, 3, counters.Exited)
}

func TestAwaitRecoversPanic(t *testing.T) {
	pool := workpool.New(zaptest.NewLogger(t), 1)
	defer func() { require.NoError(t, pool.Close()) }()

	_, err := pool.Await(context.Background(), func(ctx context.Context) (any, error) {
		panic("kaboom")
	}, time.Second)
	require.Error(t, err)
	require.True(t, gerr.Backend.Has(err))
}
