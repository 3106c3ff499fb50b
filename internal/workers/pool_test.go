package workers_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/workers"
)

func TestSubmitRunsTaskAndCountsCompleted(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	var ran atomic.Bool
	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran.Load())
	require.EqualValues(t, 1, pool.Stats().Completed)
}

func TestSubmitClassifiesTaskError(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	boom := errors.New("boom")
	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 1, pool.Stats().Failed)
}

func TestSubmitRecoversPanic(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	require.EqualValues(t, 1, pool.Stats().PanicRecovered)
}

func TestSubmitRespectsTaskTimeout(t *testing.T) {
	config := workers.DefaultPoolConfig("test")
	config.TaskTimeout = 20 * time.Millisecond
	pool := workers.NewPool(zap.NewNop(), config)

	err := pool.Submit(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	require.EqualValues(t, 1, pool.Stats().TimedOut)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	config := workers.DefaultPoolConfig("bounded")
	config.NumWorkers = 2
	config.TaskTimeout = time.Second
	pool := workers.NewPool(zap.NewNop(), config)

	var inFlight, maxSeen atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		go pool.Submit(context.Background(), func(ctx context.Context) error {
			n := inFlight.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return nil
		})
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	pool.Wait()
	require.LessOrEqual(t, maxSeen.Load(), int32(2))
}
