package notify_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/notify"
)

func countingSink(count *atomic.Int64) notify.SinkFunc {
	return func(ctx context.Context, envelope notify.Envelope) (notify.Outcome, error) {
		count.Add(1)
		return notify.Ok, nil
	}
}

func newDispatcher(t *testing.T, sink notify.Sink) *notify.Dispatcher {
	t.Helper()
	d := notify.New(zap.NewNop(), sink, nil, notify.Config{PollInterval: 10 * time.Millisecond})
	d.Run(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestCriticalDispatchedImmediately(t *testing.T) {
	var sent atomic.Int64
	d := newDispatcher(t, countingSink(&sent))
	now := time.Now()
	d.Enqueue(notify.Source{Symbol: "BTCUSD", Band: notify.BandCritical, Strength: 0.9, EmittedAt: now, ExpiresAt: now.Add(time.Hour)})

	require.Eventually(t, func() bool { return sent.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestLowBandSuppressed(t *testing.T) {
	var sent atomic.Int64
	d := newDispatcher(t, countingSink(&sent))
	now := time.Now()
	d.Enqueue(notify.Source{Symbol: "ETHUSD", Band: notify.BandLow, Strength: 0.9, EmittedAt: now, ExpiresAt: now.Add(time.Hour)})

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(0), sent.Load())
	require.Equal(t, 0, d.QueueDepth())
}

func TestDailyDedupSkipsStrongerArrivalAfterFirstSent(t *testing.T) {
	var sent atomic.Int64
	d := newDispatcher(t, countingSink(&sent))
	now := time.Now().Add(-30 * time.Minute) // delay already elapsed
	d.Enqueue(notify.Source{Symbol: "SOLUSD", Band: notify.BandMedium, Strength: 0.5, EmittedAt: now, ExpiresAt: now.Add(2 * time.Hour)})
	require.Eventually(t, func() bool { return sent.Load() == 1 }, time.Second, 10*time.Millisecond)

	// A stronger same-day arrival is not recalled/resent once the earlier
	// one already reached SENT.
	secondEmitted := time.Now().Add(-30 * time.Minute)
	d.Enqueue(notify.Source{Symbol: "SOLUSD", Band: notify.BandMedium, Strength: 0.6, EmittedAt: secondEmitted, ExpiresAt: secondEmitted.Add(2 * time.Hour)})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int64(1), sent.Load())
	require.Equal(t, 0, d.QueueDepth())
}

func TestExpiredBeforeReadyNeverSends(t *testing.T) {
	var sent atomic.Int64
	d := newDispatcher(t, countingSink(&sent))
	now := time.Now()
	d.Enqueue(notify.Source{
		Symbol: "DOGEUSD", Band: notify.BandHigh, Strength: 0.7,
		EmittedAt: now, ExpiresAt: now.Add(time.Millisecond), // expires long before the 300s HIGH delay
	})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int64(0), sent.Load())
	require.Equal(t, 0, d.QueueDepth())
}
