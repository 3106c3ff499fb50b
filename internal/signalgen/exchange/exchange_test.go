package exchange_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/signalgen/exchange"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func tick(symbol string, seq uint64, at time.Time) types.MarketTick {
	return types.MarketTick{
		Symbol:    symbol,
		Source:    "test-exchange",
		Sequence:  seq,
		EventTime: at,
		Mid:       decimal.NewFromFloat(100),
		Last:      decimal.NewFromFloat(100),
	}
}

// fakeConnector streams a fixed slice of ticks once, then blocks until ctx
// is cancelled (mirroring a connector whose stream simply never drops again).
type fakeConnector struct {
	name  string
	ticks []types.MarketTick
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Stream(ctx context.Context, out chan<- types.MarketTick) error {
	for _, t := range f.ticks {
		select {
		case out <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type failingConnector struct{ name string }

func (f *failingConnector) Name() string { return f.name }

func (f *failingConnector) Stream(ctx context.Context, out chan<- types.MarketTick) error {
	return errors.New("connection refused")
}

func TestSupervisorDedupsRepeatedSequence(t *testing.T) {
	now := time.Now().UTC()
	conn := &fakeConnector{name: "ex1", ticks: []types.MarketTick{
		tick("BTCUSD", 1, now),
		tick("BTCUSD", 1, now.Add(time.Millisecond)), // duplicate sequence
		tick("BTCUSD", 2, now.Add(2*time.Millisecond)),
	}}
	sup := exchange.NewSupervisor(zap.NewNop(), conn, exchange.DefaultSupervisorConfig())

	out := make(chan types.MarketTick, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go sup.Run(ctx, out)

	var got []types.MarketTick
	deadline := time.After(150 * time.Millisecond)
loop:
	for {
		select {
		case tk := <-out:
			got = append(got, tk)
			if len(got) == 2 {
				break loop
			}
		case <-deadline:
			break loop
		}
	}

	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].Sequence)
	require.Equal(t, uint64(2), got[1].Sequence)
}

func TestSupervisorHealthyReflectsSilence(t *testing.T) {
	conn := &fakeConnector{name: "ex1"}
	cfg := exchange.DefaultSupervisorConfig()
	cfg.SilenceTimeout = 10 * time.Millisecond
	sup := exchange.NewSupervisor(zap.NewNop(), conn, cfg)

	require.False(t, sup.Healthy(time.Now()), "no tick observed yet")
}

func TestFailoverPrefersMostRecentTick(t *testing.T) {
	now := time.Now().UTC()
	stale := exchange.NewSupervisor(zap.NewNop(), &fakeConnector{name: "stale", ticks: []types.MarketTick{
		tick("BTCUSD", 1, now),
	}}, exchange.DefaultSupervisorConfig())
	fresh := exchange.NewSupervisor(zap.NewNop(), &fakeConnector{name: "fresh", ticks: []types.MarketTick{
		tick("BTCUSD", 1, now.Add(time.Hour)),
	}}, exchange.DefaultSupervisorConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	staleOut := make(chan types.MarketTick, 4)
	freshOut := make(chan types.MarketTick, 4)
	go stale.Run(ctx, staleOut)
	go fresh.Run(ctx, freshOut)
	<-staleOut
	<-freshOut

	best := exchange.Failover([]*exchange.Supervisor{stale, fresh}, time.Now().Add(time.Hour))
	require.NotNil(t, best)
	require.Equal(t, "fresh", best.Name())
}

func TestSupervisorBackoffOnPersistentFailure(t *testing.T) {
	cfg := exchange.DefaultSupervisorConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	sup := exchange.NewSupervisor(zap.NewNop(), &failingConnector{name: "always-down"}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out := make(chan types.MarketTick)

	done := make(chan struct{})
	go func() {
		sup.Run(ctx, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("supervisor did not return after context cancellation")
	}
	require.False(t, sup.Healthy(time.Now()))
}
