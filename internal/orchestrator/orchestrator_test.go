package orchestrator_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/execpolicy"
	"github.com/atlas-desktop/signal-pipeline/internal/notify"
	"github.com/atlas-desktop/signal-pipeline/internal/orchestrator"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func newPipeline(t *testing.T, sent *atomic.Int64) *orchestrator.Pipeline {
	t.Helper()
	sink := notify.SinkFunc(func(ctx context.Context, envelope notify.Envelope) (notify.Outcome, error) {
		sent.Add(1)
		return notify.Ok, nil
	})
	cfg := orchestrator.DefaultConfig([]string{"BTCUSD"}, []types.Timeframe{types.Timeframe1m})
	p := orchestrator.New(zap.NewNop(), nil, sink, nil, cfg)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)
	return p
}

func tick(symbol string, price float64, seq uint64, at time.Time) types.MarketTick {
	p := decimal.NewFromFloat(price)
	return types.MarketTick{
		Symbol: symbol, Source: "test", Sequence: seq, EventTime: at,
		Mid: p, Bid: p, Ask: p, Last: p, Volume: decimal.NewFromInt(1),
	}
}

// TestPipelineIngestsTicksWithoutDeadlock feeds a rising price series and
// confirms it doesn't deadlock or panic across Start/Stop; this exercises
// the full P1->P2->P3->P4 wiring even when no strategy happens to fire on
// synthetic ticks, which is an acceptable outcome for this smoke test.
func TestPipelineIngestsTicksWithoutDeadlock(t *testing.T) {
	var sent atomic.Int64
	p := newPipeline(t, &sent)

	now := time.Now()
	price := 100.0
	for i := 0; i < 50; i++ {
		price += 0.1
		p.IngestTick(tick("BTCUSD", price, uint64(i), now.Add(time.Duration(i)*time.Second)))
	}

	time.Sleep(50 * time.Millisecond)
	snap := p.Metrics()
	require.GreaterOrEqual(t, snap.PreEval.TrackedSymbols, 0)
}

func TestPipelineRecordOutcomeTagsRegime(t *testing.T) {
	var sent atomic.Int64
	p := newPipeline(t, &sent)

	now := time.Now()
	price := 100.0
	for i := 0; i < 60; i++ {
		price += 0.2
		p.IngestTick(tick("BTCUSD", price, uint64(i), now.Add(time.Duration(i)*time.Second)))
	}

	p.RecordOutcome(types.OutcomeRecord{
		ID:             "o1",
		Symbol:         "BTCUSD",
		Closure:        types.ClosureTakeProfit,
		RealizedPnLPct: 1.5,
	})
}

func TestPipelineOnPositionEventDoesNotPanic(t *testing.T) {
	var sent atomic.Int64
	p := newPipeline(t, &sent)
	p.OnPositionEvent(execpolicy.PositionEvent{
		Symbol:     "BTCUSD",
		Direction:  types.DirectionLong,
		NewStatus:  types.PositionClosed,
		ObservedAt: time.Now(),
	})
}
