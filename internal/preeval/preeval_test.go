package preeval_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/internal/preeval"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func newCandidate(symbol, strategy string, dir types.Direction, confidence float64, feature float64) types.SignalCandidate {
	return types.SignalCandidate{
		ID: types.CandidateID{
			Symbol:      symbol,
			Timeframe:   types.Timeframe5m,
			CloseTime:   time.Now(),
			StrategyTag: strategy,
		},
		Symbol:      symbol,
		Direction:   dir,
		Strength:    0.8,
		Confidence:  confidence,
		EntryPrice:  decimal.NewFromInt(100),
		StopLoss:    decimal.NewFromInt(98),
		TakeProfit:  decimal.NewFromInt(106),
		ExpiresAt:   time.Now().Add(2 * time.Hour),
		StrategyTag: strategy,
		FeatureSnapshot: map[string]float64{
			"rsi": feature,
		},
		Quality: types.QualityScores{
			DataCompleteness: 0.9,
			SignalClarity:    0.85,
			Confidence:       confidence,
			VolatilityFit:    0.8,
			LiquidityFit:     0.8,
		},
		EmittedAt: time.Now(),
	}
}

func newProcessor(t *testing.T) *preeval.Processor {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultConfig())
	t.Cleanup(bus.Close)
	store := paramstore.New(logger, bus)
	return preeval.New(logger, store, nil, preeval.DefaultConfig())
}

func TestProcessDropsInvalidCandidate(t *testing.T) {
	p := newProcessor(t)
	bad := newCandidate("BTCUSD", "momentum", types.DirectionLong, 1.5, 30)
	_, _, dropped, reason := p.Process(context.Background(), bad)
	require.True(t, dropped)
	require.Equal(t, preeval.DroppedInvalid, reason)
}

func TestProcessHighQualityRoutesExpress(t *testing.T) {
	p := newProcessor(t)
	c := newCandidate("BTCUSD", "momentum", types.DirectionLong, 0.9, 25)
	c.Quality = types.QualityScores{DataCompleteness: 0.95, SignalClarity: 0.95, Confidence: 0.95, VolatilityFit: 0.95, LiquidityFit: 0.95}
	vetted, lane, dropped, _ := p.Process(context.Background(), c)
	require.False(t, dropped)
	require.Equal(t, preeval.LaneExpress, lane)
	require.NotEqual(t, types.PriorityBand(""), vetted.Priority)
}

func TestProcessDeduplicatesSimilarCandidates(t *testing.T) {
	p := newProcessor(t)
	first := newCandidate("ETHUSD", "momentum", types.DirectionLong, 0.9, 28)
	second := newCandidate("ETHUSD", "mean_reversion", types.DirectionLong, 0.6, 28)

	_, _, dropped1, _ := p.Process(context.Background(), first)
	require.False(t, dropped1)

	_, _, dropped2, reason2 := p.Process(context.Background(), second)
	require.True(t, dropped2)
	require.Equal(t, preeval.DroppedDuplicate, reason2)
}

func TestProcessDiversityGuardPreservesDuplicates(t *testing.T) {
	p := newProcessor(t)
	strategies := []string{"momentum", "mean_reversion", "breakout"}
	var lastDropped bool
	var lastReason preeval.DroppedReason
	for i, strat := range strategies {
		c := newCandidate("SOLUSD", strat, types.DirectionLong, 0.6+float64(i)*0.01, 28)
		_, _, dropped, reason := p.Process(context.Background(), c)
		lastDropped, lastReason = dropped, reason
	}
	// Three independent strategies agreeing should trip the diversity guard
	// on the final one rather than suppress it as a duplicate.
	require.False(t, lastDropped, "reason: %v", lastReason)
}

func TestProcessBelowFloorIsDropped(t *testing.T) {
	p := newProcessor(t)
	c := newCandidate("DOGEUSD", "momentum", types.DirectionLong, 0.5, 28)
	c.Quality = types.QualityScores{DataCompleteness: 0.1, SignalClarity: 0.1, Confidence: 0.1, VolatilityFit: 0.1, LiquidityFit: 0.1}
	_, _, dropped, reason := p.Process(context.Background(), c)
	require.True(t, dropped)
	require.Equal(t, preeval.DroppedBelowFloor, reason)
}

func TestProcessDropsCandidateWithStopLossOnWrongSide(t *testing.T) {
	p := newProcessor(t)
	c := newCandidate("ADAUSD", "momentum", types.DirectionLong, 0.9, 28)
	c.StopLoss = decimal.NewFromInt(110) // above entry on a LONG: invalid
	_, _, dropped, reason := p.Process(context.Background(), c)
	require.True(t, dropped)
	require.Equal(t, preeval.DroppedInvalid, reason)

	select {
	case item := <-p.DeadLetters():
		require.Error(t, item.Err)
	case <-time.After(time.Second):
		t.Fatal("expected a dead-lettered item")
	}
}

// TestRunProcessesCandidatesConcurrently exercises the loop() path (as
// opposed to calling Process directly) with more distinct-symbol candidates
// than the pool's worker count, confirming they all reach Out() concurrently
// rather than serializing one-at-a-time behind a blocking Submit call.
func TestRunProcessesCandidatesConcurrently(t *testing.T) {
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultConfig())
	t.Cleanup(bus.Close)
	store := paramstore.New(logger, bus)

	cfg := preeval.DefaultConfig()
	cfg.Pool.NumWorkers = 4
	p := preeval.New(logger, store, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Run(ctx)
	t.Cleanup(p.Stop)

	symbols := []string{"BTCUSD", "ETHUSD", "SOLUSD", "ADAUSD", "DOGEUSD", "BNBUSD"}
	for _, sym := range symbols {
		c := newCandidate(sym, "momentum", types.DirectionLong, 0.9, 25)
		c.Quality = types.QualityScores{DataCompleteness: 0.95, SignalClarity: 0.95, Confidence: 0.95, VolatilityFit: 0.95, LiquidityFit: 0.95}
		p.In() <- c
	}

	seen := make(map[string]bool)
	deadline := time.After(2 * time.Second)
	for len(seen) < len(symbols) {
		select {
		case vetted := <-p.Out():
			seen[vetted.Symbol] = true
		case <-deadline:
			t.Fatalf("timed out waiting for candidates, got %d/%d", len(seen), len(symbols))
		}
	}
	require.Len(t, seen, len(symbols))
}

func TestRouterDegradesUnderLoad(t *testing.T) {
	r := preeval.NewRouter(preeval.RouterConfig{
		ExpressQualityThreshold: 0.8,
		MarketStressThreshold:   0.75,
		AmbiguityWindowSeconds:  60,
		QueueHighWatermark:      10,
		MinDegradedLane:         preeval.LaneExpress,
	})
	lane, evt := r.Degrade(preeval.LaneDeep, 100)
	require.Equal(t, preeval.LaneStandard, lane)
	require.NotNil(t, evt)
	require.Equal(t, preeval.LaneDeep, evt.From)
	require.Equal(t, preeval.LaneStandard, evt.To)

	lane, evt = r.Degrade(preeval.LaneExpress, 100)
	require.Equal(t, preeval.LaneExpress, lane)
	require.Nil(t, evt)
}

func TestCorrelatorDetectsReinforceAndConflict(t *testing.T) {
	c := preeval.NewCorrelator(preeval.CorrelationConfig{Threshold: 0.8, Window: 10, ReinforceCap: 0.05})
	base := 100.0
	peer := 50.0
	for i := 0; i < 20; i++ {
		delta := 1.0
		if i%2 == 0 {
			delta = -1.0
		}
		base += delta
		peer += delta * 0.5 // tracks base closely: positively correlated
		c.Observe("BTCUSD", base)
		c.Observe("ETHUSD", peer)
	}
	require.Greater(t, c.Correlation("BTCUSD", "ETHUSD"), 0.5)
}
