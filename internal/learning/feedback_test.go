package learning_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/internal/learning"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func newEngine(t *testing.T) (*learning.Engine, *paramstore.Store) {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultConfig())
	t.Cleanup(bus.Close)
	store := paramstore.New(logger, bus)
	cfg := learning.DefaultConfig()
	cfg.DataDir = t.TempDir()
	return learning.NewEngine(logger, store, cfg), store
}

func outcome(symbol string, win bool, closedAt time.Time) types.OutcomeRecord {
	pnl := 2.0
	if !win {
		pnl = -1.5
	}
	return types.OutcomeRecord{
		ID:             symbol + closedAt.String(),
		Symbol:         symbol,
		StrategyTag:    "momentum",
		RegimeLabel:    "trending_bull",
		Closure:        types.ClosureTakeProfit,
		RealizedPnLPct: pnl,
		ClosedAt:       closedAt,
	}
}

func TestRecordIsIdempotentByOutcomeID(t *testing.T) {
	engine, _ := newEngine(t)
	now := time.Now()
	cat := "BTCUSD|trending_bull|momentum"

	for i := 0; i < 50; i++ {
		engine.Record(outcome("BTCUSD", i%2 == 0, now.Add(time.Duration(i)*time.Minute)))
	}
	require.Equal(t, learning.StagePatternDiscovery, engine.StageOf(cat))
	require.Equal(t, 50, engine.Stats(cat).Count)

	// Resubmitting an already-seen outcome id must not advance the category
	// count, cross a stage threshold early, or change the computed win rate.
	before := engine.Stats(cat)
	dup := outcome("BTCUSD", true, now)
	for i := 0; i < 5; i++ {
		engine.Record(dup)
	}
	after := engine.Stats(cat)
	require.Equal(t, learning.StagePatternDiscovery, engine.StageOf(cat))
	require.Equal(t, before.Count, after.Count)
	require.Equal(t, before.WinRate, after.WinRate)
}

func TestStageStaysCollectingBelowThreshold(t *testing.T) {
	engine, _ := newEngine(t)
	now := time.Now()
	for i := 0; i < 10; i++ {
		engine.Record(outcome("BTCUSD", true, now.Add(time.Duration(i)*time.Minute)))
	}
	require.Equal(t, learning.StageCollecting, engine.StageOf("BTCUSD|trending_bull|momentum"))
}

func TestPatternDiscoveryComputesWinRate(t *testing.T) {
	engine, _ := newEngine(t)
	now := time.Now()
	for i := 0; i < 50; i++ {
		win := i%2 == 0
		engine.Record(outcome("ETHUSD", win, now.Add(time.Duration(i)*time.Minute)))
	}

	cat := "ETHUSD|trending_bull|momentum"
	require.Equal(t, learning.StagePatternDiscovery, engine.StageOf(cat))
	stats := engine.Stats(cat)
	require.Equal(t, 50, stats.Count)
	require.InDelta(t, 0.5, stats.WinRate, 0.2)
}

func TestParameterOptimizationPublishesOverlay(t *testing.T) {
	engine, store := newEngine(t)
	now := time.Now()
	baseline := store.Get().Version
	for i := 0; i < 200; i++ {
		// Mostly losses, so the optimizer should tighten thresholds.
		win := i%10 == 0
		engine.Record(outcome("SOLUSD", win, now.Add(time.Duration(i)*time.Minute)))
	}

	updated := store.Get()
	require.Greater(t, updated.Version, baseline)
	overlay := updated.Overlay("category:SOLUSD|trending_bull|momentum")
	require.NotNil(t, overlay)
	require.Contains(t, overlay.Parameters, "min_confidence_threshold")
}
