package execpolicy_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/internal/execpolicy"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func newCandidate(symbol string, dir types.Direction, confidence, strength float64) types.SignalCandidate {
	return types.SignalCandidate{
		ID: types.CandidateID{
			Symbol:      symbol,
			Timeframe:   types.Timeframe5m,
			CloseTime:   time.Now(),
			StrategyTag: "momentum",
		},
		Symbol:      symbol,
		Direction:   dir,
		Strength:    strength,
		Confidence:  confidence,
		EntryPrice:  decimal.NewFromInt(100),
		StopLoss:    decimal.NewFromInt(98),
		TakeProfit:  decimal.NewFromInt(106),
		ExpiresAt:   time.Now().Add(2 * time.Hour),
		StrategyTag: "momentum",
		FeatureSnapshot: map[string]float64{
			"atr": 1.0,
		},
		Quality: types.QualityScores{
			DataCompleteness: 0.9,
			SignalClarity:    0.9,
			Confidence:       confidence,
			VolatilityFit:    0.8,
			LiquidityFit:     0.8,
		},
		EmittedAt: time.Now(),
	}
}

func newPolicy(t *testing.T) *execpolicy.Policy {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultConfig())
	t.Cleanup(bus.Close)
	store := paramstore.New(logger, bus)
	return execpolicy.New(logger, store, bus, nil, execpolicy.DefaultConfig())
}

func TestDecideNewOpensPosition(t *testing.T) {
	policy := newPolicy(t)
	candidate := newCandidate("BTCUSD", types.DirectionLong, 0.8, 0.8)

	decision, err := policy.Decide(context.Background(), candidate)
	require.NoError(t, err)
	require.Equal(t, types.VerdictNew, decision.Verdict)
	require.NotEmpty(t, decision.TargetPositionID)

	snapshot := policy.Snapshot()
	require.Contains(t, snapshot, "BTCUSD")
	require.Contains(t, snapshot["BTCUSD"], types.DirectionLong)
}

func TestDecideIgnoresSecondSameDirectionWhenNotStronger(t *testing.T) {
	policy := newPolicy(t)
	ctx := context.Background()

	first := newCandidate("ETHUSD", types.DirectionLong, 0.9, 0.9)
	decision1, err := policy.Decide(ctx, first)
	require.NoError(t, err)
	require.Equal(t, types.VerdictNew, decision1.Verdict)

	second := newCandidate("ETHUSD", types.DirectionLong, 0.5, 0.5)
	second.Quality = types.QualityScores{DataCompleteness: 0.3, SignalClarity: 0.3, Confidence: 0.5, VolatilityFit: 0.3, LiquidityFit: 0.3}
	decision2, err := policy.Decide(ctx, second)
	require.NoError(t, err)
	require.Equal(t, types.VerdictIgnore, decision2.Verdict)
}

func TestDecideReplaceOnOppositeOutscore(t *testing.T) {
	policy := newPolicy(t)
	ctx := context.Background()

	long := newCandidate("SOLUSD", types.DirectionLong, 0.5, 0.5)
	long.Quality = types.QualityScores{DataCompleteness: 0.4, SignalClarity: 0.4, Confidence: 0.5, VolatilityFit: 0.4, LiquidityFit: 0.4}
	_, err := policy.Decide(ctx, long)
	require.NoError(t, err)

	short := newCandidate("SOLUSD", types.DirectionShort, 0.95, 0.95)
	short.Quality = types.QualityScores{DataCompleteness: 0.95, SignalClarity: 0.95, Confidence: 0.95, VolatilityFit: 0.95, LiquidityFit: 0.95}
	decision, err := policy.Decide(ctx, short)
	require.NoError(t, err)
	require.Equal(t, types.VerdictReplace, decision.Verdict)

	snapshot := policy.Snapshot()
	require.Equal(t, types.PositionClosing, snapshot["SOLUSD"][types.DirectionLong].Status)
	require.Equal(t, types.PositionOpen, snapshot["SOLUSD"][types.DirectionShort].Status)
}

func TestOnPositionEventRemovesClosedPosition(t *testing.T) {
	policy := newPolicy(t)
	ctx := context.Background()
	candidate := newCandidate("ADAUSD", types.DirectionLong, 0.8, 0.8)
	_, err := policy.Decide(ctx, candidate)
	require.NoError(t, err)

	policy.OnPositionEvent(execpolicy.PositionEvent{
		Symbol:     "ADAUSD",
		Direction:  types.DirectionLong,
		NewStatus:  types.PositionClosed,
		ObservedAt: time.Now(),
	})

	snapshot := policy.Snapshot()
	require.NotContains(t, snapshot["ADAUSD"], types.DirectionLong)
}
