package strategy_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/signal-pipeline/internal/signalgen/strategy"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func frame(close float64, values map[string]float64) types.IndicatorFrame {
	return types.IndicatorFrame{
		Key: types.IndicatorKey{
			Symbol:    "BTCUSD",
			Timeframe: types.Timeframe5m,
			CloseTime: time.Now(),
		},
		Bar: types.OHLCV{
			Close: decimal.NewFromFloat(close),
			High:  decimal.NewFromFloat(close),
			Low:   decimal.NewFromFloat(close),
		},
		Values:           values,
		DataCompleteness: 1,
		PublishedAt:      time.Now(),
	}
}

func TestMomentumEmitsLongOnPositiveMACDAbovesMA(t *testing.T) {
	m := strategy.NewMomentum()
	f := frame(105, map[string]float64{"macd": 2, "sma_20": 100})
	candidate, err := m.Evaluate(f, nil)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	require.Equal(t, types.DirectionLong, candidate.Direction)
	require.Equal(t, "momentum", candidate.StrategyTag)
}

func TestMomentumAbstainsWithoutIndicators(t *testing.T) {
	m := strategy.NewMomentum()
	f := frame(105, map[string]float64{})
	candidate, err := m.Evaluate(f, nil)
	require.NoError(t, err)
	require.Nil(t, candidate)
}

func TestMeanReversionEmitsShortOnOverextension(t *testing.T) {
	m := strategy.NewMeanReversion()
	f := frame(110, map[string]float64{"sma_20": 100})
	candidate, err := m.Evaluate(f, nil)
	require.NoError(t, err)
	require.NotNil(t, candidate)
	require.Equal(t, types.DirectionShort, candidate.Direction)
}

func TestRegistryIncludesBuiltins(t *testing.T) {
	reg := strategy.NewRegistry(nil)
	names := make(map[string]bool)
	for _, s := range reg.All() {
		names[s.Name()] = true
	}
	require.True(t, names["momentum"])
	require.True(t, names["mean_reversion"])
	require.True(t, names["breakout"])
	require.True(t, names["rsi_divergence"])
}
