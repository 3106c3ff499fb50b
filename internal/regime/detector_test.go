package regime_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/signal-pipeline/internal/regime"
)

func TestUnknownBeforeWindowFilled(t *testing.T) {
	d := regime.NewDetector(regime.DefaultConfig())
	require.Equal(t, regime.LabelUnknown, d.Observe("BTCUSD", 0.001))
}

func TestTrendingBullOnSustainedPositiveReturns(t *testing.T) {
	d := regime.NewDetector(regime.DefaultConfig())
	var label regime.Label
	for i := 0; i < 60; i++ {
		label = d.Observe("BTCUSD", 0.003)
	}
	require.Equal(t, regime.LabelTrendingBull, label)
}

func TestHighVolatilityOnNoisyReturns(t *testing.T) {
	d := regime.NewDetector(regime.DefaultConfig())
	var label regime.Label
	for i := 0; i < 30; i++ {
		ret := 0.03
		if i%2 == 0 {
			ret = -0.03
		}
		label = d.Observe("ETHUSD", ret)
	}
	require.Equal(t, regime.LabelHighVol, label)
}
