package signalgen_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/internal/signalgen"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func newGenerator(t *testing.T) *signalgen.Generator {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultConfig())
	store := paramstore.New(logger, bus)
	config := signalgen.DefaultConfig()
	config.Timeframes = []types.Timeframe{types.Timeframe1m}
	config.StateMachine.WarmupBars = 5
	return signalgen.New(logger, store, nil, nil, config)
}

func tickAt(price float64, at time.Time) types.MarketTick {
	return types.MarketTick{
		Symbol:    "BTCUSD",
		Last:      decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(1),
		EventTime: at,
		Sequence:  uint64(at.UnixNano()),
	}
}

func TestIngestClosesBarsAndPromotesToActive(t *testing.T) {
	g := newGenerator(t)
	base := time.Now().Truncate(time.Minute)

	for i := 0; i < 8; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		g.Ingest(tickAt(100+float64(i), at))
		g.Ingest(tickAt(100+float64(i)+0.5, at.Add(10*time.Second)))
	}

	require.Equal(t, signalgen.StateActive, g.StateOf("BTCUSD", types.Timeframe1m))
}

func TestCandidatesChannelDoesNotBlockIngest(t *testing.T) {
	g := newGenerator(t)
	base := time.Now().Truncate(time.Minute)

	for i := 0; i < 30; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		g.Ingest(tickAt(100+float64(i%3), at))
	}

	select {
	case <-g.Candidates():
	default:
	}
}
