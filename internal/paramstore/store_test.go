package paramstore_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func TestGetReturnsDefaultsInitially(t *testing.T) {
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultConfig())
	defer bus.Close()
	store := paramstore.New(logger, bus)

	current := store.Get()
	require.EqualValues(t, 0, current.Version)
	require.Equal(t, 0.3, current.Float("min_strength_threshold", -1))
}

func TestPutBumpsVersionAndNotifiesSubscribers(t *testing.T) {
	logger := zap.NewNop()
	bus := events.NewBus(logger, events.DefaultConfig())
	defer bus.Close()
	store := paramstore.New(logger, bus)

	received := make(chan types.ParameterSet, 1)
	store.Subscribe(func(ps types.ParameterSet) {
		received <- ps
	})

	next := store.Get()
	next.Parameters["min_strength_threshold"] = 0.4
	version, err := store.Put(next)
	require.NoError(t, err)
	require.EqualValues(t, 1, version)

	select {
	case ps := <-received:
		require.Equal(t, 0.4, ps.Float("min_strength_threshold", -1))
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}

	require.Equal(t, 0.4, store.Get().Float("min_strength_threshold", -1))
}

func TestPutRejectsInvalidParameterSet(t *testing.T) {
	logger := zap.NewNop()
	store := paramstore.New(logger, nil)

	bad := store.Get()
	bad.Parameters["min_strength_threshold"] = math.NaN()
	_, err := store.Put(bad)
	require.Error(t, err)
}
