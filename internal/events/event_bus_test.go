package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
)

func TestPublishSyncDeliversToSubscriber(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Close()

	var got string
	bus.Subscribe(events.TypePositionEvent, func(evt events.Event) {
		got = evt.Payload.(string)
	})
	bus.PublishSync(events.TypePositionEvent, "closed")
	require.Equal(t, "closed", got)
}

func TestPublishAsyncDeliversEventually(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Close()

	received := make(chan struct{})
	bus.Subscribe(events.TypeParameterSetPublished, func(evt events.Event) {
		close(received)
	})
	bus.Publish(events.TypeParameterSetPublished, 1)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("event was never delivered")
	}
	require.EqualValues(t, 1, bus.Stats().Delivered)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Close()

	calls := 0
	unsubscribe := bus.Subscribe(events.TypePositionEvent, func(evt events.Event) {
		calls++
	})
	unsubscribe()
	bus.PublishSync(events.TypePositionEvent, nil)
	require.Equal(t, 0, calls)
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	bus := events.NewBus(zap.NewNop(), events.DefaultConfig())
	defer bus.Close()

	bus.Subscribe(events.TypePositionEvent, func(evt events.Event) {
		panic("handler exploded")
	})
	bus.PublishSync(events.TypePositionEvent, nil)
	require.EqualValues(t, 1, bus.Stats().Panics)
}
