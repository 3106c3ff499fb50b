// Package events provides a small worker-backed pub/sub bus used to wire
// cross-phase notifications that aren't part of the main P1->P2->P3->P4
// candidate flow: ParameterSet publication (P5 -> P1/P3) and position
// lifecycle events (execution collaborator -> P3). Adapted from the trading
// backend's internal/events/event_bus.go, trimmed from its generic
// many-event-type framing down to the two event kinds the pipeline actually
// publishes.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Type discriminates bus events.
type Type string

const (
	TypeParameterSetPublished Type = "parameter_set_published"
	TypePositionEvent         Type = "position_event"
)

// Event is the payload delivered to subscribers.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   any
}

// Handler processes one event. A Handler that panics is recovered by the bus;
// the panic is logged and counted but never stops other subscribers.
type Handler func(Event)

type subscription struct {
	id      uint64
	evtType Type
	handler Handler
}

// Config tunes the bus's dispatch pool.
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig returns sane defaults for a low-volume cross-phase bus.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1024}
}

// Bus is a lightweight, worker-backed publish/subscribe dispatcher.
type Bus struct {
	logger *zap.Logger
	config Config

	mu   sync.RWMutex
	subs map[Type][]*subscription
	next uint64

	queue chan Event

	delivered atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewBus creates and starts a Bus with config.Workers dispatch goroutines.
func NewBus(logger *zap.Logger, config Config) *Bus {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	b := &Bus{
		logger: logger.Named("event-bus"),
		config: config,
		subs:   make(map[Type][]*subscription),
		queue:  make(chan Event, config.QueueSize),
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	for i := 0; i < config.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	return b
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(evt)
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[evt.Type]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(s, evt)
	}
}

func (b *Bus) invoke(s *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("recovered panic in event handler", zap.Any("panic", r), zap.String("type", string(evt.Type)))
		}
	}()
	s.handler(evt)
	b.delivered.Add(1)
}

// Subscribe registers handler for events of evtType and returns an unsubscribe
// function.
func (b *Bus) Subscribe(evtType Type, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	sub := &subscription{id: id, evtType: evtType, handler: handler}
	b.subs[evtType] = append(b.subs[evtType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[evtType]
		for i, s := range list {
			if s.id == id {
				b.subs[evtType] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues evt for asynchronous delivery. If the queue is full the
// event is dropped and counted rather than blocking the publisher.
func (b *Bus) Publish(evtType Type, payload any) {
	evt := Event{Type: evtType, Timestamp: time.Now(), Payload: payload}
	select {
	case b.queue <- evt:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event bus queue full, dropping event", zap.String("type", string(evtType)))
	}
}

// PublishSync delivers evt to every current subscriber synchronously,
// bypassing the queue. Used where publish-then-observe ordering matters, such
// as tests asserting a ParameterSet swap took effect.
func (b *Bus) PublishSync(evtType Type, payload any) {
	b.dispatch(Event{Type: evtType, Timestamp: time.Now(), Payload: payload})
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Delivered int64
	Dropped   int64
	Panics    int64
}

// Stats returns the bus's delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Panics:    b.panics.Load(),
	}
}

// Close stops the dispatch workers and drains no further events.
func (b *Bus) Close() {
	b.cancel()
	close(b.queue)
	b.wg.Wait()
}
