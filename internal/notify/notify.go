package notify

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/metrics"
)

// Config tunes the Dispatcher's retry backoff and poll cadence.
type Config struct {
	RetryBaseDelay time.Duration
	RetryCap       time.Duration
	MaxAttempts    int
	PollInterval   time.Duration
}

// DefaultConfig mirrors P1's jittered-exponential-backoff shape
// applied to sink retries, with a short cap suited to a notification rather
// than a multi-minute exchange reconnect.
func DefaultConfig() Config {
	return Config{
		RetryBaseDelay: time.Second,
		RetryCap:       30 * time.Second,
		MaxAttempts:    5,
		PollInterval:   200 * time.Millisecond,
	}
}

// Source is the information needed to enqueue one notification; built from a
// P3 ExecutionDecision or a selected high-priority VettedCandidate (spec
// §4.4).
type Source struct {
	Symbol    string
	Band      Band
	Strength  float64
	Envelope  Envelope
	EmittedAt time.Time
	ExpiresAt time.Time
}

// Dispatcher is P4's rate/cooldown-limited, retrying notification pipeline.
type Dispatcher struct {
	logger  *zap.Logger
	config  Config
	sink    Sink
	metrics *metrics.Registry
	rules   map[Band]Rule

	mu      sync.Mutex
	limiter *limiter
	queue   *priorityQueue

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Dispatcher that delivers to sink.
func New(logger *zap.Logger, sink Sink, reg *metrics.Registry, config Config) *Dispatcher {
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = time.Second
	}
	if config.RetryCap <= 0 {
		config.RetryCap = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 200 * time.Millisecond
	}
	return &Dispatcher{
		logger:  logger.Named("notify"),
		config:  config,
		sink:    sink,
		metrics: reg,
		rules:   Rules(),
		limiter: newLimiter(),
		queue:   newPriorityQueue(),
	}
}

// Enqueue admits one notification source into the dispatch pipeline,
// applying LOW-band suppression and daily dedup before it ever reaches the
// priority queue.
func (d *Dispatcher) Enqueue(src Source) {
	rule := d.rules[src.Band]
	if rule.Suppressed {
		if d.metrics != nil {
			d.metrics.NotificationsTotal.WithLabelValues(string(src.Band), "suppressed").Inc()
		}
		return
	}

	item := &Item{
		ID:        uuid.NewString(),
		Symbol:    src.Symbol,
		Band:      src.Band,
		Strength:  src.Strength,
		Envelope:  src.Envelope,
		EmittedAt: src.EmittedAt,
		ReadyAt:   src.EmittedAt.Add(rule.Delay),
		ExpiresAt: src.ExpiresAt,
		State:     StateQueued,
	}

	accepted, evict := d.limiter.dedup(item)
	if accepted == nil {
		if d.metrics != nil {
			d.metrics.NotificationsTotal.WithLabelValues(string(src.Band), "deduped").Inc()
		}
		return
	}

	d.mu.Lock()
	if evict != nil {
		d.queue.remove(evict)
	}
	d.queue.push(accepted)
	d.mu.Unlock()
}

// Run starts the dispatch loop, polling the priority queue for eligible
// items until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()
}

// Stop cancels the dispatch loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// tick expires stale items and dispatches at most one eligible item per
// call, so a slow sink never starves lower-priority bands indefinitely
// beyond one poll interval.
func (d *Dispatcher) tick(ctx context.Context) {
	now := time.Now()
	item := d.nextEligible(now)
	if item == nil {
		return
	}
	d.dispatch(ctx, item, now)
}

// nextEligible scans the queue in priority order and returns the first item
// whose cooldown has elapsed, whose band budget isn't exhausted, and whose
// delay has elapsed, expiring anything found along the way whose deadline
// already passed.
func (d *Dispatcher) nextEligible(now time.Time) *Item {
	d.mu.Lock()
	defer d.mu.Unlock()

	var deferred []*Item
	defer func() {
		for _, it := range deferred {
			d.queue.push(it)
		}
	}()

	for d.queue.len() > 0 {
		it := d.queue.peek()
		if it.expired(now) {
			d.queue.pop()
			it.State = StateExpired
			if d.metrics != nil {
				d.metrics.NotificationsTotal.WithLabelValues(string(it.Band), "expired").Inc()
			}
			continue
		}
		if !it.ready(now) || !it.NextTry.IsZero() && now.Before(it.NextTry) {
			deferred = append(deferred, d.queue.pop())
			continue
		}
		rule := d.rules[it.Band]
		if !d.limiter.cooldownReady(it.Symbol, it.Band, now) || !d.limiter.budgetAvailable(it.Band, rule, now) {
			deferred = append(deferred, d.queue.pop())
			continue
		}
		d.queue.pop()
		it.State = StateReady
		return it
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, item *Item, now time.Time) {
	item.State = StateSending
	item.Attempts++

	outcome, err := d.sink.Dispatch(ctx, item.Envelope)
	switch outcome {
	case Ok:
		item.State = StateSent
		d.limiter.recordSent(item.Symbol, item.Band, d.rules[item.Band], now)
		if d.metrics != nil {
			d.metrics.NotificationsTotal.WithLabelValues(string(item.Band), "sent").Inc()
		}
	case TransientError:
		if item.Attempts >= d.config.MaxAttempts {
			item.State = StateFailed
			if d.metrics != nil {
				d.metrics.NotificationsTotal.WithLabelValues(string(item.Band), "failed").Inc()
			}
			return
		}
		item.NextTry = now.Add(d.backoff(item.Attempts))
		item.State = StateQueued
		d.mu.Lock()
		d.queue.push(item)
		d.mu.Unlock()
	default: // PermanentError
		item.State = StateFailed
		if d.metrics != nil {
			d.metrics.NotificationsTotal.WithLabelValues(string(item.Band), "failed").Inc()
		}
	}
	_ = err // classification drives state; diagnostic detail stays in logs
}

// backoff returns a jittered exponential delay capped at config.RetryCap,
// mirroring P1's reconnect backoff shape applied to sink retries.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.config.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > d.config.RetryCap {
			delay = d.config.RetryCap
			break
		}
	}
	return delay/2 + time.Duration(rand.Int63n(int64(delay/2+1)))
}

// QueueDepth returns the number of items currently awaiting dispatch.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.len()
}
