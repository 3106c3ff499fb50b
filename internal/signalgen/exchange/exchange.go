// Package exchange manages P1's market-data connection supervisors: one
// supervisor per exchange, each owning a streaming connection guarded by a
// circuit breaker, exponential-backoff reconnection with jitter,
// sequence-based dedup, and participation in a per-symbol failover that
// prefers whichever exchange has the freshest valid tick. Generalizes a
// single-exchange reconnect loop across an arbitrary Connector set, and
// swaps an ad hoc retry counter for sony/gobreaker's circuit breaker.
package exchange

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// Connector is one exchange's streaming market-data source. Implementations
// wrap the exchange-specific wire protocol (websocket, SSE, etc.) behind
// this uniform interface.
type Connector interface {
	Name() string
	// Stream connects and pushes ticks to out until ctx is cancelled or the
	// connection drops, at which point it returns an error describing why.
	Stream(ctx context.Context, out chan<- types.MarketTick) error
}

// SupervisorConfig tunes reconnection backoff and staleness detection.
type SupervisorConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SilenceTimeout time.Duration
	DedupWindow    int // number of recent sequences remembered per symbol

	// RESTFallback, if non-nil, is polled whenever the stream has been silent
	// past SilenceTimeout, so P1 keeps receiving (lower-frequency) ticks
	// during a prolonged websocket outage instead of going dark entirely.
	RESTFallback *RESTFallbackConfig
}

// DefaultSupervisorConfig matches "initial 1s, cap 60s" backoff.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		SilenceTimeout: 30 * time.Second,
		DedupWindow:    256,
	}
}

// Supervisor owns one Connector's lifecycle: connect, dedup, reconnect with
// jittered exponential backoff, and circuit-breaking repeated failures so a
// persistently broken exchange stops being retried in a tight loop.
type Supervisor struct {
	logger    *zap.Logger
	connector Connector
	config    SupervisorConfig
	breaker   *gobreaker.CircuitBreaker[struct{}]

	mu         sync.Mutex
	recentSeqs map[string][]uint64
	lastTickAt time.Time

	fallback *RESTPoller
}

// NewSupervisor wraps connector in reconnect/dedup/circuit-breaking logic.
func NewSupervisor(logger *zap.Logger, connector Connector, config SupervisorConfig) *Supervisor {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 60 * time.Second
	}
	if config.DedupWindow <= 0 {
		config.DedupWindow = 256
	}
	s := &Supervisor{
		logger:     logger.Named("exchange." + connector.Name()),
		connector:  connector,
		config:     config,
		recentSeqs: make(map[string][]uint64),
	}
	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        connector.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	if config.RESTFallback != nil {
		s.fallback = NewRESTPoller(logger, *config.RESTFallback)
	}
	return s
}

// Run streams ticks onto out until ctx is cancelled, reconnecting with
// jittered exponential backoff on every disconnect and deduplicating against
// a sliding window of recently seen (symbol, sequence) pairs.
func (s *Supervisor) Run(ctx context.Context, out chan<- types.MarketTick) {
	if s.fallback != nil {
		go s.runFallback(ctx, out)
	}

	backoff := s.config.InitialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		_, err := s.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, s.connector.Stream(ctx, s.dedupFilter(ctx, out))
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("exchange stream ended", zap.Error(err), zap.Duration("backoff", backoff))
		}

		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2+1)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(jittered):
		}
		backoff *= 2
		if backoff > s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
		}
	}
}

// runFallback polls the REST endpoint independently of the streaming
// connection's own lifecycle, forwarding ticks onto out only while the
// stream itself has gone silent past SilenceTimeout, so the two sources
// never double-feed while the stream is healthy.
func (s *Supervisor) runFallback(ctx context.Context, out chan<- types.MarketTick) {
	fallbackTicks := make(chan types.MarketTick)
	go s.fallback.Run(ctx, fallbackTicks)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-fallbackTicks:
			if !ok {
				return
			}
			if s.Healthy(time.Now()) {
				continue // streaming connection is current, discard the redundant poll
			}
			if s.observe(tick) {
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// dedupFilter returns a channel that forwards to out only ticks whose
// (symbol, sequence) pair has not been seen within the dedup window.
func (s *Supervisor) dedupFilter(ctx context.Context, out chan<- types.MarketTick) chan<- types.MarketTick {
	filtered := make(chan types.MarketTick)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-filtered:
				if !ok {
					return
				}
				if s.observe(tick) {
					select {
					case out <- tick:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return filtered
}

// observe records tick's sequence and reports whether it is new.
func (s *Supervisor) observe(tick types.MarketTick) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTickAt = tick.EventTime

	seqs := s.recentSeqs[tick.Symbol]
	for _, seen := range seqs {
		if seen == tick.Sequence {
			return false
		}
	}
	seqs = append(seqs, tick.Sequence)
	if len(seqs) > s.config.DedupWindow {
		seqs = seqs[len(seqs)-s.config.DedupWindow:]
	}
	s.recentSeqs[tick.Symbol] = seqs
	return true
}

// Healthy reports whether this exchange has produced a tick within the
// configured silence timeout.
func (s *Supervisor) Healthy(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTickAt.IsZero() {
		return false
	}
	return now.Sub(s.lastTickAt) <= s.config.SilenceTimeout
}

// LastTickAt returns the timestamp of the most recently observed tick.
func (s *Supervisor) LastTickAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTickAt
}

// Name returns the underlying connector's name.
func (s *Supervisor) Name() string { return s.connector.Name() }

// Failover chooses the healthiest of a set of per-symbol supervisors: the
// one with the most recent valid tick.
func Failover(supervisors []*Supervisor, now time.Time) *Supervisor {
	var best *Supervisor
	var bestAt time.Time
	for _, sup := range supervisors {
		if !sup.Healthy(now) {
			continue
		}
		if sup.LastTickAt().After(bestAt) {
			best = sup
			bestAt = sup.LastTickAt()
		}
	}
	return best
}
