// Package execpolicy implements P3 Execution Policy: for each
// vetted SignalCandidate, decide REPLACE/STRENGTHEN/NEW/IGNORE against the
// symbol's currently OPEN positions, emit an ExecutionDecision, and own the
// authoritative symbol -> {LONG, SHORT} position map. State is serialized
// per symbol via a bounded-wait lock rather than one global mutex, so
// contention on one symbol never blocks decisions for another, in place of
// one global mutex guarding every symbol at once.
package execpolicy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/internal/metrics"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/pkg/perrors"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// symbolState holds one symbol's open positions and replace-cooldown clock,
// guarded by its own 1-buffered channel lock so Decide can bound its wait.
type symbolState struct {
	lock      chan struct{}
	positions map[types.Direction]*types.Position

	mu            sync.Mutex // guards lastReplaceAt
	lastReplaceAt time.Time
}

func newSymbolState() *symbolState {
	return &symbolState{
		lock:      make(chan struct{}, 1),
		positions: make(map[types.Direction]*types.Position),
	}
}

func (s *symbolState) tryAcquire(ctx context.Context, timeout time.Duration) bool {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case s.lock <- struct{}{}:
		return true
	case <-tctx.Done():
		return false
	}
}

func (s *symbolState) release() { <-s.lock }

// Config tunes Policy's contention timeout.
type Config struct {
	LockTimeout time.Duration
}

// DefaultConfig returns this default 500ms per-symbol lock timeout.
func DefaultConfig() Config {
	return Config{LockTimeout: 500 * time.Millisecond}
}

// Policy is P3's execution decision engine.
type Policy struct {
	logger  *zap.Logger
	config  Config
	store   *paramstore.Store
	bus     *events.Bus
	metrics *metrics.Registry
	ledger  *RiskLedger

	mu      sync.Mutex
	symbols map[string]*symbolState
}

// New creates a Policy wired to a parameter store, an optional event bus for
// position-event subscriptions, and an optional metrics registry.
func New(logger *zap.Logger, store *paramstore.Store, bus *events.Bus, reg *metrics.Registry, config Config) *Policy {
	if config.LockTimeout <= 0 {
		config.LockTimeout = 500 * time.Millisecond
	}
	p := &Policy{
		logger:  logger.Named("execpolicy"),
		config:  config,
		store:   store,
		bus:     bus,
		metrics: reg,
		ledger:  NewRiskLedger(),
		symbols: make(map[string]*symbolState),
	}
	if bus != nil {
		bus.Subscribe(events.TypePositionEvent, func(evt events.Event) {
			if pe, ok := evt.Payload.(PositionEvent); ok {
				p.OnPositionEvent(pe)
			}
		})
	}
	return p
}

func (p *Policy) stateFor(symbol string) *symbolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.symbols[symbol]
	if !ok {
		s = newSymbolState()
		p.symbols[symbol] = s
	}
	return s
}

// Decide evaluates one vetted candidate against its symbol's open positions
// and returns the resulting ExecutionDecision. If the symbol's state is
// locked by a long-running transition past config.LockTimeout, it returns
// IGNORE with CONTENTION rationale rather than blocking indefinitely (spec
// §4.3 failure mode).
func (p *Policy) Decide(ctx context.Context, candidate types.SignalCandidate) (types.ExecutionDecision, error) {
	if err := types.ValidateCandidate(&candidate); err != nil {
		return types.ExecutionDecision{}, perrors.NewValidation("invalid_candidate", err)
	}

	state := p.stateFor(candidate.Symbol)
	if !state.tryAcquire(ctx, p.config.LockTimeout) {
		decision := ignore(candidate, types.RationaleContention)
		p.recordVerdict(decision.Verdict)
		return decision, nil
	}
	defer state.release()

	state.mu.Lock()
	lastReplace := state.lastReplaceAt
	state.mu.Unlock()

	params := p.store.Get()
	open := make(map[types.Direction]*types.Position, len(state.positions))
	for dir, pos := range state.positions {
		open[dir] = pos
	}

	inputs := decisionInputs{
		params:          params,
		candidate:       candidate,
		open:            open,
		ledger:          p.ledger,
		lastReplaceAt:   lastReplace,
		globalOpenCount: p.ledger.GlobalOpenPositions(),
		now:             time.Now(),
	}
	decision, effect := evaluate(inputs)
	p.applyEffect(state, candidate.Symbol, effect, inputs.now)
	p.recordVerdict(decision.Verdict)
	return decision, nil
}

func (p *Policy) applyEffect(state *symbolState, symbol string, effect positionEffect, now time.Time) {
	switch effect.kind {
	case effectOpenNew:
		state.positions[effect.newPosition.Direction] = effect.newPosition
		p.ledger.RecordTrade(symbol, effect.newPosition.Size, now)
	case effectCloseAndOpen:
		if closing, ok := state.positions[effect.closeDirection]; ok {
			closing.Status = types.PositionClosing
			closing.ClosingSince = now
			p.ledger.ReleaseExposure(symbol, closing.Size, now)
		}
		state.positions[effect.newPosition.Direction] = effect.newPosition
		p.ledger.RecordTrade(symbol, effect.newPosition.Size, now)
		state.mu.Lock()
		state.lastReplaceAt = now
		state.mu.Unlock()
	case effectStrengthen:
		state.positions[effect.newPosition.Direction] = effect.newPosition
	}
}

func (p *Policy) recordVerdict(verdict types.Verdict) {
	if p.metrics == nil {
		return
	}
	p.metrics.VerdictsTotal.WithLabelValues(string(verdict)).Inc()
}

// PositionEvent notifies Policy of a position lifecycle transition driven by
// the execution collaborator outside this pipeline (e.g. a fill confirming
// CLOSING -> CLOSED, or a stop/take-profit touch).
type PositionEvent struct {
	Symbol     string
	Direction  types.Direction
	NewStatus  types.PositionStatus
	ObservedAt time.Time
}

// OnPositionEvent applies an external position-lifecycle transition. CLOSED
// removes the position from tracking and releases its exposure; other
// transitions update status in place.
func (p *Policy) OnPositionEvent(evt PositionEvent) {
	state := p.stateFor(evt.Symbol)
	ctx, cancel := context.WithTimeout(context.Background(), p.config.LockTimeout)
	defer cancel()
	if !state.tryAcquire(ctx, p.config.LockTimeout) {
		p.logger.Warn("dropped position event under contention", zap.String("symbol", evt.Symbol))
		return
	}
	defer state.release()

	pos, ok := state.positions[evt.Direction]
	if !ok {
		return
	}
	switch evt.NewStatus {
	case types.PositionClosed:
		delete(state.positions, evt.Direction)
		p.ledger.ReleaseExposure(evt.Symbol, pos.Size, evt.ObservedAt)
	default:
		pos.Status = evt.NewStatus
	}
}

// Snapshot returns a read-only copy of the current per-symbol position map
// across all tracked symbols.
func (p *Policy) Snapshot() map[string]map[types.Direction]types.Position {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.symbols))
	states := make([]*symbolState, 0, len(p.symbols))
	for sym, st := range p.symbols {
		symbols = append(symbols, sym)
		states = append(states, st)
	}
	p.mu.Unlock()

	out := make(map[string]map[types.Direction]types.Position, len(symbols))
	for i, sym := range symbols {
		st := states[i]
		ctx, cancel := context.WithTimeout(context.Background(), p.config.LockTimeout)
		if !st.tryAcquire(ctx, p.config.LockTimeout) {
			cancel()
			continue
		}
		copyOf := make(map[types.Direction]types.Position, len(st.positions))
		for dir, pos := range st.positions {
			copyOf[dir] = *pos
		}
		st.release()
		cancel()
		out[sym] = copyOf
	}
	return out
}
