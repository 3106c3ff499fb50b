// Package strategy provides P1's pluggable signal-emission strategies: each
// registered strategy receives a published IndicatorFrame and a short bar
// history, and returns zero or one SignalCandidate. The strategy interface
// is reworked onto IndicatorFrame-driven SignalCandidate emission rather
// than raw OHLCV/TickData, and trimmed to the four built-ins that map
// cleanly onto indicator-frame inputs — position-sizing strategies like
// grid and DCA have no analogue in a signal-only pipeline.
package strategy

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// Strategy turns a published IndicatorFrame (plus recent history) into at
// most one SignalCandidate. A strategy that panics or returns an error
// suppresses its candidate for that bar without being disabled.
type Strategy interface {
	Name() string
	Evaluate(frame types.IndicatorFrame, history []types.IndicatorFrame) (*types.SignalCandidate, error)
}

// Registry holds the set of strategies P1 evaluates against every published
// IndicatorFrame.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry pre-populated with the built-in strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(NewMomentum())
	r.Register(NewMeanReversion())
	r.Register(NewBreakout())
	r.Register(NewRSIDivergence())
	return r
}

// Register adds or replaces a strategy by name.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name()] = s
}

// All returns every registered strategy, order unspecified.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}
