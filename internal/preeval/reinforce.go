package preeval

import (
	"sync"
	"time"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// ReinforcerConfig tunes P2's delayed-observation reinforcement.
type ReinforcerConfig struct {
	Window            time.Duration
	ConfirmMoveFrac   float64 // fractional price move in the predicted direction required to confirm
}

// DefaultReinforcerConfig returns this default 5-minute tracking window.
func DefaultReinforcerConfig() ReinforcerConfig {
	return ReinforcerConfig{Window: 5 * time.Minute, ConfirmMoveFrac: 0.001}
}

type pendingCandidate struct {
	candidate  types.SignalCandidate
	entryPrice float64
	deadline   time.Time
}

// Reinforcer tracks candidates that were demoted to LOW or dropped at the
// quality gate's edge, and re-promotes them to the Standard lane tagged
// REINFORCED if a subsequent price observation on the same symbol confirms
// the predicted direction within the tracking window.
type Reinforcer struct {
	config ReinforcerConfig

	mu      sync.Mutex
	pending map[string][]pendingCandidate // keyed by symbol
}

// NewReinforcer creates a Reinforcer with the given config.
func NewReinforcer(config ReinforcerConfig) *Reinforcer {
	if config.Window <= 0 {
		config.Window = 5 * time.Minute
	}
	if config.ConfirmMoveFrac <= 0 {
		config.ConfirmMoveFrac = 0.001
	}
	return &Reinforcer{config: config, pending: make(map[string][]pendingCandidate)}
}

// Track registers a demoted/edge candidate for delayed-observation review.
func (r *Reinforcer) Track(candidate types.SignalCandidate, entryPrice float64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[candidate.Symbol] = append(r.pending[candidate.Symbol], pendingCandidate{
		candidate:  candidate,
		entryPrice: entryPrice,
		deadline:   now.Add(r.config.Window),
	})
}

// Observe feeds a new price for symbol and returns any tracked candidates
// whose predicted direction is now confirmed; those are removed from
// tracking and should be re-emitted to the Standard lane with Reinforced set.
// Expired, unconfirmed entries are dropped silently.
func (r *Reinforcer) Observe(symbol string, price float64, now time.Time) []types.SignalCandidate {
	if price == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.pending[symbol]
	if len(list) == 0 {
		return nil
	}
	var confirmed []types.SignalCandidate
	var remaining []pendingCandidate
	for _, p := range list {
		if now.After(p.deadline) {
			continue // expired, drop
		}
		move := (price - p.entryPrice) / p.entryPrice
		predictedUp := p.candidate.Direction == types.DirectionLong
		if (predictedUp && move >= r.config.ConfirmMoveFrac) || (!predictedUp && move <= -r.config.ConfirmMoveFrac) {
			c := p.candidate
			c.Reinforced = true
			c.Priority = types.PriorityMedium
			confirmed = append(confirmed, c)
			continue
		}
		remaining = append(remaining, p)
	}
	if len(remaining) == 0 {
		delete(r.pending, symbol)
	} else {
		r.pending[symbol] = remaining
	}
	return confirmed
}
