package preeval

import (
	"sync"

	"github.com/atlas-desktop/signal-pipeline/pkg/statutil"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// CorrelationConfig tunes P2 Step 2 cross-symbol correlation.
type CorrelationConfig struct {
	Threshold        float64 // |correlation| above which symbols are "highly correlated"
	Window           int     // rolling bar count used to compute correlation
	ReinforceCap     float64 // max confidence bump for same-direction reinforcement
}

// DefaultCorrelationConfig returns this default 0.8 correlation
// threshold over a rolling N-bar window.
func DefaultCorrelationConfig() CorrelationConfig {
	return CorrelationConfig{Threshold: 0.8, Window: 50, ReinforceCap: 0.05}
}

// Correlator tracks a rolling return series per symbol (from successive
// candidate entry prices, the only per-bar price signal available to P2) and
// reports pairwise correlation, used to detect conflicting or reinforcing
// candidates on correlated symbols.
type Correlator struct {
	config CorrelationConfig

	mu      sync.Mutex
	returns map[string][]float64
	lastPx  map[string]float64
}

// NewCorrelator creates a Correlator with the given config.
func NewCorrelator(config CorrelationConfig) *Correlator {
	if config.Threshold <= 0 {
		config.Threshold = 0.8
	}
	if config.Window <= 0 {
		config.Window = 50
	}
	return &Correlator{
		config:  config,
		returns: make(map[string][]float64),
		lastPx:  make(map[string]float64),
	}
}

// Observe folds a new entry price for symbol into its rolling return series.
func (c *Correlator) Observe(symbol string, price float64) {
	if price == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastPx[symbol]
	c.lastPx[symbol] = price
	if !ok || last == 0 {
		return
	}
	r := (price - last) / last
	series := append(c.returns[symbol], r)
	if len(series) > c.config.Window {
		series = series[len(series)-c.config.Window:]
	}
	c.returns[symbol] = series
}

// Correlation returns the Pearson correlation of a's and b's recent return
// series, truncated to their common length. Returns 0 if either series is
// too short.
func (c *Correlator) Correlation(a, b string) float64 {
	c.mu.Lock()
	sa := append([]float64(nil), c.returns[a]...)
	sb := append([]float64(nil), c.returns[b]...)
	c.mu.Unlock()

	n := len(sa)
	if len(sb) < n {
		n = len(sb)
	}
	if n < 2 {
		return 0
	}
	return statutil.PearsonCorrelation(sa[len(sa)-n:], sb[len(sb)-n:])
}

// Outcome is the result of checking a candidate against one correlated peer.
type Outcome int

const (
	// OutcomeNone means the pair wasn't highly correlated or shares a symbol.
	OutcomeNone Outcome = iota
	// OutcomeConflict means opposite directions on highly correlated symbols;
	// both are held for review, the weaker-quality one demoted to LOW.
	OutcomeConflict
	// OutcomeReinforce means same direction on highly correlated symbols;
	// the candidate's confidence is bumped by a capped factor.
	OutcomeReinforce
)

// Evaluate checks candidate against peer (a recent candidate on a different
// symbol) and returns the correlation-driven outcome.
func (c *Correlator) Evaluate(candidate, peer types.SignalCandidate) (Outcome, float64) {
	if candidate.Symbol == peer.Symbol {
		return OutcomeNone, 0
	}
	corr := c.Correlation(candidate.Symbol, peer.Symbol)
	if corr < c.config.Threshold && corr > -c.config.Threshold {
		return OutcomeNone, corr
	}
	// A negative correlation means the pair normally moves opposite, so a
	// same-direction pair on it is the "opposing" case and vice versa.
	sameDirection := candidate.Direction == peer.Direction
	pairMovesTogether := corr > 0
	if sameDirection == pairMovesTogether {
		return OutcomeReinforce, corr
	}
	return OutcomeConflict, corr
}

// ReinforceCap returns the configured max confidence bump.
func (c *Correlator) ReinforceCap() float64 { return c.config.ReinforceCap }
