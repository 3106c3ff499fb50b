// Package regime provides a lightweight market regime classifier. "Market
// regime" is a discrete label used to partition P5's learning and parameter
// overlays; this pipeline deliberately stops short of prescribing a single
// detection method. The classifier narrows down to rolling return trend and
// volatility as its inputs, without a full hidden-Markov transition-matrix
// model, which belongs to backtesting/portfolio scope rather than anything
// this pipeline needs to do live.
package regime

import (
	"sync"
	"time"

	"github.com/atlas-desktop/signal-pipeline/pkg/statutil"
)

// Label is a discrete market regime, used to partition P5 learning and as an
// overlay scope key in ParameterSet (e.g. "regime:trending_bull").
type Label string

const (
	LabelTrendingBull Label = "trending_bull"
	LabelTrendingBear Label = "trending_bear"
	LabelRangeBound   Label = "range_bound"
	LabelHighVol      Label = "high_volatility"
	LabelUnknown      Label = "unknown"
)

// Config tunes the classifier's rolling windows and thresholds.
type Config struct {
	TrendWindow      int
	VolatilityWindow int
	TrendThreshold   float64 // |mean return| above this counts as trending
	VolThreshold     float64 // stddev of returns above this counts as high-vol
}

// DefaultConfig returns the classifier's default thresholds.
func DefaultConfig() Config {
	return Config{
		TrendWindow:      50,
		VolatilityWindow: 20,
		TrendThreshold:   0.0015,
		VolThreshold:     0.01,
	}
}

// Detector classifies the current regime for one symbol from a rolling
// window of bar-over-bar returns.
type Detector struct {
	mu      sync.RWMutex
	config  Config
	returns map[string][]float64 // symbol -> recent returns, oldest first
}

// NewDetector creates a regime detector with the given config.
func NewDetector(config Config) *Detector {
	return &Detector{
		config:  config,
		returns: make(map[string][]float64),
	}
}

// Observe folds a new bar-close return into the symbol's window and returns
// the resulting classification.
func (d *Detector) Observe(symbol string, ret float64) Label {
	d.mu.Lock()
	defer d.mu.Unlock()

	window := d.returns[symbol]
	window = append(window, ret)
	max := d.config.TrendWindow
	if max < d.config.VolatilityWindow {
		max = d.config.VolatilityWindow
	}
	if len(window) > max {
		window = window[len(window)-max:]
	}
	d.returns[symbol] = window

	return d.classify(window)
}

// Current returns the classification for a symbol without adding an
// observation.
func (d *Detector) Current(symbol string) Label {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.classify(d.returns[symbol])
}

func (d *Detector) classify(window []float64) Label {
	if len(window) < d.config.VolatilityWindow {
		return LabelUnknown
	}

	volWindow := window
	if len(volWindow) > d.config.VolatilityWindow {
		volWindow = volWindow[len(volWindow)-d.config.VolatilityWindow:]
	}
	vol := statutil.StdDev(volWindow)
	if vol > d.config.VolThreshold {
		return LabelHighVol
	}

	trendWindow := window
	if len(trendWindow) > d.config.TrendWindow {
		trendWindow = trendWindow[len(trendWindow)-d.config.TrendWindow:]
	}
	mean := statutil.Mean(trendWindow)
	switch {
	case mean > d.config.TrendThreshold:
		return LabelTrendingBull
	case mean < -d.config.TrendThreshold:
		return LabelTrendingBear
	default:
		return LabelRangeBound
	}
}

// Snapshot is a point-in-time regime reading, attached to OutcomeRecords
// and strategy feature snapshots.
type Snapshot struct {
	Symbol string
	Label  Label
	AsOf   time.Time
}
