// Package signalgen implements P1 Signal Generation: bar aggregation, a
// layered indicator DAG, a per-(symbol,timeframe) state machine, and the
// strategy plug-ins that turn indicator frames into SignalCandidates,
// reworked from a backtesting-bar framing into live OHLCV aggregation with
// an out-of-order grace window.
package signalgen

import (
	"sync"
	"time"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// BarAggregatorConfig tunes the grace interval absorbing out-of-order ticks.
type BarAggregatorConfig struct {
	GraceInterval time.Duration
}

// DefaultBarAggregatorConfig returns a 2-second grace window.
func DefaultBarAggregatorConfig() BarAggregatorConfig {
	return BarAggregatorConfig{GraceInterval: 2 * time.Second}
}

type openBar struct {
	bar      types.OHLCV
	lastSeen time.Time
}

// BarAggregator folds ticks into OHLCV bars per (symbol, timeframe). A bar
// closes when wall-clock passes its boundary, or when a later tick's
// timestamp crosses the boundary, whichever is later by at most the grace
// interval.
type BarAggregator struct {
	config BarAggregatorConfig

	mu      sync.Mutex
	open    map[string]map[types.Timeframe]*openBar
	dropped int64
}

// NewBarAggregator creates a bar aggregator with the given config.
func NewBarAggregator(config BarAggregatorConfig) *BarAggregator {
	if config.GraceInterval <= 0 {
		config.GraceInterval = 2 * time.Second
	}
	return &BarAggregator{
		config: config,
		open:   make(map[string]map[types.Timeframe]*openBar),
	}
}

func boundaryStart(tf types.Timeframe, t time.Time) time.Time {
	d := tf.Duration()
	return t.Truncate(d)
}

// Ingest folds tick into its (symbol, timeframe) bar and reports a closed
// bar if one rolled over as a result. A tick older than the currently open
// bar's boundary by more than the grace interval is dropped and counted
// rather than reopening a closed bar.
func (b *BarAggregator) Ingest(symbol string, tf types.Timeframe, tick types.MarketTick, now time.Time) (closed *types.OHLCV) {
	b.mu.Lock()
	defer b.mu.Unlock()

	perSymbol, ok := b.open[symbol]
	if !ok {
		perSymbol = make(map[types.Timeframe]*openBar)
		b.open[symbol] = perSymbol
	}
	ob, ok := perSymbol[tf]
	boundary := boundaryStart(tf, tick.EventTime)

	if !ok {
		perSymbol[tf] = &openBar{
			bar: types.OHLCV{
				OpenTime:  boundary,
				CloseTime: boundary.Add(tf.Duration()),
				Open:      tick.Last,
				High:      tick.Last,
				Low:       tick.Last,
				Close:     tick.Last,
				Volume:    tick.Volume,
			},
			lastSeen: tick.EventTime,
		}
		return nil
	}

	if boundary.Before(ob.bar.OpenTime) {
		if ob.bar.OpenTime.Sub(boundary) > b.config.GraceInterval {
			b.dropped++
			return nil
		}
	}

	crossedBoundary := tick.EventTime.After(ob.bar.CloseTime) || now.After(ob.bar.CloseTime.Add(b.config.GraceInterval))
	if crossedBoundary {
		finished := ob.bar
		perSymbol[tf] = &openBar{
			bar: types.OHLCV{
				OpenTime:  boundary,
				CloseTime: boundary.Add(tf.Duration()),
				Open:      tick.Last,
				High:      tick.Last,
				Low:       tick.Last,
				Close:     tick.Last,
				Volume:    tick.Volume,
			},
			lastSeen: tick.EventTime,
		}
		return &finished
	}

	if tick.Last.GreaterThan(ob.bar.High) {
		ob.bar.High = tick.Last
	}
	if tick.Last.LessThan(ob.bar.Low) || ob.bar.Low.IsZero() {
		ob.bar.Low = tick.Last
	}
	ob.bar.Close = tick.Last
	ob.bar.Volume = ob.bar.Volume.Add(tick.Volume)
	ob.lastSeen = tick.EventTime
	return nil
}

// Dropped returns the count of out-of-order ticks discarded past the grace
// window.
func (b *BarAggregator) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
