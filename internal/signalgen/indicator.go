package signalgen

import (
	"math"
	"sync"

	"github.com/atlas-desktop/signal-pipeline/pkg/statutil"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// IndicatorNode is one node in the indicator DAG: a named computation over a
// trailing window of closed bars and the values already computed earlier in
// the same layer pass.
type IndicatorNode struct {
	Name      string
	DependsOn []string
	Compute   func(bars []types.OHLCV, resolved map[string]float64) float64
}

// IndicatorGraph is a DAG of indicator nodes, computed in dependency layers
// so independent indicators are evaluated without waiting on each other
//.
type IndicatorGraph struct {
	nodes  map[string]IndicatorNode
	layers [][]string
}

// NewIndicatorGraph builds a graph from nodes and topologically layers them.
// A dependency cycle collapses any remaining nodes into a final layer rather
// than failing construction, since a cycle is a wiring bug the graph cannot
// resolve on its own; those nodes will simply compute against an
// incompletely resolved map and yield NaN, counted via data_completeness.
func NewIndicatorGraph(nodes []IndicatorNode) *IndicatorGraph {
	byName := make(map[string]IndicatorNode, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = n
	}

	resolved := make(map[string]bool, len(nodes))
	var layers [][]string
	remaining := make(map[string]IndicatorNode, len(nodes))
	for k, v := range byName {
		remaining[k] = v
	}

	for len(remaining) > 0 {
		var layer []string
		for name, node := range remaining {
			ready := true
			for _, dep := range node.DependsOn {
				if _, isIndicator := byName[dep]; isIndicator && !resolved[dep] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			// Cycle: dump everything left into one final layer.
			for name := range remaining {
				layer = append(layer, name)
			}
		}
		for _, name := range layer {
			resolved[name] = true
			delete(remaining, name)
		}
		layers = append(layers, layer)
	}

	return &IndicatorGraph{nodes: byName, layers: layers}
}

// Evaluate computes every node against bars (most recent last) and returns
// the resulting value map plus a data-completeness score: the fraction of
// nodes that produced a non-NaN value.
func (g *IndicatorGraph) Evaluate(bars []types.OHLCV) (values map[string]float64, completeness float64) {
	values = make(map[string]float64, len(g.nodes))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, layer := range g.layers {
		snapshot := make(map[string]float64, len(values))
		mu.Lock()
		for k, v := range values {
			snapshot[k] = v
		}
		mu.Unlock()

		results := make([]float64, len(layer))
		for i, name := range layer {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				results[i] = g.safeCompute(g.nodes[name], bars, snapshot)
			}(i, name)
		}
		wg.Wait()

		mu.Lock()
		for i, name := range layer {
			values[name] = results[i]
		}
		mu.Unlock()
	}

	ok := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			ok++
		}
	}
	if len(values) == 0 {
		return values, 1
	}
	return values, float64(ok) / float64(len(values))
}

func (g *IndicatorGraph) safeCompute(node IndicatorNode, bars []types.OHLCV, resolved map[string]float64) (value float64) {
	defer func() {
		if r := recover(); r != nil {
			value = math.NaN()
		}
	}()
	for _, dep := range node.DependsOn {
		if v, ok := resolved[dep]; ok && math.IsNaN(v) {
			return math.NaN()
		}
	}
	return node.Compute(bars, resolved)
}

// BuiltinNodes returns the indicator set the default strategies depend on:
// close, SMA-20, EMA-12/26, MACD (EMA-12 minus EMA-26), and a 14-bar ATR
// proxy used by P3's risk clamping.
func BuiltinNodes() []IndicatorNode {
	return []IndicatorNode{
		{
			Name: "close",
			Compute: func(bars []types.OHLCV, _ map[string]float64) float64 {
				if len(bars) == 0 {
					return math.NaN()
				}
				f, _ := bars[len(bars)-1].Close.Float64()
				return f
			},
		},
		{
			Name: "sma_20",
			Compute: func(bars []types.OHLCV, _ map[string]float64) float64 {
				return closesSMA(bars, 20)
			},
		},
		{
			Name: "ema_12",
			Compute: func(bars []types.OHLCV, _ map[string]float64) float64 {
				return closesEMA(bars, 12)
			},
		},
		{
			Name: "ema_26",
			Compute: func(bars []types.OHLCV, _ map[string]float64) float64 {
				return closesEMA(bars, 26)
			},
		},
		{
			Name:      "macd",
			DependsOn: []string{"ema_12", "ema_26"},
			Compute: func(_ []types.OHLCV, resolved map[string]float64) float64 {
				return resolved["ema_12"] - resolved["ema_26"]
			},
		},
		{
			Name: "atr",
			Compute: func(bars []types.OHLCV, _ map[string]float64) float64 {
				return trueRangeATR(bars, 14)
			},
		},
	}
}

func closesSMA(bars []types.OHLCV, period int) float64 {
	if len(bars) < period {
		return math.NaN()
	}
	sma := statutil.NewSMA(period)
	var last float64
	for _, b := range bars {
		f, _ := b.Close.Float64()
		last = sma.Add(f)
	}
	return last
}

func closesEMA(bars []types.OHLCV, period int) float64 {
	if len(bars) < period {
		return math.NaN()
	}
	ema := statutil.NewEMA(period)
	var last float64
	for _, b := range bars {
		f, _ := b.Close.Float64()
		last = ema.Add(f)
	}
	return last
}

func trueRangeATR(bars []types.OHLCV, period int) float64 {
	if len(bars) < period+1 {
		return math.NaN()
	}
	start := len(bars) - period
	var sum float64
	for i := start; i < len(bars); i++ {
		high, _ := bars[i].High.Float64()
		low, _ := bars[i].Low.Float64()
		prevClose, _ := bars[i-1].Close.Float64()
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}
