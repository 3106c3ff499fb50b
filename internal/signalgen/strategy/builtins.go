package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// clampUnit folds a value into [0,1].
func clampUnit(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// candidateFrom builds the common scaffolding every built-in strategy shares:
// identity, entry/stop/take-profit derived from the bar close and ATR, and
// the feature-snapshot carried forward from the frame.
func candidateFrom(name string, frame types.IndicatorFrame, dir types.Direction, strength, confidence float64) types.SignalCandidate {
	atr := frame.Values["atr"]
	if math.IsNaN(atr) || atr <= 0 {
		f, _ := frame.Bar.Close.Float64()
		atr = f * 0.01
	}
	entry := frame.Bar.Close
	atrDec := decimal.NewFromFloat(atr)

	var stop, take decimal.Decimal
	if dir == types.DirectionLong {
		stop = entry.Sub(atrDec.Mul(decimal.NewFromFloat(1.5)))
		take = entry.Add(atrDec.Mul(decimal.NewFromFloat(2.5)))
	} else {
		stop = entry.Add(atrDec.Mul(decimal.NewFromFloat(1.5)))
		take = entry.Sub(atrDec.Mul(decimal.NewFromFloat(2.5)))
	}

	snapshot := make(map[string]float64, len(frame.Values))
	for k, v := range frame.Values {
		snapshot[k] = v
	}

	return types.SignalCandidate{
		ID: types.CandidateID{
			Symbol:      frame.Key.Symbol,
			Timeframe:   frame.Key.Timeframe,
			CloseTime:   frame.Key.CloseTime,
			StrategyTag: name,
		},
		Symbol:          frame.Key.Symbol,
		Direction:       dir,
		Strength:        clampUnit(strength),
		Confidence:      clampUnit(confidence),
		EntryPrice:      entry,
		StopLoss:        stop,
		TakeProfit:      take,
		ExpiresAt:       frame.Key.CloseTime.Add(frame.Key.Timeframe.Duration() * 4),
		StrategyTag:     name,
		FeatureSnapshot: snapshot,
		Quality: types.QualityScores{
			DataCompleteness: frame.DataCompleteness,
			SignalClarity:    clampUnit(strength),
			Confidence:       clampUnit(confidence),
			VolatilityFit:    volatilityFit(atr, entry),
			LiquidityFit:     0.5,
		},
		EmittedAt: frame.PublishedAt,
	}
}

func volatilityFit(atr float64, entry decimal.Decimal) float64 {
	f, _ := entry.Float64()
	if f == 0 {
		return 0
	}
	ratio := atr / f
	// A moderate volatility ratio (~0.5%-2% of price) scores highest; very
	// flat or very choppy instruments score lower.
	switch {
	case ratio < 0.001:
		return 0.3
	case ratio > 0.05:
		return 0.3
	default:
		return 0.8
	}
}

// Momentum emits LONG when MACD is positive and rising relative to price
// above its SMA, SHORT in the mirrored case.
type Momentum struct{}

func NewMomentum() *Momentum { return &Momentum{} }
func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Evaluate(frame types.IndicatorFrame, history []types.IndicatorFrame) (*types.SignalCandidate, error) {
	macd, ok := frame.Value("macd")
	sma, smaOK := frame.Value("sma_20")
	if !ok || !smaOK {
		return nil, nil
	}
	close, _ := frame.Bar.Close.Float64()

	var dir types.Direction
	switch {
	case macd > 0 && close > sma:
		dir = types.DirectionLong
	case macd < 0 && close < sma:
		dir = types.DirectionShort
	default:
		return nil, nil
	}

	strength := clampUnit(math.Abs(macd) / (math.Abs(sma) + 1e-9) * 50)
	confidence := strength
	candidate := candidateFrom(m.Name(), frame, dir, strength, confidence)
	return &candidate, nil
}

// MeanReversion emits against the direction of price deviation from SMA-20
// once that deviation is large enough to suggest overextension.
type MeanReversion struct{}

func NewMeanReversion() *MeanReversion { return &MeanReversion{} }
func (m *MeanReversion) Name() string  { return "mean_reversion" }

func (m *MeanReversion) Evaluate(frame types.IndicatorFrame, history []types.IndicatorFrame) (*types.SignalCandidate, error) {
	sma, ok := frame.Value("sma_20")
	if !ok {
		return nil, nil
	}
	close, _ := frame.Bar.Close.Float64()
	if sma == 0 {
		return nil, nil
	}
	deviation := (close - sma) / sma

	var dir types.Direction
	switch {
	case deviation > 0.02:
		dir = types.DirectionShort
	case deviation < -0.02:
		dir = types.DirectionLong
	default:
		return nil, nil
	}

	strength := clampUnit(math.Abs(deviation) * 20)
	confidence := strength * 0.9
	candidate := candidateFrom(m.Name(), frame, dir, strength, confidence)
	return &candidate, nil
}

// Breakout emits when the bar's close clears its recent high/low range by
// more than one ATR, treating the origin as a single consistent point: the
// bar that actually closed beyond the range (an Open Question the
// distillation left unresolved; the alternative of firing continuously
// while price remains extended would flood P2 with near-duplicate
// candidates the dedup step would immediately have to re-suppress).
type Breakout struct{}

func NewBreakout() *Breakout   { return &Breakout{} }
func (b *Breakout) Name() string { return "breakout" }

func (b *Breakout) Evaluate(frame types.IndicatorFrame, history []types.IndicatorFrame) (*types.SignalCandidate, error) {
	if len(history) < 10 {
		return nil, nil
	}
	atr, ok := frame.Value("atr")
	if !ok {
		return nil, nil
	}
	close, _ := frame.Bar.Close.Float64()

	recentHigh, recentLow := math.Inf(-1), math.Inf(1)
	for _, h := range history[len(history)-10:] {
		f, _ := h.Bar.High.Float64()
		if f > recentHigh {
			recentHigh = f
		}
		f, _ = h.Bar.Low.Float64()
		if f < recentLow {
			recentLow = f
		}
	}

	var dir types.Direction
	var excess float64
	switch {
	case close > recentHigh+atr:
		dir = types.DirectionLong
		excess = close - recentHigh
	case close < recentLow-atr:
		dir = types.DirectionShort
		excess = recentLow - close
	default:
		return nil, nil
	}

	strength := clampUnit(excess / (atr + 1e-9) / 2)
	confidence := strength * 0.85
	candidate := candidateFrom(b.Name(), frame, dir, strength, confidence)
	return &candidate, nil
}

// RSIDivergence approximates RSI from the MACD histogram's sign run length
// since a dedicated RSI node is not in the default indicator set; a strong,
// sustained directional run is treated as divergence-confirming momentum.
type RSIDivergence struct{}

func NewRSIDivergence() *RSIDivergence { return &RSIDivergence{} }
func (r *RSIDivergence) Name() string  { return "rsi_divergence" }

func (r *RSIDivergence) Evaluate(frame types.IndicatorFrame, history []types.IndicatorFrame) (*types.SignalCandidate, error) {
	macd, ok := frame.Value("macd")
	if !ok || len(history) < 5 {
		return nil, nil
	}

	runLength := 0
	sign := macd > 0
	for i := len(history) - 1; i >= 0 && i >= len(history)-8; i-- {
		v, present := history[i].Value("macd")
		if !present || (v > 0) != sign {
			break
		}
		runLength++
	}
	if runLength < 4 {
		return nil, nil
	}

	dir := types.DirectionLong
	if !sign {
		dir = types.DirectionShort
	}
	strength := clampUnit(float64(runLength) / 8)
	confidence := strength * 0.8
	candidate := candidateFrom(r.Name(), frame, dir, strength, confidence)
	return &candidate, nil
}
