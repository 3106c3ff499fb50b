package execpolicy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// symbolRiskState is the per-symbol risk bookkeeping this pipeline needs: a
// daily trade counter and an aggregate exposure figure, reset at UTC
// midnight. P3 owns decisions for a single symbol's positions, not
// portfolio capital allocation, so there is no portfolio-wide drawdown,
// kill switch, or correlation-group exposure cap here.
type symbolRiskState struct {
	dayStart    time.Time
	tradesToday int
	exposure    decimal.Decimal
}

// RiskLedger tracks per-symbol daily trade counts and exposure. Exhausted
// gates the IGNORE rule's daily risk budget, and GlobalOpenPositions feeds
// the NEW rule's global cap with whatever count SetGlobalOpenPositions last
// stored (nothing in this package calls it, so the count stays at zero
// unless a caller sets it). The decision rules do not consult
// WithinExposureBound, so STRENGTHEN is not gated on aggregate exposure.
type RiskLedger struct {
	mu     sync.Mutex
	states map[string]*symbolRiskState

	globalOpenPositions int
}

// NewRiskLedger creates an empty risk ledger.
func NewRiskLedger() *RiskLedger {
	return &RiskLedger{states: make(map[string]*symbolRiskState)}
}

func (r *RiskLedger) stateFor(symbol string, now time.Time) *symbolRiskState {
	s, ok := r.states[symbol]
	dayStart := now.Truncate(24 * time.Hour)
	if !ok || s.dayStart.Before(dayStart) {
		s = &symbolRiskState{dayStart: dayStart}
		r.states[symbol] = s
	}
	return s
}

// Exhausted reports whether the symbol's daily trade budget is used up.
func (r *RiskLedger) Exhausted(symbol string, maxDailyTrades int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stateFor(symbol, now)
	return maxDailyTrades > 0 && s.tradesToday >= maxDailyTrades
}

// WithinExposureBound reports whether adding delta to the symbol's tracked
// exposure keeps it under maxExposure (0 means unbounded).
func (r *RiskLedger) WithinExposureBound(symbol string, delta, maxExposure decimal.Decimal, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxExposure.IsZero() {
		return true
	}
	s := r.stateFor(symbol, now)
	return s.exposure.Add(delta).LessThanOrEqual(maxExposure)
}

// RecordTrade increments the symbol's daily trade count and exposure,
// called once a NEW or REPLACE decision actually opens a position.
func (r *RiskLedger) RecordTrade(symbol string, size decimal.Decimal, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stateFor(symbol, now)
	s.tradesToday++
	s.exposure = s.exposure.Add(size)
}

// ReleaseExposure reduces tracked exposure when a position closes.
func (r *RiskLedger) ReleaseExposure(symbol string, size decimal.Decimal, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stateFor(symbol, now)
	s.exposure = s.exposure.Sub(size)
	if s.exposure.IsNegative() {
		s.exposure = decimal.Zero
	}
}

// SetGlobalOpenPositions updates the cached global open-position count used
// by the NEW rule's global cap check.
func (r *RiskLedger) SetGlobalOpenPositions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalOpenPositions = n
}

// GlobalOpenPositions returns the cached global open-position count.
func (r *RiskLedger) GlobalOpenPositions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalOpenPositions
}

// clampRisk derives stop-loss, take-profit, and the resulting risk/reward
// ratio from a candidate's recommended prices, bounded by ATR-derived
// distances. The ATR
// value is read from the candidate's feature snapshot; candidates whose
// strategy never computed one fall back to a fixed 1% of entry price so a
// missing indicator never produces an unbounded stop distance.
func clampRisk(params types.ParameterSet, candidate types.SignalCandidate) (stopLoss, takeProfit decimal.Decimal, riskReward decimal.Decimal) {
	entry := candidate.EntryPrice
	atr := candidate.FeatureSnapshot["atr"]
	if atr <= 0 {
		f, _ := entry.Float64()
		atr = f * 0.01
	}

	stopMult := params.Float("atr_stop_multiplier", 1.5)
	tpMult := params.Float("atr_target_multiplier", 2.5)
	maxStopDist := decimal.NewFromFloat(atr * stopMult)
	maxTPDist := decimal.NewFromFloat(atr * tpMult)

	stopDist := absDecimal(entry.Sub(candidate.StopLoss))
	if stopDist.IsZero() || stopDist.GreaterThan(maxStopDist) {
		stopDist = maxStopDist
	}
	tpDist := absDecimal(entry.Sub(candidate.TakeProfit))
	if tpDist.IsZero() || tpDist.GreaterThan(maxTPDist) {
		tpDist = maxTPDist
	}

	switch candidate.Direction {
	case types.DirectionLong:
		stopLoss = entry.Sub(stopDist)
		takeProfit = entry.Add(tpDist)
	default:
		stopLoss = entry.Add(stopDist)
		takeProfit = entry.Sub(tpDist)
	}

	if stopDist.IsZero() {
		return stopLoss, takeProfit, decimal.Zero
	}
	riskReward = tpDist.Div(stopDist)
	return stopLoss, takeProfit, riskReward
}

func absDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}
