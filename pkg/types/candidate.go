package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriorityBand governs notification urgency and rate in P4.
type PriorityBand string

const (
	PriorityCritical PriorityBand = "CRITICAL"
	PriorityHigh     PriorityBand = "HIGH"
	PriorityMedium   PriorityBand = "MEDIUM"
	PriorityLow      PriorityBand = "LOW"
)

// bandRank orders bands from most to least urgent, for dispatch tiebreaking.
var bandRank = map[PriorityBand]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Rank returns the band's dispatch priority; lower is more urgent.
func (b PriorityBand) Rank() int {
	if r, ok := bandRank[b]; ok {
		return r
	}
	return len(bandRank)
}

// QualityScores are the five sub-scores that gate and band a candidate. Each lies
// in [0,1]; the `validate` tags are enforced via ValidateCandidate.
type QualityScores struct {
	DataCompleteness float64 `json:"dataCompleteness" validate:"gte=0,lte=1"`
	SignalClarity    float64 `json:"signalClarity" validate:"gte=0,lte=1"`
	Confidence       float64 `json:"confidence" validate:"gte=0,lte=1"`
	VolatilityFit    float64 `json:"volatilityFit" validate:"gte=0,lte=1"`
	LiquidityFit     float64 `json:"liquidityFit" validate:"gte=0,lte=1"`
}

// Composite computes the weighted sum used for gating and priority banding.
// Weights come from the active ParameterSet; missing keys default to an even split.
func (q QualityScores) Composite(weights map[string]float64) float64 {
	def := 1.0 / 5
	w := func(name string, fallback float64) float64 {
		if weights == nil {
			return fallback
		}
		if v, ok := weights["quality_weight_"+name]; ok {
			return v
		}
		return fallback
	}
	return q.DataCompleteness*w("data_completeness", def) +
		q.SignalClarity*w("signal_clarity", def) +
		q.Confidence*w("confidence", def) +
		q.VolatilityFit*w("volatility_fit", def) +
		q.LiquidityFit*w("liquidity_fit", def)
}

// CandidateID uniquely identifies a SignalCandidate by its origin.
type CandidateID struct {
	Symbol      string
	Timeframe   Timeframe
	CloseTime   time.Time
	StrategyTag string
}

func (id CandidateID) String() string {
	return fmt.Sprintf("%s|%s|%d|%s", id.Symbol, id.Timeframe, id.CloseTime.UnixNano(), id.StrategyTag)
}

// SignalCandidate is a proposed trade action, created in P1 and annotated through
// P2/P3. Strength, Confidence, and every QualityScores field MUST lie in [0,1];
// ValidateCandidate enforces this at every construction boundary.
type SignalCandidate struct {
	ID CandidateID `json:"id"`

	Symbol     string          `json:"symbol" validate:"required"`
	Direction  Direction       `json:"direction" validate:"oneof=LONG SHORT"`
	Strength   float64         `json:"strength" validate:"gte=0,lte=1"`
	Confidence float64         `json:"confidence" validate:"gte=0,lte=1"`
	EntryPrice decimal.Decimal `json:"entryPrice" validate:"required"`
	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	ExpiresAt  time.Time       `json:"expiresAt"`

	StrategyTag string `json:"strategyTag"`

	// FeatureSnapshot is a copy of the IndicatorFrame values used to produce this candidate.
	FeatureSnapshot map[string]float64 `json:"featureSnapshot"`

	Quality  QualityScores `json:"quality" validate:"dive"`
	Priority PriorityBand  `json:"priority"`

	EmittedAt time.Time `json:"emittedAt"`

	// Reinforced is set by P2's delayed-observation reinforcement when a
	// previously demoted candidate is re-promoted.
	Reinforced bool `json:"reinforced"`
}

// IndicatorFrameKey returns the (symbol, timeframe, close_time) key the candidate
// references; every SignalCandidate must reference exactly one IndicatorFrame.
func (c SignalCandidate) IndicatorFrameKey() IndicatorKey {
	return IndicatorKey{Symbol: c.Symbol, Timeframe: c.ID.Timeframe, CloseTime: c.ID.CloseTime}
}
