package types

import "time"

// ClosureReason classifies why a position closed or a candidate expired unactivated.
type ClosureReason string

const (
	ClosureTakeProfit ClosureReason = "TAKE_PROFIT"
	ClosureStopLoss   ClosureReason = "STOP_LOSS"
	ClosureTimeout    ClosureReason = "TIMEOUT"
	ClosureManual     ClosureReason = "MANUAL"
	ClosureReplaced   ClosureReason = "REPLACED"
)

// OutcomeRecord is produced when a position closes or a candidate times out
// without activation; it is the unit P5 learns from.
type OutcomeRecord struct {
	ID          string        `json:"id"`
	CandidateID CandidateID   `json:"candidateId"`
	PositionID  string        `json:"positionId,omitempty"`
	Closure     ClosureReason `json:"closure"`

	// RealizedPnLPct is the realized profit/loss as a percentage of entry notional.
	RealizedPnLPct float64       `json:"realizedPnlPct"`
	HoldDuration   time.Duration `json:"holdDuration"`

	FeatureSnapshot map[string]float64 `json:"featureSnapshot"`
	RegimeLabel     string             `json:"regimeLabel"`

	StrategyTag string    `json:"strategyTag"`
	Symbol      string    `json:"symbol"`
	ClosedAt    time.Time `json:"closedAt"`
}

// Win reports whether this outcome counts as a win for win-rate purposes.
func (o OutcomeRecord) Win() bool {
	return o.RealizedPnLPct > 0
}
