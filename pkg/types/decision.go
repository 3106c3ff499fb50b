package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Verdict is P3's classification of a VettedCandidate against open positions.
type Verdict string

const (
	VerdictReplace    Verdict = "REPLACE"
	VerdictStrengthen Verdict = "STRENGTHEN"
	VerdictNew        Verdict = "NEW"
	VerdictIgnore     Verdict = "IGNORE"
)

// RationaleCode explains why a verdict was reached, for metrics and audit.
type RationaleCode string

const (
	RationaleOppositeOutscored  RationaleCode = "OPPOSITE_OUTSCORED"
	RationaleSameSideStronger   RationaleCode = "SAME_SIDE_STRONGER"
	RationaleNoExistingPosition RationaleCode = "NO_EXISTING_POSITION"
	RationaleWeakerOrigin       RationaleCode = "WEAKER_THAN_OPEN_ORIGIN"
	RationaleRiskBudgetExhausted RationaleCode = "RISK_BUDGET_EXHAUSTED"
	RationaleReplaceCooldown    RationaleCode = "REPLACE_COOLDOWN"
	RationalePositionCapReached RationaleCode = "POSITION_CAP_REACHED"
	RationaleRiskRewardFloor    RationaleCode = "RISK_REWARD_BELOW_FLOOR"
	RationaleContention         RationaleCode = "CONTENTION"
	RationaleHedgingDisallowed  RationaleCode = "HEDGING_DISALLOWED"
)

// ExecutionDecision is P3's output: one verdict per VettedCandidate.
type ExecutionDecision struct {
	ID              string        `json:"id"`
	CandidateID     CandidateID   `json:"candidateId"`
	Verdict         Verdict       `json:"verdict"`
	TargetPositionID string       `json:"targetPositionId,omitempty"` // null/empty when NEW
	Rationale       RationaleCode `json:"rationale"`

	RiskRewardRatio decimal.Decimal `json:"riskRewardRatio"`
	StopLoss        decimal.Decimal `json:"stopLoss"`
	TakeProfit      decimal.Decimal `json:"takeProfit"`

	Timestamp time.Time `json:"timestamp"`
}
