package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of a tracked exposure.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
)

// Position is an active tracked exposure for a symbol, originated from an
// accepted SignalCandidate. At most one OPEN position may exist per
// (symbol, direction) unless hedging is explicitly permitted by policy.
type Position struct {
	ID        string         `json:"id"`
	Symbol    string         `json:"symbol"`
	Direction Direction      `json:"direction"`

	EntryPrice decimal.Decimal `json:"entryPrice"`
	EntryTime  time.Time       `json:"entryTime"`

	StopLoss   decimal.Decimal `json:"stopLoss"`
	TakeProfit decimal.Decimal `json:"takeProfit"`
	Size       decimal.Decimal `json:"size"`

	OriginCandidateID CandidateID `json:"originCandidateId"`
	// OriginComposite is the composite quality score of the originating
	// candidate, captured at open time; P3's REPLACE/STRENGTHEN margin
	// comparisons are against this frozen value, not a live recomputation.
	OriginComposite float64 `json:"originComposite"`
	// OriginConfidence is the originating candidate's confidence, used by
	// the IGNORE rule's "equal or stronger origin-confidence" check.
	OriginConfidence float64 `json:"originConfidence"`

	Status PositionStatus `json:"status"`

	ClosingSince time.Time `json:"closingSince,omitempty"`
}

// IsOpen reports whether the position currently counts as an open exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}
