package notify

import (
	"time"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// FromDecision builds a notification Source from a P3 ExecutionDecision and
// the candidate it originated from, mapping the candidate's priority band
// onto notify.Band and filling the envelope body with the fields the design
// names (symbol, direction, entry, stop-loss, take-profit, confidence,
// rationale, emission time) and nothing else — internal error detail never
// belongs in a notification body.
func FromDecision(candidate types.SignalCandidate, decision types.ExecutionDecision) Source {
	return Source{
		Symbol:    candidate.Symbol,
		Band:      Band(candidate.Priority),
		Strength:  candidate.Strength,
		EmittedAt: candidate.EmittedAt,
		ExpiresAt: candidate.ExpiresAt,
		Envelope: Envelope{
			Subject: string(decision.Verdict) + " " + candidate.Symbol,
			Band:    Band(candidate.Priority),
			Body: Body{
				Symbol:     candidate.Symbol,
				Direction:  string(candidate.Direction),
				EntryPrice: candidate.EntryPrice.String(),
				StopLoss:   decision.StopLoss.String(),
				TakeProfit: decision.TakeProfit.String(),
				Confidence: candidate.Confidence,
				Rationale:  string(decision.Rationale),
				EmittedAt:  candidate.EmittedAt.Format(time.RFC3339),
			},
		},
	}
}
