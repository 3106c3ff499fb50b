package preeval

import "github.com/atlas-desktop/signal-pipeline/pkg/types"

// Gate implements P2 Step 3: the composite-score quality gate and priority
// banding.
type Gate struct{}

// NewGate creates a Gate. It is stateless; weights and thresholds come from
// the ParameterSet passed at evaluation time.
func NewGate() *Gate { return &Gate{} }

// Evaluate computes candidate's composite score from params' quality
// weights, drops it if below the configured floor, and otherwise assigns a
// priority band by fixed thresholds on the composite. ok is false when the
// candidate should be dropped.
func (g *Gate) Evaluate(candidate types.SignalCandidate, params types.ParameterSet) (composite float64, band types.PriorityBand, ok bool) {
	composite = candidate.Quality.Composite(params.Parameters)
	floor := params.Float("quality_gate_floor", 0.4)
	if composite < floor {
		return composite, "", false
	}
	switch {
	case composite >= params.Float("band_threshold_critical", 0.85):
		band = types.PriorityCritical
	case composite >= params.Float("band_threshold_high", 0.7):
		band = types.PriorityHigh
	case composite >= params.Float("band_threshold_medium", 0.5):
		band = types.PriorityMedium
	default:
		band = types.PriorityLow
	}
	return composite, band, true
}
