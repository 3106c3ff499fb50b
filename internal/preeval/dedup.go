package preeval

import (
	"time"

	"github.com/atlas-desktop/signal-pipeline/pkg/statutil"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// DedupConfig tunes P2 Step 1 deduplication.
type DedupConfig struct {
	Window              time.Duration
	SimilarityThreshold float64
	// DiversityStrategies is the minimum count of distinct source strategies
	// seen for a (symbol, direction) cluster above which the diversity guard
	// preserves all of them instead of suppressing near-duplicates.
	DiversityStrategies int
}

// DefaultDedupConfig returns this defaults: a 15-minute window and a
// 0.85 cosine-similarity threshold.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{Window: 15 * time.Minute, SimilarityThreshold: 0.85, DiversityStrategies: 3}
}

// Deduplicator implements P2 Step 1: within the sliding window, two
// candidates on the same symbol and direction with cosine-similar feature
// vectors are duplicates; the weaker (by confidence) is suppressed unless a
// diversity guard applies.
type Deduplicator struct {
	config DedupConfig
}

// NewDeduplicator creates a Deduplicator with the given config.
func NewDeduplicator(config DedupConfig) *Deduplicator {
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = 0.85
	}
	if config.DiversityStrategies <= 0 {
		config.DiversityStrategies = 3
	}
	return &Deduplicator{config: config}
}

// Result is the outcome of evaluating one candidate against its recent
// window of same-symbol-direction peers.
type Result struct {
	Duplicate bool
	// Suppressed is set when Duplicate is true and candidate loses to an
	// existing entry in the window (candidate should be dropped).
	Suppressed bool
}

// Evaluate checks candidate against recentSameSide (already filtered to the
// same symbol and direction, within the dedup window, ordered oldest-first).
// Returns whether candidate is a duplicate of something already in the
// window, and if so, whether it should itself be suppressed (it loses to a
// higher-confidence existing entry) rather than the existing entry.
func (d *Deduplicator) Evaluate(candidate types.SignalCandidate, recentSameSide []types.SignalCandidate) Result {
	strategies := map[string]struct{}{candidate.StrategyTag: {}}
	var matched bool
	var beatenByExisting bool
	for _, existing := range recentSameSide {
		sim := statutil.CosineSimilarity(candidate.FeatureSnapshot, existing.FeatureSnapshot)
		if sim < d.config.SimilarityThreshold {
			continue
		}
		matched = true
		strategies[existing.StrategyTag] = struct{}{}
		if existing.Confidence >= candidate.Confidence {
			beatenByExisting = true
		}
	}
	if !matched {
		return Result{}
	}
	if len(strategies) >= d.config.DiversityStrategies {
		// Diversity guard: enough independent methods agree that the overlap
		// is corroboration, not redundancy. Preserve both.
		return Result{}
	}
	return Result{Duplicate: true, Suppressed: beatenByExisting}
}
