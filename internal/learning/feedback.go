// Package learning implements P5 Adaptive Learning: an append-only outcome
// log, partitioned by symbol/regime/strategy category, that drives a
// three-stage learning loop — COLLECTING while a category has fewer than 50
// outcomes, PATTERN DISCOVERY every 50 thereafter (per-category win-rate/
// expectancy refresh), and PARAMETER OPTIMIZATION every 200 (a new
// ParameterSet overlay published to internal/paramstore). The append,
// bucket, periodically-persist-and-re-evaluate shape is reworked around
// OutcomeRecord and time-decayed statistics rather than user ratings.
package learning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/pkg/statutil"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// Stage is P5's current position in the collect/discover/optimize cycle,
// tracked per category so a newly-listed symbol doesn't inherit a mature
// category's optimization cadence.
type Stage int

const (
	StageCollecting Stage = iota
	StagePatternDiscovery
	StageParameterOptimization
)

func (s Stage) String() string {
	switch s {
	case StageCollecting:
		return "collecting"
	case StagePatternDiscovery:
		return "pattern_discovery"
	case StageParameterOptimization:
		return "parameter_optimization"
	default:
		return "unknown"
	}
}

const (
	patternDiscoveryEvery   = 50
	parameterOptimizeEvery  = 200
	persistEvery            = 25
)

// CategoryStats is the time-decayed performance summary for one category
// (symbol + regime + strategy tag), refreshed at every pattern-discovery
// cycle.
type CategoryStats struct {
	Category    string    `json:"category"`
	Count       int       `json:"count"`
	Stage       Stage     `json:"stage"`
	WinRate     float64   `json:"winRate"`
	Expectancy  float64   `json:"expectancy"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Engine is the P5 learning loop. It ingests OutcomeRecords as positions
// close or candidates expire, maintains per-category statistics, and
// publishes revised ParameterSets through a paramstore.Store once a
// category has accumulated enough history to optimize confidently.
type Engine struct {
	logger  *zap.Logger
	store   *paramstore.Store
	dataDir string

	mu         sync.RWMutex
	records    []types.OutcomeRecord
	byCategory map[string][]types.OutcomeRecord
	stats      map[string]*CategoryStats
	seenIDs    map[string]struct{}

	halfLifeHours  float64
	minImprovement float64
}

// Config tunes the learning engine's decay and improvement-gating behavior.
type Config struct {
	DataDir        string
	HalfLifeHours  float64
	MinImprovement float64
}

// DefaultConfig mirrors the default ParameterSet's half_life_hours and
// min_improvement values, so a freshly started engine agrees with P1/P3
// until P5 publishes its first override.
func DefaultConfig() Config {
	def := types.DefaultParameters()
	return Config{
		DataDir:        "data/learning",
		HalfLifeHours:  def.Float("half_life_hours", 12),
		MinImprovement: def.Float("min_improvement", 0.03),
	}
}

// NewEngine creates a learning engine bound to store, from which it reads
// the current ParameterSet to base new overlays on, and to which it
// publishes optimized sets.
func NewEngine(logger *zap.Logger, store *paramstore.Store, config Config) *Engine {
	e := &Engine{
		logger:         logger.Named("learning"),
		store:          store,
		dataDir:        config.DataDir,
		byCategory:     make(map[string][]types.OutcomeRecord),
		stats:          make(map[string]*CategoryStats),
		seenIDs:        make(map[string]struct{}),
		halfLifeHours:  config.HalfLifeHours,
		minImprovement: config.MinImprovement,
	}
	e.load()
	return e
}

// category derives the partition key an outcome belongs to: symbol, regime
// label, and originating strategy tag together.
func category(o types.OutcomeRecord) string {
	regime := o.RegimeLabel
	if regime == "" {
		regime = "unknown"
	}
	return o.Symbol + "|" + regime + "|" + o.StrategyTag
}

// Record ingests a closed position's or expired candidate's outcome,
// updates its category bucket, and triggers pattern discovery or parameter
// optimization when the category crosses the relevant count threshold.
// Idempotent by outcome.ID: a duplicate submission is logged and dropped
// before it can double-count toward a category's stage thresholds or skew
// its weighted statistics.
func (e *Engine) Record(outcome types.OutcomeRecord) {
	e.mu.Lock()
	if _, seen := e.seenIDs[outcome.ID]; seen {
		e.mu.Unlock()
		e.logger.Debug("duplicate outcome ignored", zap.String("id", outcome.ID))
		return
	}
	e.seenIDs[outcome.ID] = struct{}{}
	cat := category(outcome)
	e.records = append(e.records, outcome)
	e.byCategory[cat] = append(e.byCategory[cat], outcome)
	n := len(e.byCategory[cat])
	shouldPersist := len(e.records)%persistEvery == 0
	e.mu.Unlock()

	e.logger.Debug("outcome recorded",
		zap.String("category", cat),
		zap.Int("categoryCount", n),
		zap.Bool("win", outcome.Win()))

	switch {
	case n >= parameterOptimizeEvery && n%parameterOptimizeEvery == 0:
		e.runParameterOptimization(cat)
	case n >= patternDiscoveryEvery && n%patternDiscoveryEvery == 0:
		e.runPatternDiscovery(cat)
	}

	if shouldPersist {
		e.save()
	}
}

// runPatternDiscovery refreshes a category's time-decayed win-rate and
// expectancy without touching any published ParameterSet. This is the
// lightweight stage: statistics update, no overlay is published.
func (e *Engine) runPatternDiscovery(cat string) {
	stats := e.evaluateCategory(cat, StagePatternDiscovery)
	e.logger.Info("pattern discovery cycle",
		zap.String("category", cat),
		zap.Float64("winRate", stats.WinRate),
		zap.Float64("expectancy", stats.Expectancy))
}

// runParameterOptimization re-evaluates a category, derives adjusted
// confidence/strength thresholds from its time-decayed win rate, and
// publishes them as a ParameterSet overlay scoped to that category. The
// first overlay for a category is always published; after that, a new one
// is published only when some threshold differs from the existing overlay's
// by at least minImprovement. The category's performance under the adjusted
// thresholds is not compared with its performance under the current set.
func (e *Engine) runParameterOptimization(cat string) {
	stats := e.evaluateCategory(cat, StageParameterOptimization)

	current := e.store.Get()
	scope := overlayScope(cat)
	existing := current.Overlay(scope)

	adjusted := deriveOverlayParameters(current, existing, stats)
	if existing != nil && !meaningfulChange(existing.Parameters, adjusted, e.minImprovement) {
		e.logger.Info("parameter optimization skipped, improvement below floor",
			zap.String("category", cat))
		return
	}

	next := current
	next.Overlays = replaceOverlay(current.Overlays, types.ParameterOverlay{
		Scope:      scope,
		Parameters: adjusted,
	})
	next.CreatedAt = stats.LastUpdated

	version, err := e.store.Put(next)
	if err != nil {
		e.logger.Error("failed to publish optimized parameter set", zap.Error(err))
		return
	}
	e.logger.Info("published optimized parameter set",
		zap.String("category", cat), zap.Uint64("version", version))
}

// evaluateCategory computes a half-life-weighted win-rate and expectancy
// over a category's full history and records the resulting stats.
func (e *Engine) evaluateCategory(cat string, stage Stage) CategoryStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	outcomes := e.byCategory[cat]
	now := latestClose(outcomes)

	wins := make([]bool, len(outcomes))
	pnl := make([]float64, len(outcomes))
	weights := make([]float64, len(outcomes))
	for i, o := range outcomes {
		wins[i] = o.Win()
		pnl[i] = o.RealizedPnLPct
		ageHours := now.Sub(o.ClosedAt).Hours()
		weights[i] = statutil.HalfLifeWeight(ageHours, e.halfLifeHours)
	}

	stats := &CategoryStats{
		Category:    cat,
		Count:       len(outcomes),
		Stage:       stage,
		WinRate:     statutil.WeightedWinRate(wins, weights),
		Expectancy:  statutil.WeightedExpectancy(pnl, weights),
		LastUpdated: now,
	}
	e.stats[cat] = stats
	return *stats
}

func latestClose(outcomes []types.OutcomeRecord) time.Time {
	var latest time.Time
	for _, o := range outcomes {
		if o.ClosedAt.After(latest) {
			latest = o.ClosedAt
		}
	}
	if latest.IsZero() {
		latest = time.Now()
	}
	return latest
}

// overlayScope maps a learning category to the overlay scope key consumers
// look up via ParameterSet.FloatWithOverlay, e.g. "category:BTCUSD|trending_bull|momentum".
func overlayScope(cat string) string {
	return "category:" + cat
}

// deriveOverlayParameters nudges the thresholds a poorly-performing category
// should tighten (or a strongly-performing one can relax) based on the
// category's observed win rate, starting from any existing overlay or the
// base ParameterSet.
func deriveOverlayParameters(base types.ParameterSet, existing *types.ParameterOverlay, stats CategoryStats) map[string]float64 {
	params := make(map[string]float64, 2)
	minConfidence := base.Float("min_confidence_threshold", 0.55)
	minStrength := base.Float("min_strength_threshold", 0.3)
	if existing != nil {
		if v, ok := existing.Parameters["min_confidence_threshold"]; ok {
			minConfidence = v
		}
		if v, ok := existing.Parameters["min_strength_threshold"]; ok {
			minStrength = v
		}
	}

	switch {
	case stats.WinRate < 0.4:
		minConfidence += 0.05
		minStrength += 0.05
	case stats.WinRate > 0.65 && stats.Expectancy > 0:
		minConfidence -= 0.03
		minStrength -= 0.03
	}
	params["min_confidence_threshold"] = clamp01(minConfidence)
	params["min_strength_threshold"] = clamp01(minStrength)
	return params
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func meaningfulChange(prev, next map[string]float64, floor float64) bool {
	for k, nv := range next {
		if pv, ok := prev[k]; ok {
			if abs(nv-pv) >= floor {
				return true
			}
		} else {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func replaceOverlay(overlays []types.ParameterOverlay, next types.ParameterOverlay) []types.ParameterOverlay {
	out := make([]types.ParameterOverlay, 0, len(overlays)+1)
	replaced := false
	for _, ov := range overlays {
		if ov.Scope == next.Scope {
			out = append(out, next)
			replaced = true
			continue
		}
		out = append(out, ov)
	}
	if !replaced {
		out = append(out, next)
	}
	return out
}

// StageOf reports a category's current learning stage based on its
// accumulated outcome count.
func (e *Engine) StageOf(cat string) Stage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.byCategory[cat])
	switch {
	case n >= parameterOptimizeEvery:
		return StageParameterOptimization
	case n >= patternDiscoveryEvery:
		return StagePatternDiscovery
	default:
		return StageCollecting
	}
}

// Stats returns a snapshot of a category's last-computed statistics, or the
// zero value if none have been computed yet.
func (e *Engine) Stats(cat string) CategoryStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.stats[cat]; ok {
		return *s
	}
	return CategoryStats{Category: cat, Stage: StageCollecting}
}

// persisted is the on-disk shape saved and loaded from dataDir/outcomes.json.
type persisted struct {
	Records []types.OutcomeRecord    `json:"records"`
	Stats   map[string]*CategoryStats `json:"stats"`
}

func (e *Engine) save() {
	e.mu.RLock()
	data := persisted{Records: e.records, Stats: e.stats}
	e.mu.RUnlock()

	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		e.logger.Error("failed to marshal outcome log", zap.Error(err))
		return
	}
	if err := os.MkdirAll(e.dataDir, 0o755); err != nil {
		e.logger.Error("failed to create learning data dir", zap.Error(err))
		return
	}
	path := filepath.Join(e.dataDir, "outcomes.json")
	if err := os.WriteFile(path, bytes, 0o644); err != nil {
		e.logger.Error("failed to persist outcome log", zap.Error(err))
	}
}

func (e *Engine) load() {
	path := filepath.Join(e.dataDir, "outcomes.json")
	bytes, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var data persisted
	if err := json.Unmarshal(bytes, &data); err != nil {
		e.logger.Error("failed to unmarshal outcome log", zap.Error(err))
		return
	}
	e.records = data.Records
	if data.Stats != nil {
		e.stats = data.Stats
	}
	for _, o := range e.records {
		cat := category(o)
		e.byCategory[cat] = append(e.byCategory[cat], o)
		e.seenIDs[o.ID] = struct{}{}
	}
}
