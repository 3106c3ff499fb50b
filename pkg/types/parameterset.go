package types

import "time"

// ParameterOverlay scopes a set of parameter overrides to a symbol category or
// market regime label; consumers apply overlays based on current context.
type ParameterOverlay struct {
	Scope      string             `json:"scope"` // e.g. "category:major", "regime:trending_bull"
	Parameters map[string]float64 `json:"parameters"`
}

// ParameterSet is a versioned, immutable-once-published mapping from parameter
// name to value. Only one ParameterSet is ACTIVE at a time per consumer;
// replacement is atomic and ongoing requests observe the set captured at
// request start (see internal/paramstore).
type ParameterSet struct {
	Version   uint64             `json:"version"`
	CreatedAt time.Time          `json:"createdAt"`
	Parameters map[string]float64 `json:"parameters"`
	Overlays   []ParameterOverlay `json:"overlays"`
}

// Float returns a parameter's value, falling back to def if absent.
func (p ParameterSet) Float(name string, def float64) float64 {
	if p.Parameters == nil {
		return def
	}
	if v, ok := p.Parameters[name]; ok {
		return v
	}
	return def
}

// Overlay finds an overlay by exact scope match, or nil.
func (p ParameterSet) Overlay(scope string) *ParameterOverlay {
	for i := range p.Overlays {
		if p.Overlays[i].Scope == scope {
			return &p.Overlays[i]
		}
	}
	return nil
}

// FloatWithOverlay resolves a parameter honoring a scope overlay first, falling
// back to the base parameter and then def.
func (p ParameterSet) FloatWithOverlay(scope, name string, def float64) float64 {
	if ov := p.Overlay(scope); ov != nil {
		if v, ok := ov.Parameters[name]; ok {
			return v
		}
	}
	return p.Float(name, def)
}

// DefaultParameters returns the version-0 parameter set consumed by P1 and P3
// before any P5-published set exists.
func DefaultParameters() ParameterSet {
	return ParameterSet{
		Version:   0,
		CreatedAt: time.Time{},
		Parameters: map[string]float64{
			"min_strength_threshold":      0.3,
			"min_confidence_threshold":    0.55,
			"quality_weight_data_completeness": 0.2,
			"quality_weight_signal_clarity":    0.2,
			"quality_weight_confidence":        0.2,
			"quality_weight_volatility_fit":    0.2,
			"quality_weight_liquidity_fit":     0.2,
			"quality_gate_floor":          0.4,
			"band_threshold_critical":     0.85,
			"band_threshold_high":         0.7,
			"band_threshold_medium":       0.5,
			"dedup_similarity_threshold":  0.85,
			"dedup_window_minutes":        15,
			"correlation_threshold":       0.8,
			"replace_margin":              0.15,
			"strengthen_margin":           0.07,
			"risk_reward_floor":           1.2,
			"replace_cooldown_seconds":    300,
			"max_open_positions_per_symbol": 1,
			"max_global_open_positions":   50,
			"max_daily_trades_per_symbol": 20,
			"atr_stop_multiplier":         1.5,
			"atr_target_multiplier":       2.5,
			"half_life_hours":             12,
			"min_improvement":             0.03,
		},
	}
}
