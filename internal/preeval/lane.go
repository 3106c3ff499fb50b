package preeval

import "github.com/atlas-desktop/signal-pipeline/pkg/types"

// Lane is a P2 processing tier, trading analysis depth for latency budget
//.
type Lane string

const (
	LaneExpress  Lane = "EXPRESS"
	LaneStandard Lane = "STANDARD"
	LaneDeep     Lane = "DEEP"
)

// Budget returns the lane's target per-candidate processing budget.
func (l Lane) Budget() (ms int) {
	switch l {
	case LaneExpress:
		return 3
	case LaneDeep:
		return 35
	default:
		return 8
	}
}

func (l Lane) degradeOneStep() Lane {
	switch l {
	case LaneDeep:
		return LaneStandard
	case LaneStandard:
		return LaneExpress
	default:
		return LaneExpress
	}
}

// RouterConfig tunes lane selection and load-based degradation.
type RouterConfig struct {
	ExpressQualityThreshold float64       // all sub-scores must exceed this for Express
	MarketStressThreshold   float64       // candidate.FeatureSnapshot["market_stress"] above this forces Deep
	AmbiguityWindowSeconds  float64       // conflicting-direction window for ambiguity detection
	QueueHighWatermark      int           // queue depth above which degradation kicks in
	MinDegradedLane         Lane          // degradation never goes past this (Express is the floor)
}

// DefaultRouterConfig returns this illustrative thresholds.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ExpressQualityThreshold: 0.8,
		MarketStressThreshold:   0.75,
		AmbiguityWindowSeconds:  60,
		QueueHighWatermark:      512,
		MinDegradedLane:         LaneExpress,
	}
}

// Router is the Intelligent Router: chooses Express/Standard/Deep
// per candidate, then degrades under load. Stateless aside from config; the
// ambiguity check consumes the shared recent-candidate index the Processor
// maintains for dedup/correlation too.
type Router struct {
	config RouterConfig
}

// NewRouter creates a Router with the given config.
func NewRouter(config RouterConfig) *Router {
	if config.MinDegradedLane == "" {
		config.MinDegradedLane = LaneExpress
	}
	return &Router{config: config}
}

// Select picks the candidate's base lane before any load-based degradation.
// ambiguous indicates a conflicting-strategy/direction candidate was seen for
// the same symbol within the ambiguity window.
func (r *Router) Select(c types.SignalCandidate, marketStress float64, ambiguous bool) Lane {
	if marketStress > r.config.MarketStressThreshold || ambiguous {
		return LaneDeep
	}
	q := c.Quality
	if q.DataCompleteness > r.config.ExpressQualityThreshold &&
		q.SignalClarity > r.config.ExpressQualityThreshold &&
		q.Confidence > r.config.ExpressQualityThreshold &&
		q.VolatilityFit > r.config.ExpressQualityThreshold &&
		q.LiquidityFit > r.config.ExpressQualityThreshold {
		return LaneExpress
	}
	return LaneStandard
}

// DegradationEvent records a load-driven lane downgrade, for metrics and the
// spec's "A degradation event is recorded with cause" requirement.
type DegradationEvent struct {
	From  Lane
	To    Lane
	Cause string
}

// Degrade applies load-based degradation: when queueDepth exceeds the
// high-watermark, Deep steps down to Standard and Standard steps down to
// Express, never past config.MinDegradedLane. Returns the (possibly
// unchanged) lane and, if a downgrade occurred, the event to record.
func (r *Router) Degrade(lane Lane, queueDepth int) (Lane, *DegradationEvent) {
	if queueDepth <= r.config.QueueHighWatermark || lane == r.config.MinDegradedLane {
		return lane, nil
	}
	next := lane.degradeOneStep()
	return next, &DegradationEvent{From: lane, To: next, Cause: "queue_high_watermark"}
}
