// Package preeval implements P2 Pre-Evaluation: it transforms
// the raw P1 candidate stream into a vetted stream for P3 without mutating
// candidate identity, via three serial steps (dedup, correlation, quality
// gate) plus lane routing and delayed-observation reinforcement. Router,
// dedup, correlation, and the gate are pure functions of their inputs
// (dedup.go, correlation.go, gate.go, lane.go); Processor in this file wires
// them together, owns the small rolling window of recent candidates they
// share, and runs the bounded worker pool that drains P1's output queue. Grounded in the trading
// backend's internal/signals/aggregator.go, which fanned raw per-exchange
// signals through dedup/scoring/weighting into one aggregate signal; this
// generalizes that shape into this three named steps plus lanes.
package preeval

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/metrics"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/internal/workers"
	"github.com/atlas-desktop/signal-pipeline/pkg/perrors"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// DroppedReason classifies why a candidate never reached P3 -> Either<DroppedReason, VettedCandidate>`).
type DroppedReason string

const (
	DroppedDuplicate  DroppedReason = "DUPLICATE"
	DroppedBelowFloor DroppedReason = "BELOW_QUALITY_FLOOR"
	DroppedInvalid    DroppedReason = "INVALID_CANDIDATE"
	DroppedDeadline   DroppedReason = "DEADLINE_EXCEEDED"
)

var (
	errExpiresBeforeEmitted = perrors.NewValidation("expires_before_emitted", nil)
	errStopLossWrongSide    = perrors.NewValidation("stop_loss_wrong_side", nil)
	errTakeProfitWrongSide  = perrors.NewValidation("take_profit_wrong_side", nil)
)

// DeadLetterItem is a candidate that could not be classified at all (a pure
// step raised an unexpected error), counted and routed aside rather than
// blocking the pipeline.
type DeadLetterItem struct {
	Candidate types.SignalCandidate
	Err       error
}

// Config wires a Processor's subcomponents and worker pool.
type Config struct {
	Router      RouterConfig
	Dedup       DedupConfig
	Correlation CorrelationConfig
	Reinforcer  ReinforcerConfig
	// RecentWindow bounds how long candidates stay in the shared recent-entry
	// index used by dedup's same-side lookup and the router's ambiguity
	// check; it should be at least Dedup.Window.
	RecentWindow time.Duration
	Pool         workers.PoolConfig
}

// DefaultConfig returns every subcomponent's spec-default configuration.
func DefaultConfig() Config {
	return Config{
		Router:       DefaultRouterConfig(),
		Dedup:        DefaultDedupConfig(),
		Correlation:  DefaultCorrelationConfig(),
		Reinforcer:   DefaultReinforcerConfig(),
		RecentWindow: 15 * time.Minute,
		Pool:         workers.DefaultPoolConfig("preeval"),
	}
}

type recentEntry struct {
	candidate  types.SignalCandidate
	receivedAt time.Time
}

// Processor is P2's top-level component.
type Processor struct {
	logger  *zap.Logger
	config  Config
	store   *paramstore.Store
	metrics *metrics.Registry
	pool    *workers.Pool

	router      *Router
	dedup       *Deduplicator
	correlator  *Correlator
	gate        *Gate
	reinforcer  *Reinforcer

	mu       sync.Mutex
	bySymbol map[string][]recentEntry

	in         chan types.SignalCandidate
	out        chan types.SignalCandidate
	deadLetter chan DeadLetterItem

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Processor wired to the shared parameter store and metrics
// registry.
func New(logger *zap.Logger, store *paramstore.Store, reg *metrics.Registry, config Config) *Processor {
	if config.RecentWindow <= 0 {
		config.RecentWindow = 15 * time.Minute
	}
	return &Processor{
		logger:     logger.Named("preeval"),
		config:     config,
		store:      store,
		metrics:    reg,
		pool:       workers.NewPool(logger, config.Pool),
		router:     NewRouter(config.Router),
		dedup:      NewDeduplicator(config.Dedup),
		correlator: NewCorrelator(config.Correlation),
		gate:       NewGate(),
		reinforcer: NewReinforcer(config.Reinforcer),
		bySymbol:   make(map[string][]recentEntry),
		in:         make(chan types.SignalCandidate, 4096),
		out:        make(chan types.SignalCandidate, 4096),
		deadLetter: make(chan DeadLetterItem, 256),
	}
}

// In returns the channel P1's candidate stream should be forwarded onto.
func (p *Processor) In() chan<- types.SignalCandidate { return p.in }

// Out returns the vetted-candidate stream P3 consumes.
func (p *Processor) Out() <-chan types.SignalCandidate { return p.out }

// DeadLetters returns the channel of candidates a pure step failed to
// classify.
func (p *Processor) DeadLetters() <-chan DeadLetterItem { return p.deadLetter }

// Run starts the worker pool draining In() into Out()/DeadLetters(), until
// ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(runCtx)
	}()
}

// Stop cancels the run loop and waits for in-flight work to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.pool.Wait()
}

func (p *Processor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case candidate, ok := <-p.in:
			if !ok {
				return
			}
			c := candidate
			// Submit blocks until the semaphore admits the task and the task
			// itself returns, so it must be spawned rather than awaited here —
			// otherwise this single loop goroutine serializes every candidate
			// through the pool one at a time regardless of NumWorkers. Tracked
			// on p.wg so Stop still drains every in-flight submission.
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				_ = p.pool.Submit(ctx, func(taskCtx context.Context) error {
					p.handle(taskCtx, c)
					return nil
				})
			}()
		}
	}
}

func (p *Processor) handle(ctx context.Context, candidate types.SignalCandidate) {
	vetted, lane, dropped, reason := p.safeProcess(ctx, candidate)
	if p.metrics != nil {
		p.metrics.LaneDistribution.WithLabelValues(string(lane)).Inc()
	}
	if dropped {
		if p.metrics != nil {
			p.metrics.DroppedTotal.WithLabelValues("p2", string(reason)).Inc()
		}
		return
	}
	select {
	case p.out <- vetted:
	case <-ctx.Done():
	default:
		if p.metrics != nil {
			p.metrics.DroppedTotal.WithLabelValues("p2", "queue_full").Inc()
		}
	}
}

func (p *Processor) safeProcess(ctx context.Context, candidate types.SignalCandidate) (vetted types.SignalCandidate, lane Lane, dropped bool, reason DroppedReason) {
	defer func() {
		if r := recover(); r != nil {
			p.deadLetter <- DeadLetterItem{Candidate: candidate, Err: perrors.NewFatal("preeval_panic", nil)}
			dropped = true
			reason = DroppedInvalid
		}
	}()
	return p.Process(ctx, candidate)
}

// Process runs one candidate through routing, dedup, correlation, and the
// quality gate. It
// never blocks the caller on I/O; all three steps are pure functions over
// the candidate and the processor's in-memory recent-candidate index.
func (p *Processor) Process(ctx context.Context, candidate types.SignalCandidate) (vetted types.SignalCandidate, lane Lane, dropped bool, reason DroppedReason) {
	if err := ctx.Err(); err != nil {
		return candidate, LaneStandard, true, DroppedDeadline
	}
	if err := types.ValidateCandidate(&candidate); err != nil {
		return candidate, LaneStandard, true, DroppedInvalid
	}
	if err := semanticErrors(candidate); err != nil {
		select {
		case p.deadLetter <- DeadLetterItem{Candidate: candidate, Err: perrors.NewValidation("semantic_check_failed", err)}:
		default:
		}
		return candidate, LaneStandard, true, DroppedInvalid
	}

	now := time.Now()
	params := p.store.Get()

	entryPrice, _ := candidate.EntryPrice.Float64()
	p.correlator.Observe(candidate.Symbol, entryPrice)

	sameSide := p.sameSideWithin(candidate.Symbol, candidate.Direction, now, p.config.Dedup.Window)
	dedupResult := p.dedup.Evaluate(candidate, sameSide)
	if dedupResult.Duplicate && dedupResult.Suppressed {
		p.recordEntry(candidate, now)
		return candidate, LaneStandard, true, DroppedDuplicate
	}

	ambiguous := p.ambiguousWithin(candidate.Symbol, candidate.Direction, now)
	marketStress := candidate.FeatureSnapshot["market_stress"]
	baseLane := p.router.Select(candidate, marketStress, ambiguous)
	queueDepth := len(p.in)
	finalLane, degradation := p.router.Degrade(baseLane, queueDepth)
	if degradation != nil && p.metrics != nil {
		p.metrics.DegradationsTotal.WithLabelValues(string(degradation.From), string(degradation.To), degradation.Cause).Inc()
	}

	for _, peer := range p.peersExcluding(candidate.Symbol, now, p.config.Dedup.Window) {
		outcome, _ := p.correlator.Evaluate(candidate, peer)
		switch outcome {
		case OutcomeConflict:
			if candidate.Quality.Composite(params.Parameters) < peer.Quality.Composite(params.Parameters) {
				candidate.Priority = types.PriorityLow
			}
		case OutcomeReinforce:
			bump := p.correlator.ReinforceCap()
			candidate.Confidence = minFloat(1, candidate.Confidence+bump)
		}
	}

	composite, band, ok := p.gate.Evaluate(candidate, params)
	p.recordEntry(candidate, now)
	if !ok {
		if composite >= params.Float("quality_gate_floor", 0.4)*0.9 {
			// On the edge of the floor: track for delayed-observation
			// reinforcement instead of dropping outright.
			p.reinforcer.Track(candidate, entryPrice, now)
		}
		return candidate, finalLane, true, DroppedBelowFloor
	}
	if candidate.Priority != types.PriorityLow {
		candidate.Priority = band
	}
	candidate = p.applyReinforcements(candidate, entryPrice, now)
	return candidate, finalLane, false, ""
}

// applyReinforcements feeds this candidate's entry price as a fresh market
// observation for its symbol; any previously tracked candidates whose
// predicted direction is now confirmed are re-promoted to the Standard lane
// and re-emitted onto Out() tagged Reinforced. The candidate passed in is returned
// unmodified.
func (p *Processor) applyReinforcements(candidate types.SignalCandidate, price float64, now time.Time) types.SignalCandidate {
	for _, reinforced := range p.reinforcer.Observe(candidate.Symbol, price, now) {
		select {
		case p.out <- reinforced:
			if p.metrics != nil {
				p.metrics.LaneDistribution.WithLabelValues(string(LaneStandard)).Inc()
			}
		default:
			if p.metrics != nil {
				p.metrics.DroppedTotal.WithLabelValues("p2", "queue_full").Inc()
			}
		}
	}
	return candidate
}

// semanticErrors runs the cross-field checks ValidateCandidate's struct tags
// can't express — stop-loss/take-profit on the wrong side of entry for the
// candidate's direction, or an expiry before emission — accumulating every
// violation via go-multierror instead of stopping at the first, so a dead-
// lettered candidate's diagnostic carries its full failure set.
func semanticErrors(c types.SignalCandidate) error {
	var errs *multierror.Error
	if !c.ExpiresAt.IsZero() && !c.EmittedAt.IsZero() && !c.ExpiresAt.After(c.EmittedAt) {
		errs = multierror.Append(errs, errExpiresBeforeEmitted)
	}
	if !c.StopLoss.IsZero() && !c.EntryPrice.IsZero() {
		switch c.Direction {
		case types.DirectionLong:
			if c.StopLoss.GreaterThanOrEqual(c.EntryPrice) {
				errs = multierror.Append(errs, errStopLossWrongSide)
			}
		case types.DirectionShort:
			if c.StopLoss.LessThanOrEqual(c.EntryPrice) {
				errs = multierror.Append(errs, errStopLossWrongSide)
			}
		}
	}
	if !c.TakeProfit.IsZero() && !c.EntryPrice.IsZero() {
		switch c.Direction {
		case types.DirectionLong:
			if c.TakeProfit.LessThanOrEqual(c.EntryPrice) {
				errs = multierror.Append(errs, errTakeProfitWrongSide)
			}
		case types.DirectionShort:
			if c.TakeProfit.GreaterThanOrEqual(c.EntryPrice) {
				errs = multierror.Append(errs, errTakeProfitWrongSide)
			}
		}
	}
	return errs.ErrorOrNil()
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func (p *Processor) recordEntry(candidate types.SignalCandidate, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := append(p.bySymbol[candidate.Symbol], recentEntry{candidate: candidate, receivedAt: now})
	cutoff := now.Add(-p.config.RecentWindow)
	pruned := list[:0]
	for _, e := range list {
		if e.receivedAt.After(cutoff) {
			pruned = append(pruned, e)
		}
	}
	p.bySymbol[candidate.Symbol] = pruned
}

func (p *Processor) sameSideWithin(symbol string, direction types.Direction, now time.Time, window time.Duration) []types.SignalCandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-window)
	var out []types.SignalCandidate
	for _, e := range p.bySymbol[symbol] {
		if e.candidate.Direction == direction && e.receivedAt.After(cutoff) {
			out = append(out, e.candidate)
		}
	}
	return out
}

func (p *Processor) ambiguousWithin(symbol string, direction types.Direction, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-time.Duration(p.config.Router.AmbiguityWindowSeconds * float64(time.Second)))
	for _, e := range p.bySymbol[symbol] {
		if e.candidate.Direction != direction && e.candidate.StrategyTag != "" && e.receivedAt.After(cutoff) {
			return true
		}
	}
	return false
}

func (p *Processor) peersExcluding(symbol string, now time.Time, window time.Duration) []types.SignalCandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-window)
	latest := make(map[string]types.SignalCandidate)
	for sym, list := range p.bySymbol {
		if sym == symbol || len(list) == 0 {
			continue
		}
		last := list[len(list)-1]
		if last.receivedAt.After(cutoff) {
			latest[sym] = last.candidate
		}
	}
	out := make([]types.SignalCandidate, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	return out
}

// Snapshot is a point-in-time view of P2's queue state, for this
// `metrics()` operation.
type Snapshot struct {
	InQueueDepth  int
	OutQueueDepth int
	TrackedSymbols int
}

// Metrics returns P2's current queue-depth snapshot.
func (p *Processor) Metrics() Snapshot {
	p.mu.Lock()
	tracked := len(p.bySymbol)
	p.mu.Unlock()
	return Snapshot{InQueueDepth: len(p.in), OutQueueDepth: len(p.out), TrackedSymbols: tracked}
}
