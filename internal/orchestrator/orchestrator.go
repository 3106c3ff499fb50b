// Package orchestrator wires the five pipeline phases — signal generation,
// pre-evaluation, execution policy, output dispatch, and adaptive learning —
// into one runnable Pipeline, and owns the collaborators shared across them:
// the parameter store, the event bus, the metrics registry, and the regime
// detector. One top-level struct owns every collaborator, with a config
// struct carrying sane defaults and an explicit Start/Stop lifecycle.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/events"
	"github.com/atlas-desktop/signal-pipeline/internal/execpolicy"
	"github.com/atlas-desktop/signal-pipeline/internal/learning"
	"github.com/atlas-desktop/signal-pipeline/internal/metrics"
	"github.com/atlas-desktop/signal-pipeline/internal/notify"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/internal/preeval"
	"github.com/atlas-desktop/signal-pipeline/internal/regime"
	"github.com/atlas-desktop/signal-pipeline/internal/signalgen"
	"github.com/atlas-desktop/signal-pipeline/internal/signalgen/exchange"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// Config wires every phase's own config together. Zero-value fields fall
// back to that phase's DefaultConfig().
type Config struct {
	Events     events.Config
	SignalGen  signalgen.Config
	PreEval    preeval.Config
	ExecPolicy execpolicy.Config
	Notify     notify.Config
	Learning   learning.Config
	Regime     regime.Config

	// DecisionWorkers is the number of goroutines draining P2's vetted stream
	// into P3 Decide calls; P3 itself serializes per symbol, so this only
	// bounds how much P2->P3 handoff runs concurrently.
	DecisionWorkers int
}

// DefaultConfig returns a Config with every phase on its spec defaults,
// scoped to symbols and timeframes.
func DefaultConfig(symbols []string, timeframes []types.Timeframe) Config {
	signalCfg := signalgen.DefaultConfig()
	signalCfg.Symbols = symbols
	signalCfg.Timeframes = timeframes
	return Config{
		Events:          events.DefaultConfig(),
		SignalGen:       signalCfg,
		PreEval:         preeval.DefaultConfig(),
		ExecPolicy:      execpolicy.DefaultConfig(),
		Notify:          notify.DefaultConfig(),
		Learning:        learning.DefaultConfig(),
		Regime:          regime.DefaultConfig(),
		DecisionWorkers: 4,
	}
}

// Pipeline is the running, wired-together system: P1 -> P2 -> P3 -> P4, with
// P5 fed by outcomes and publishing ParameterSet revisions back into the
// store P1 and P3 both read from.
type Pipeline struct {
	logger *zap.Logger
	config Config

	bus     *events.Bus
	store   *paramstore.Store
	metrics *metrics.Registry
	regime  *regime.Detector

	generator  *signalgen.Generator
	preeval    *preeval.Processor
	policy     *execpolicy.Policy
	dispatcher *notify.Dispatcher
	learner    *learning.Engine

	priceMu   sync.Mutex
	lastPrice map[string]float64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a Pipeline. connectors feed P1's exchange supervisors; an
// empty slice is valid for callers that drive ticks directly via IngestTick.
// sink is where P4 ultimately delivers notifications (e.g. a webhook or chat
// client); promReg registers the metrics registry and may be nil in tests.
func New(logger *zap.Logger, connectors []exchange.Connector, sink notify.Sink, promReg prometheus.Registerer, config Config) *Pipeline {
	bus := events.NewBus(logger, config.Events)
	reg := metrics.NewRegistry(promReg)
	store := paramstore.New(logger, bus)
	regimeDetector := regime.NewDetector(config.Regime)

	return &Pipeline{
		logger:     logger.Named("orchestrator"),
		config:     config,
		bus:        bus,
		store:      store,
		metrics:    reg,
		regime:     regimeDetector,
		generator:  signalgen.New(logger, store, reg, connectors, config.SignalGen),
		preeval:    preeval.New(logger, store, reg, config.PreEval),
		policy:     execpolicy.New(logger, store, bus, reg, config.ExecPolicy),
		dispatcher: notify.New(logger, sink, reg, config.Notify),
		learner:    learning.NewEngine(logger, store, config.Learning),
		lastPrice:  make(map[string]float64),
	}
}

// Start begins every phase's background work and the P1->P2->P3->P4 handoff
// goroutines. It returns once P1's exchange supervisors reach quorum (or
// immediately, if none were configured).
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.preeval.Run(runCtx)
	p.dispatcher.Run(runCtx)

	if err := p.generator.Subscribe(runCtx); err != nil {
		p.Stop()
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.forwardCandidates(runCtx)
	}()

	for i := 0; i < p.config.DecisionWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.decisionLoop(runCtx)
		}()
	}

	return nil
}

// Stop cancels every phase and waits for their goroutines to exit.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.generator.Stop()
	p.preeval.Stop()
	p.dispatcher.Stop()
	p.wg.Wait()
	p.bus.Close()
}

// forwardCandidates drains P1's candidate stream onto P2's inbound queue.
func (p *Pipeline) forwardCandidates(ctx context.Context) {
	candidates := p.generator.Candidates()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candidates:
			if !ok {
				return
			}
			select {
			case p.preeval.In() <- c:
			case <-ctx.Done():
				return
			}
		}
	}
}

// decisionLoop drains P2's vetted stream, runs each candidate through P3,
// and forwards anything other than IGNORE to P4.
func (p *Pipeline) decisionLoop(ctx context.Context) {
	vetted := p.preeval.Out()
	for {
		select {
		case <-ctx.Done():
			return
		case candidate, ok := <-vetted:
			if !ok {
				return
			}
			p.decideAndNotify(ctx, candidate)
		}
	}
}

func (p *Pipeline) decideAndNotify(ctx context.Context, candidate types.SignalCandidate) {
	decision, err := p.policy.Decide(ctx, candidate)
	if err != nil {
		p.logger.Warn("execution policy decide failed", zap.String("symbol", candidate.Symbol), zap.Error(err))
		return
	}
	if decision.Verdict == types.VerdictIgnore {
		return
	}
	p.dispatcher.Enqueue(notify.FromDecision(candidate, decision))
	p.metrics.ObserveLatency(candidate.EmittedAt)
}

// IngestTick feeds one market tick directly into P1, bypassing the exchange
// supervisors, and folds its price into the regime detector's rolling return
// window for the tick's symbol.
func (p *Pipeline) IngestTick(tick types.MarketTick) {
	p.generator.Ingest(tick)
	price, _ := tick.Last.Float64()
	p.observeRegime(tick.Symbol, price)
}

func (p *Pipeline) observeRegime(symbol string, price float64) {
	if price <= 0 {
		return
	}
	p.priceMu.Lock()
	last, ok := p.lastPrice[symbol]
	p.lastPrice[symbol] = price
	p.priceMu.Unlock()
	if !ok || last <= 0 {
		return
	}
	p.regime.Observe(symbol, (price-last)/last)
}

// OnPositionEvent forwards a position lifecycle transition (fill, stop/take-
// profit touch, manual close) from whatever external execution collaborator
// tracks live orders into P3's position map.
func (p *Pipeline) OnPositionEvent(evt execpolicy.PositionEvent) {
	p.policy.OnPositionEvent(evt)
}

// RecordOutcome forwards a closed position's or expired candidate's outcome
// into P5, tagging it with the current regime classification for its symbol
// if the caller left RegimeLabel empty.
func (p *Pipeline) RecordOutcome(outcome types.OutcomeRecord) {
	if outcome.RegimeLabel == "" {
		outcome.RegimeLabel = string(p.regime.Current(outcome.Symbol))
	}
	if outcome.ClosedAt.IsZero() {
		outcome.ClosedAt = time.Now()
	}
	p.learner.Record(outcome)
}

// Store exposes the shared ParameterSet store, for an operator surface that
// reads/rolls back published parameter versions.
func (p *Pipeline) Store() *paramstore.Store { return p.store }

// PositionSnapshot returns P3's current per-symbol open-position map.
func (p *Pipeline) PositionSnapshot() map[string]map[types.Direction]types.Position {
	return p.policy.Snapshot()
}

// Snapshot is a point-in-time view across every phase's queue/backlog state.
type Snapshot struct {
	PreEval       preeval.Snapshot
	NotifyQueue   int
	OpenPositions int
	EventBusStats events.Stats
}

// Metrics gathers a cross-phase snapshot, mainly for diagnostics and tests.
func (p *Pipeline) Metrics() Snapshot {
	open := 0
	for _, positions := range p.policy.Snapshot() {
		open += len(positions)
	}
	return Snapshot{
		PreEval:       p.preeval.Metrics(),
		NotifyQueue:   p.dispatcher.QueueDepth(),
		OpenPositions: open,
		EventBusStats: p.bus.Stats(),
	}
}
