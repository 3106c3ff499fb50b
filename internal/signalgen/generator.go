package signalgen

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/signal-pipeline/internal/metrics"
	"github.com/atlas-desktop/signal-pipeline/internal/paramstore"
	"github.com/atlas-desktop/signal-pipeline/internal/signalgen/exchange"
	"github.com/atlas-desktop/signal-pipeline/internal/signalgen/strategy"
	"github.com/atlas-desktop/signal-pipeline/pkg/perrors"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// Config wires a Generator's subcomponents.
type Config struct {
	Symbols        []string
	Timeframes     []types.Timeframe
	Quorum         int // minimum healthy exchanges required by subscribe()
	HistoryWindow  int // bars of IndicatorFrame history kept per (symbol,timeframe)
	Bar            BarAggregatorConfig
	StateMachine   StateMachineConfig
	Exchange       exchange.SupervisorConfig
}

// DefaultConfig returns a Generator config with every subcomponent on its
// own defaults and a quorum of 1.
func DefaultConfig() Config {
	return Config{
		Quorum:        1,
		HistoryWindow: 200,
		Bar:           DefaultBarAggregatorConfig(),
		StateMachine:  DefaultStateMachineConfig(),
		Exchange:      exchange.DefaultSupervisorConfig(),
	}
}

// Generator is P1's top-level component: it owns exchange supervisors, bar
// aggregation, indicator computation, strategy evaluation, and the outbound
// candidate stream.
type Generator struct {
	logger  *zap.Logger
	config  Config
	store   *paramstore.Store
	metrics *metrics.Registry

	bars       *BarAggregator
	graph      *IndicatorGraph
	states     *StateMachine
	strategies *strategy.Registry

	supervisors []*exchange.Supervisor
	ticks       chan types.MarketTick

	mu      sync.Mutex
	history map[string][]types.IndicatorFrame // keyed by symbol|timeframe

	out chan types.SignalCandidate

	paramsMu sync.RWMutex
	params   types.ParameterSet

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Generator. connectors supplies one Connector per exchange;
// an empty set is valid for tests that feed ticks directly via Ingest.
func New(logger *zap.Logger, store *paramstore.Store, reg *metrics.Registry, connectors []exchange.Connector, config Config) *Generator {
	if config.Quorum <= 0 {
		config.Quorum = 1
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = 200
	}
	g := &Generator{
		logger:     logger.Named("signalgen"),
		config:     config,
		store:      store,
		metrics:    reg,
		bars:       NewBarAggregator(config.Bar),
		graph:      NewIndicatorGraph(BuiltinNodes()),
		states:     NewStateMachine(config.StateMachine),
		strategies: strategy.NewRegistry(logger),
		ticks:      make(chan types.MarketTick, 4096),
		history:    make(map[string][]types.IndicatorFrame),
		out:        make(chan types.SignalCandidate, 4096),
		params:     store.Get(),
	}
	for _, c := range connectors {
		g.supervisors = append(g.supervisors, exchange.NewSupervisor(logger, c, config.Exchange))
	}
	return g
}

// Subscribe starts every exchange supervisor and the tick-processing loop,
// returning once config.Quorum supervisors report healthy or the bounded
// wait elapses).
func (g *Generator) Subscribe(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	for _, sup := range g.supervisors {
		g.wg.Add(1)
		go func(s *exchange.Supervisor) {
			defer g.wg.Done()
			s.Run(runCtx, g.ticks)
		}(sup)
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.processLoop(runCtx)
	}()

	unsubscribe := g.store.Subscribe(func(ps types.ParameterSet) {
		g.paramsMu.Lock()
		g.params = ps
		g.paramsMu.Unlock()
	})
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		<-runCtx.Done()
		unsubscribe()
	}()

	if len(g.supervisors) == 0 {
		return nil
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		healthy := 0
		for _, sup := range g.supervisors {
			if sup.Healthy(time.Now()) {
				healthy++
			}
		}
		if healthy >= g.config.Quorum {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return perrors.NewTransient("no_healthy_exchange", nil)
}

func (g *Generator) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-g.ticks:
			if !ok {
				return
			}
			g.ingest(tick, time.Now())
		}
	}
}

// Ingest feeds a single tick through bar aggregation directly, bypassing the
// exchange supervisors; used by tests and by any embedding caller that
// already has its own market-data source.
func (g *Generator) Ingest(tick types.MarketTick) {
	g.ingest(tick, time.Now())
}

func (g *Generator) ingest(tick types.MarketTick, now time.Time) {
	for _, tf := range g.config.Timeframes {
		g.states.OnTick(tick.Symbol, tf, now)
		closed := g.bars.Ingest(tick.Symbol, tf, tick, now)
		if closed == nil {
			continue
		}
		g.states.OnBarClosed(tick.Symbol, tf)
		g.onBarClosed(tick.Symbol, tf, *closed, now)
	}
}

func (g *Generator) onBarClosed(symbol string, tf types.Timeframe, bar types.OHLCV, now time.Time) {
	histKey := symbol + "|" + string(tf)
	g.mu.Lock()
	history := append(g.history[histKey], types.IndicatorFrame{Bar: bar})
	if len(history) > g.config.HistoryWindow {
		history = history[len(history)-g.config.HistoryWindow:]
	}
	bars := make([]types.OHLCV, len(history))
	for i, h := range history {
		bars[i] = h.Bar
	}
	g.mu.Unlock()

	values, completeness := g.graph.Evaluate(bars)
	frame := types.IndicatorFrame{
		Key:              types.IndicatorKey{Symbol: symbol, Timeframe: tf, CloseTime: bar.CloseTime},
		Bar:              bar,
		Values:           values,
		DataCompleteness: completeness,
		PublishedAt:      now,
	}

	g.mu.Lock()
	history[len(history)-1] = frame
	g.history[histKey] = history
	historySnapshot := append([]types.IndicatorFrame(nil), history[:len(history)-1]...)
	g.mu.Unlock()

	if g.states.State(symbol, tf) != StateActive {
		return
	}

	g.paramsMu.RLock()
	params := g.params
	g.paramsMu.RUnlock()

	minStrength := params.Float("min_strength_threshold", 0.3)
	minConfidence := params.Float("min_confidence_threshold", 0.55)

	for _, s := range g.strategies.All() {
		candidate, err := g.safeEvaluate(s, frame, historySnapshot)
		if err != nil || candidate == nil {
			continue
		}
		if candidate.Strength < minStrength || candidate.Confidence < minConfidence {
			continue
		}
		if err := types.ValidateCandidate(candidate); err != nil {
			continue
		}
		if g.metrics != nil {
			g.metrics.CandidatesEmitted.WithLabelValues("p1", symbol).Inc()
		}
		select {
		case g.out <- *candidate:
		default:
			if g.metrics != nil {
				g.metrics.DroppedTotal.WithLabelValues("p1", "queue_full").Inc()
			}
		}
	}
}

func (g *Generator) safeEvaluate(s strategy.Strategy, frame types.IndicatorFrame, history []types.IndicatorFrame) (candidate *types.SignalCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = perrors.NewFatal("strategy_panic", nil)
		}
	}()
	return s.Evaluate(frame, history)
}

// StateOf returns the current lifecycle state for a (symbol, timeframe)
// pair, mainly useful to tests and diagnostics.
func (g *Generator) StateOf(symbol string, tf types.Timeframe) State {
	return g.states.State(symbol, tf)
}

// Candidates returns the channel of emitted SignalCandidates: "infinite, non-restartable").
func (g *Generator) Candidates() <-chan types.SignalCandidate {
	return g.out
}

// ReloadParameters is exposed for callers that want to force an immediate
// parameter swap outside the paramstore subscription (e.g. tests); normal
// operation relies on the Subscribe-time store subscription.
func (g *Generator) ReloadParameters(ps types.ParameterSet) {
	g.paramsMu.Lock()
	g.params = ps
	g.paramsMu.Unlock()
}

// Stop cancels subscriptions and waits for background goroutines to exit.
func (g *Generator) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}
