package signalgen

import (
	"sync"
	"time"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// State is a (symbol, timeframe) pair's signal-generation lifecycle state
//. Only ACTIVE emits candidates.
type State string

const (
	StateWarmup State = "WARMUP"
	StateActive State = "ACTIVE"
	StateStale  State = "STALE"
	StateFailed State = "FAILED"
)

type pairState struct {
	state      State
	barsSeen   int
	lastTickAt time.Time
}

// StateMachine tracks per-(symbol, timeframe) lifecycle state, transitioning
// on tick arrival and periodic health checks.
type StateMachine struct {
	mu             sync.Mutex
	pairs          map[string]*pairState
	warmupBars     int
	heartbeat      time.Duration
}

// StateMachineConfig tunes warmup length and the staleness heartbeat.
type StateMachineConfig struct {
	WarmupBars int
	Heartbeat  time.Duration
}

// DefaultStateMachineConfig requires 20 closed bars of warmup and a 2-minute
// heartbeat before a pair is marked STALE.
func DefaultStateMachineConfig() StateMachineConfig {
	return StateMachineConfig{WarmupBars: 20, Heartbeat: 2 * time.Minute}
}

// NewStateMachine creates a state machine with the given config.
func NewStateMachine(config StateMachineConfig) *StateMachine {
	if config.WarmupBars <= 0 {
		config.WarmupBars = 20
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = 2 * time.Minute
	}
	return &StateMachine{
		pairs:      make(map[string]*pairState),
		warmupBars: config.WarmupBars,
		heartbeat:  config.Heartbeat,
	}
}

func key(symbol string, tf types.Timeframe) string {
	return symbol + "|" + string(tf)
}

func (sm *StateMachine) entry(symbol string, tf types.Timeframe) *pairState {
	k := key(symbol, tf)
	p, ok := sm.pairs[k]
	if !ok {
		p = &pairState{state: StateWarmup}
		sm.pairs[k] = p
	}
	return p
}

// OnTick records tick arrival for (symbol, timeframe), recovering from STALE
// or FAILED back to ACTIVE/WARMUP as appropriate.
func (sm *StateMachine) OnTick(symbol string, tf types.Timeframe, at time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	p := sm.entry(symbol, tf)
	p.lastTickAt = at
	if p.state == StateStale || p.state == StateFailed {
		if p.barsSeen >= sm.warmupBars {
			p.state = StateActive
		} else {
			p.state = StateWarmup
		}
	}
}

// OnBarClosed records a closed bar, promoting WARMUP to ACTIVE once enough
// history has accumulated.
func (sm *StateMachine) OnBarClosed(symbol string, tf types.Timeframe) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	p := sm.entry(symbol, tf)
	p.barsSeen++
	if p.state == StateWarmup && p.barsSeen >= sm.warmupBars {
		p.state = StateActive
	}
}

// CheckHealth marks any pair silent longer than the heartbeat window STALE.
// allExchangesDown additionally marks it FAILED.
func (sm *StateMachine) CheckHealth(now time.Time, allExchangesDown func(symbol string) bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for k, p := range sm.pairs {
		if p.state == StateFailed {
			continue
		}
		if now.Sub(p.lastTickAt) > sm.heartbeat {
			if allExchangesDown != nil && allExchangesDown(symbolFromKey(k)) {
				p.state = StateFailed
			} else {
				p.state = StateStale
			}
		}
	}
}

func symbolFromKey(k string) string {
	for i := 0; i < len(k); i++ {
		if k[i] == '|' {
			return k[:i]
		}
	}
	return k
}

// State returns the current lifecycle state for (symbol, timeframe).
func (sm *StateMachine) State(symbol string, tf types.Timeframe) State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	p, ok := sm.pairs[key(symbol, tf)]
	if !ok {
		return StateWarmup
	}
	return p.state
}
