package execpolicy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

// decisionInputs bundles everything evaluate needs beyond the candidate
// itself, so the ordered-rule logic in evaluate stays a pure function of its
// arguments and is easy to test in isolation from Policy's locking.
type decisionInputs struct {
	params    types.ParameterSet
	candidate types.SignalCandidate
	open      map[types.Direction]*types.Position
	ledger    *RiskLedger
	lastReplaceAt time.Time
	globalOpenCount int
	now       time.Time
}

// evaluate runs the four decision rules in order and returns the resulting decision along with
// the position-state mutation the caller should apply, if any.
func evaluate(in decisionInputs) (types.ExecutionDecision, positionEffect) {
	composite := in.candidate.Quality.Composite(in.params.Parameters)
	replaceMargin := in.params.FloatWithOverlay(overlayScopeFor(in.candidate), "replace_margin", 0.15)
	strengthenMargin := in.params.FloatWithOverlay(overlayScopeFor(in.candidate), "strengthen_margin", 0.07)
	maxDailyTrades := int(in.params.Float("max_daily_trades_per_symbol", 20))
	replaceCooldown := time.Duration(in.params.Float("replace_cooldown_seconds", 300)) * time.Second
	maxSymbolPositions := int(in.params.Float("max_open_positions_per_symbol", 1))
	maxGlobalPositions := int(in.params.Float("max_global_open_positions", 50))

	sameSide := in.open[in.candidate.Direction]
	oppositeSide := in.open[in.candidate.Direction.Opposite()]

	// Rule 1: IGNORE.
	if sameSide != nil && sameSide.OriginConfidence >= in.candidate.Confidence &&
		candidateExpiresSoon(in.params, in.candidate, in.now) {
		return ignore(in.candidate, types.RationaleWeakerOrigin), noEffect()
	}
	if in.ledger.Exhausted(in.candidate.Symbol, maxDailyTrades, in.now) {
		return ignore(in.candidate, types.RationaleRiskBudgetExhausted), noEffect()
	}
	if !in.lastReplaceAt.IsZero() && in.now.Sub(in.lastReplaceAt) < replaceCooldown {
		return ignore(in.candidate, types.RationaleReplaceCooldown), noEffect()
	}

	// Rule 2: REPLACE.
	if oppositeSide != nil && composite > oppositeSide.OriginComposite+replaceMargin {
		if oppositeSide.Status != types.PositionOpen {
			return ignore(in.candidate, types.RationaleContention), noEffect()
		}
		return closeAndOpen(in, oppositeSide, composite)
	}

	// Rule 3: STRENGTHEN. This widens take-profit on the existing position
	// (it never narrows it) and keeps its stop-loss and size unchanged, so it
	// never touches the exposure ledger.
	if sameSide != nil && composite > sameSide.OriginComposite+strengthenMargin {
		return strengthen(in, sameSide, composite)
	}

	// Rule 4: NEW.
	if sameSide == nil && len(in.open) < maxSymbolPositions && in.globalOpenCount < maxGlobalPositions {
		return openNew(in, composite)
	}

	return ignore(in.candidate, types.RationalePositionCapReached), noEffect()
}

// candidateExpiresSoon resolves this "candidate's time-to-expiry is
// shorter" clause (an Open Question the distillation left unresolved): a
// candidate is treated as too short-lived to justify overriding an
// equal-or-stronger open position when less than the dedup window remains
// before it expires, reusing the existing dedup_window_minutes parameter
// rather than introducing an undefined one.
func candidateExpiresSoon(params types.ParameterSet, candidate types.SignalCandidate, now time.Time) bool {
	if candidate.ExpiresAt.IsZero() {
		return false
	}
	window := time.Duration(params.Float("dedup_window_minutes", 15)) * time.Minute
	return candidate.ExpiresAt.Sub(now) < window
}

func overlayScopeFor(candidate types.SignalCandidate) string {
	return "category:" + candidate.Symbol
}

// positionEffect describes how Policy should mutate its per-symbol state
// after evaluate returns; kept separate from the decision so evaluate stays
// side-effect free.
type positionEffect struct {
	kind          effectKind
	closeDirection types.Direction
	newPosition   *types.Position
	recordReplace bool
}

type effectKind int

const (
	effectNone effectKind = iota
	effectOpenNew
	effectCloseAndOpen
	effectStrengthen
)

func noEffect() positionEffect { return positionEffect{kind: effectNone} }

func ignore(candidate types.SignalCandidate, rationale types.RationaleCode) types.ExecutionDecision {
	return types.ExecutionDecision{
		ID:          uuid.NewString(),
		CandidateID: candidate.ID,
		Verdict:     types.VerdictIgnore,
		Rationale:   rationale,
		Timestamp:   time.Now(),
	}
}

func openNew(in decisionInputs, composite float64) (types.ExecutionDecision, positionEffect) {
	stop, take, rr := clampRisk(in.params, in.candidate)
	floor := in.params.Float("risk_reward_floor", 1.2)
	if rr.LessThan(decimal.NewFromFloat(floor)) {
		return ignore(in.candidate, types.RationaleRiskRewardFloor), noEffect()
	}

	pos := &types.Position{
		ID:                uuid.NewString(),
		Symbol:            in.candidate.Symbol,
		Direction:         in.candidate.Direction,
		EntryPrice:        in.candidate.EntryPrice,
		EntryTime:         in.now,
		StopLoss:          stop,
		TakeProfit:        take,
		Size:              decimal.NewFromInt(1),
		OriginCandidateID: in.candidate.ID,
		OriginComposite:   composite,
		OriginConfidence:  in.candidate.Confidence,
		Status:            types.PositionOpen,
	}
	decision := types.ExecutionDecision{
		ID:               uuid.NewString(),
		CandidateID:      in.candidate.ID,
		Verdict:          types.VerdictNew,
		TargetPositionID: pos.ID,
		Rationale:        types.RationaleNoExistingPosition,
		RiskRewardRatio:  rr,
		StopLoss:         stop,
		TakeProfit:       take,
		Timestamp:        in.now,
	}
	return decision, positionEffect{kind: effectOpenNew, newPosition: pos}
}

func closeAndOpen(in decisionInputs, opposing *types.Position, composite float64) (types.ExecutionDecision, positionEffect) {
	stop, take, rr := clampRisk(in.params, in.candidate)
	floor := in.params.Float("risk_reward_floor", 1.2)
	if rr.LessThan(decimal.NewFromFloat(floor)) {
		return ignore(in.candidate, types.RationaleRiskRewardFloor), noEffect()
	}

	pos := &types.Position{
		ID:                uuid.NewString(),
		Symbol:            in.candidate.Symbol,
		Direction:         in.candidate.Direction,
		EntryPrice:        in.candidate.EntryPrice,
		EntryTime:         in.now,
		StopLoss:          stop,
		TakeProfit:        take,
		Size:              decimal.NewFromInt(1),
		OriginCandidateID: in.candidate.ID,
		OriginComposite:   composite,
		OriginConfidence:  in.candidate.Confidence,
		Status:            types.PositionOpen,
	}
	decision := types.ExecutionDecision{
		ID:               uuid.NewString(),
		CandidateID:      in.candidate.ID,
		Verdict:          types.VerdictReplace,
		TargetPositionID: opposing.ID,
		Rationale:        types.RationaleOppositeOutscored,
		RiskRewardRatio:  rr,
		StopLoss:         stop,
		TakeProfit:       take,
		Timestamp:        in.now,
	}
	return decision, positionEffect{
		kind:           effectCloseAndOpen,
		closeDirection: opposing.Direction,
		newPosition:    pos,
		recordReplace:  true,
	}
}

func strengthen(in decisionInputs, existing *types.Position, composite float64) (types.ExecutionDecision, positionEffect) {
	_, take, rr := clampRisk(in.params, in.candidate)
	if (existing.Direction == types.DirectionLong && take.LessThan(existing.TakeProfit)) ||
		(existing.Direction == types.DirectionShort && take.GreaterThan(existing.TakeProfit)) {
		take = existing.TakeProfit
	}
	updated := *existing
	updated.TakeProfit = take
	updated.OriginComposite = composite

	decision := types.ExecutionDecision{
		ID:               uuid.NewString(),
		CandidateID:      in.candidate.ID,
		Verdict:          types.VerdictStrengthen,
		TargetPositionID: existing.ID,
		Rationale:        types.RationaleSameSideStronger,
		RiskRewardRatio:  rr,
		StopLoss:         existing.StopLoss,
		TakeProfit:       take,
		Timestamp:        in.now,
	}
	return decision, positionEffect{kind: effectStrengthen, newPosition: &updated}
}
