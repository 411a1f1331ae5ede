package guard

import (
	"fmt"
	"time"

	"ai-paper-trader/internal/types"
)

// Stable rule tags reported on rejections. These appear in the audit
// database and in logs; renaming one breaks postmortem aggregation.
const (
	RuleModePaused      = "mode_paused"
	RuleBreakerPause    = "circuit_breaker_pause"
	RuleMaxPositionSize = "max_position_size"
	RuleMaxTradeValue   = "max_trade_value"
	RuleConfluence      = "require_confluence"
	RuleMaxDailyTrades  = "max_daily_trades"
	RuleBlockedHours    = "blocked_hours"
)

// Validator gates proposed trades against the active guardrails, the
// circuit breaker and any manual override. It is pure with respect to the
// ledger: the caller supplies today's executed trade count.
type Validator struct {
	Guardrails types.Guardrails
	Breaker    *CircuitBreaker
	Override   *Override

	// Now is injectable for tests; defaults to time.Now. Blocked hours
	// are evaluated in UTC.
	Now func() time.Time
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Validate runs the rule chain in fixed order and short-circuits on the
// first failure, so a multi-violation trade always reports the same tag.
func (v *Validator) Validate(proposed types.ProposedTrade, hasConfluence bool, tradesToday int) types.TradeResult {
	g := v.Guardrails

	if g.Mode == types.ModePaused {
		return reject(proposed, RuleModePaused, "trading is paused")
	}

	if v.Breaker != nil && v.Breaker.Triggered() && !v.Breaker.CanResume() {
		return reject(proposed, RuleBreakerPause,
			fmt.Sprintf("circuit breaker active until %s", v.Breaker.ResumeAt().UTC().Format(time.RFC3339)))
	}

	maxPct := EffectiveMaxPosition(v.Override, g.MaxPositionPct)
	if proposed.QuantityPercent > maxPct {
		return reject(proposed, RuleMaxPositionSize,
			fmt.Sprintf("position size %.1f%% exceeds cap %.1f%%", proposed.QuantityPercent, maxPct))
	}

	if proposed.EstimatedValue > g.MaxSingleTradeValue {
		return reject(proposed, RuleMaxTradeValue,
			fmt.Sprintf("trade value $%.2f exceeds limit $%.2f", proposed.EstimatedValue, g.MaxSingleTradeValue))
	}

	if g.RequireConfluence && !hasConfluence {
		return reject(proposed, RuleConfluence, "no confluence signal support for "+proposed.Symbol)
	}

	if tradesToday >= g.MaxDailyTrades {
		return reject(proposed, RuleMaxDailyTrades,
			fmt.Sprintf("daily trade limit reached (%d)", g.MaxDailyTrades))
	}

	hour := v.now().UTC().Hour()
	for _, r := range g.BlockedHours {
		if r.Contains(hour) {
			return reject(proposed, RuleBlockedHours,
				fmt.Sprintf("hour %02d UTC falls in blocked window %02d-%02d", hour, r.Start, r.End))
		}
	}

	return types.TradeResult{
		Verdict:  types.VerdictExecuted,
		Symbol:   proposed.Symbol,
		Action:   proposed.Action,
		Quantity: proposed.Quantity,
		Proposed: proposed,
	}
}

func reject(proposed types.ProposedTrade, rule, reason string) types.TradeResult {
	return types.TradeResult{
		Verdict:       types.VerdictRejected,
		Reason:        reason,
		RuleTriggered: rule,
		Proposed:      proposed,
	}
}
