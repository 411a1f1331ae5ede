// Package guard implements the trading guardrails: the per-mode limit
// table, the circuit breaker, the timed override and the decision
// validator that gates every trade before it reaches the ledger.
package guard

import "ai-paper-trader/internal/types"

// ForMode returns the guardrail set for a trading mode. The table is
// fixed; a mode switch replaces the whole set.
func ForMode(mode types.TradingMode) types.Guardrails {
	switch mode {
	case types.ModeAggressive:
		return types.Guardrails{
			Mode:                mode,
			MaxPositionPct:      33.0,
			MaxDailyTrades:      20,
			MaxSingleTradeValue: 100_000,
			RequireConfluence:   false,
			BlockedHours:        nil,
		}
	case types.ModeConservative:
		return types.Guardrails{
			Mode:                mode,
			MaxPositionPct:      5.0,
			MaxDailyTrades:      5,
			MaxSingleTradeValue: 25_000,
			RequireConfluence:   true,
			BlockedHours:        []types.HourRange{{Start: 9, End: 10}, {Start: 15, End: 16}},
		}
	case types.ModePaused:
		return types.Guardrails{
			Mode:                mode,
			MaxPositionPct:      0,
			MaxDailyTrades:      0,
			MaxSingleTradeValue: 0,
			RequireConfluence:   true,
			BlockedHours:        []types.HourRange{{Start: 0, End: 24}},
		}
	default:
		return types.Guardrails{
			Mode:                types.ModeNormal,
			MaxPositionPct:      10.0,
			MaxDailyTrades:      10,
			MaxSingleTradeValue: 50_000,
			RequireConfluence:   true,
			BlockedHours:        []types.HourRange{{Start: 9, End: 9}, {Start: 15, End: 16}},
		}
	}
}
