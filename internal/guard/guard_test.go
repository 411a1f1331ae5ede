package guard

import (
	"testing"
	"time"

	"ai-paper-trader/internal/types"
)

func TestForModeTable(t *testing.T) {
	tests := []struct {
		mode              types.TradingMode
		maxPositionPct    float64
		maxDailyTrades    int
		maxTradeValue     float64
		requireConfluence bool
		blockedHours      []types.HourRange
	}{
		{types.ModeAggressive, 33.0, 20, 100_000, false, nil},
		{types.ModeNormal, 10.0, 10, 50_000, true, []types.HourRange{{Start: 9, End: 9}, {Start: 15, End: 16}}},
		{types.ModeConservative, 5.0, 5, 25_000, true, []types.HourRange{{Start: 9, End: 10}, {Start: 15, End: 16}}},
		{types.ModePaused, 0, 0, 0, true, []types.HourRange{{Start: 0, End: 24}}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			g := ForMode(tt.mode)
			if g.Mode != tt.mode {
				t.Errorf("mode = %v, want %v", g.Mode, tt.mode)
			}
			if g.MaxPositionPct != tt.maxPositionPct {
				t.Errorf("MaxPositionPct = %v, want %v", g.MaxPositionPct, tt.maxPositionPct)
			}
			if g.MaxDailyTrades != tt.maxDailyTrades {
				t.Errorf("MaxDailyTrades = %v, want %v", g.MaxDailyTrades, tt.maxDailyTrades)
			}
			if g.MaxSingleTradeValue != tt.maxTradeValue {
				t.Errorf("MaxSingleTradeValue = %v, want %v", g.MaxSingleTradeValue, tt.maxTradeValue)
			}
			if g.RequireConfluence != tt.requireConfluence {
				t.Errorf("RequireConfluence = %v, want %v", g.RequireConfluence, tt.requireConfluence)
			}
			if len(g.BlockedHours) != len(tt.blockedHours) {
				t.Fatalf("BlockedHours = %v, want %v", g.BlockedHours, tt.blockedHours)
			}
			for i, r := range tt.blockedHours {
				if g.BlockedHours[i] != r {
					t.Errorf("BlockedHours[%d] = %v, want %v", i, g.BlockedHours[i], r)
				}
			}
		})
	}
}

func TestForModeMonotonicity(t *testing.T) {
	order := []types.TradingMode{
		types.ModePaused,
		types.ModeConservative,
		types.ModeNormal,
		types.ModeAggressive,
	}
	for i := 1; i < len(order); i++ {
		lo, hi := ForMode(order[i-1]), ForMode(order[i])
		if lo.MaxPositionPct >= hi.MaxPositionPct {
			t.Errorf("MaxPositionPct not increasing from %v to %v", order[i-1], order[i])
		}
		if lo.MaxDailyTrades >= hi.MaxDailyTrades {
			t.Errorf("MaxDailyTrades not increasing from %v to %v", order[i-1], order[i])
		}
	}
}

func TestCircuitBreakerDailyLoss(t *testing.T) {
	b := NewCircuitBreaker(-10.0, 5)
	b.UpdateDailyPnL(-12.0)
	reason, ok := b.ShouldTrigger()
	if !ok || reason != TriggerDailyLoss {
		t.Fatalf("ShouldTrigger() = %v, %v; want %v, true", reason, ok, TriggerDailyLoss)
	}
}

func TestCircuitBreakerDailyLossPrecedesStreak(t *testing.T) {
	b := NewCircuitBreaker(-10.0, 2)
	b.UpdateDailyPnL(-15.0)
	b.RecordLoss()
	b.RecordLoss()
	reason, ok := b.ShouldTrigger()
	if !ok || reason != TriggerDailyLoss {
		t.Fatalf("ShouldTrigger() = %v, %v; want daily loss to win over streak", reason, ok)
	}
}

func TestCircuitBreakerConsecutiveLosses(t *testing.T) {
	b := NewCircuitBreaker(-10.0, 3)
	b.UpdateDailyPnL(-2.0)
	b.RecordLoss()
	b.RecordLoss()
	if _, ok := b.ShouldTrigger(); ok {
		t.Fatal("triggered at 2 losses with limit 3")
	}
	b.RecordLoss()
	reason, ok := b.ShouldTrigger()
	if !ok || reason != TriggerConsecutiveLosses {
		t.Fatalf("ShouldTrigger() = %v, %v; want %v, true", reason, ok, TriggerConsecutiveLosses)
	}
	b.RecordWin()
	if _, ok := b.ShouldTrigger(); ok {
		t.Fatal("still triggered after a win reset the streak")
	}
}

func TestCircuitBreakerPauseWindow(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(-10.0, 5)
	b.Now = func() time.Time { return now }

	if !b.CanResume() {
		t.Fatal("untripped breaker must allow resumption")
	}

	b.Trigger(1)
	if !b.Triggered() {
		t.Fatal("Trigger did not set triggered")
	}
	if b.CanResume() {
		t.Fatal("tripped breaker resumable before the pause elapsed")
	}

	now = now.Add(time.Hour)
	if !b.CanResume() {
		t.Fatal("breaker not resumable after the pause elapsed")
	}
	if !b.Triggered() {
		t.Fatal("elapsed pause must not re-arm the breaker without Reset")
	}

	b.Reset()
	if b.Triggered() || b.ConsecutiveLosses() != 0 {
		t.Fatal("Reset did not clear trip state and streak")
	}
}

func TestOverrideLifecycle(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	o := &Override{Now: clock}
	o.Enabled = true
	o.MaxPositionPct = 25.0
	o.Reason = "earnings play"
	o.ExpiresAt = now.Add(time.Hour)

	if !o.IsActive() {
		t.Fatal("override inactive immediately after creation")
	}
	if got := EffectiveMaxPosition(o, 10.0); got != 25.0 {
		t.Fatalf("EffectiveMaxPosition = %v, want 25.0 while active", got)
	}

	now = now.Add(time.Hour)
	if o.IsActive() {
		t.Fatal("override still active at the expiry instant")
	}
	if got := EffectiveMaxPosition(o, 10.0); got != 10.0 {
		t.Fatalf("EffectiveMaxPosition = %v, want guardrail cap after expiry", got)
	}

	o.Clear()
	if o.Enabled || o.MaxPositionPct != 0 || o.Reason != "" {
		t.Fatal("Clear did not reset all fields")
	}
}

func TestOverrideNoExpiry(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	// No ExpiresAt set: the override holds until explicitly cleared.
	o := &Override{Enabled: true, MaxPositionPct: 30.0, Reason: "manual", Now: clock}
	if !o.IsActive() {
		t.Fatal("enabled override with no expiry reported inactive")
	}

	now = now.AddDate(1, 0, 0)
	if !o.IsActive() {
		t.Fatal("no-expiry override lapsed on its own")
	}

	o.Clear()
	if o.IsActive() {
		t.Fatal("override still active after Clear")
	}
}

func newValidator(mode types.TradingMode, hour int) *Validator {
	return &Validator{
		Guardrails: ForMode(mode),
		Breaker:    NewCircuitBreaker(-10.0, 5),
		Override:   &Override{},
		Now: func() time.Time {
			return time.Date(2025, 6, 2, hour, 30, 0, 0, time.UTC)
		},
	}
}

func proposed(pct, value float64) types.ProposedTrade {
	return types.ProposedTrade{
		Action:          "BUY",
		Symbol:          "NVDA",
		Quantity:        10,
		QuantityPercent: pct,
		EstimatedValue:  value,
		Confidence:      0.8,
		Reasoning:       "test",
	}
}

func TestValidatePausedBeatsEverything(t *testing.T) {
	v := newValidator(types.ModePaused, 12)
	// A trade that would also violate size, value and hours still reports
	// mode_paused.
	res := v.Validate(proposed(99, 999_999), false, 100)
	if res.Verdict != types.VerdictRejected || res.RuleTriggered != RuleModePaused {
		t.Fatalf("got %v/%q, want rejected/mode_paused", res.Verdict, res.RuleTriggered)
	}
}

func TestValidateBreakerPause(t *testing.T) {
	v := newValidator(types.ModeNormal, 12)
	v.Breaker.Now = v.Now
	v.Breaker.Trigger(1)
	res := v.Validate(proposed(5, 1000), true, 0)
	if res.RuleTriggered != RuleBreakerPause {
		t.Fatalf("rule = %q, want %q", res.RuleTriggered, RuleBreakerPause)
	}
}

func TestValidateMaxPositionSize(t *testing.T) {
	v := newValidator(types.ModeNormal, 12)
	res := v.Validate(proposed(15, 1000), true, 0)
	if res.Verdict != types.VerdictRejected || res.RuleTriggered != RuleMaxPositionSize {
		t.Fatalf("got %v/%q, want rejected/max_position_size", res.Verdict, res.RuleTriggered)
	}
	if res.Proposed.QuantityPercent != 15 {
		t.Fatal("rejection must carry the original proposed trade")
	}
}

func TestValidateOverrideRaisesCap(t *testing.T) {
	v := newValidator(types.ModeNormal, 12)
	v.Override = Timed(1, 25.0, "manual")
	res := v.Validate(proposed(15, 1000), true, 0)
	if res.Verdict != types.VerdictExecuted {
		t.Fatalf("15%% under an active 25%% override rejected: %q", res.RuleTriggered)
	}
}

func TestValidateMaxTradeValue(t *testing.T) {
	v := newValidator(types.ModeNormal, 12)
	res := v.Validate(proposed(5, 60_000), true, 0)
	if res.RuleTriggered != RuleMaxTradeValue {
		t.Fatalf("rule = %q, want %q", res.RuleTriggered, RuleMaxTradeValue)
	}
}

func TestValidateConfluence(t *testing.T) {
	v := newValidator(types.ModeNormal, 12)
	res := v.Validate(proposed(5, 1000), false, 0)
	if res.RuleTriggered != RuleConfluence {
		t.Fatalf("rule = %q, want %q", res.RuleTriggered, RuleConfluence)
	}

	// Aggressive mode does not require confluence.
	v = newValidator(types.ModeAggressive, 12)
	res = v.Validate(proposed(5, 1000), false, 0)
	if res.Verdict != types.VerdictExecuted {
		t.Fatalf("aggressive mode rejected without confluence: %q", res.RuleTriggered)
	}
}

func TestValidateMaxDailyTrades(t *testing.T) {
	v := newValidator(types.ModeNormal, 12)
	res := v.Validate(proposed(5, 1000), true, 10)
	if res.RuleTriggered != RuleMaxDailyTrades {
		t.Fatalf("rule = %q, want %q", res.RuleTriggered, RuleMaxDailyTrades)
	}
}

func TestValidateBlockedHours(t *testing.T) {
	v := newValidator(types.ModeNormal, 15)
	res := v.Validate(proposed(5, 1000), true, 0)
	if res.RuleTriggered != RuleBlockedHours {
		t.Fatalf("rule = %q, want %q", res.RuleTriggered, RuleBlockedHours)
	}

	v = newValidator(types.ModeNormal, 16)
	res = v.Validate(proposed(5, 1000), true, 0)
	if res.Verdict != types.VerdictExecuted {
		t.Fatalf("hour 16 rejected; blocked window is half-open: %q", res.RuleTriggered)
	}
}

func TestValidatePasses(t *testing.T) {
	v := newValidator(types.ModeNormal, 12)
	res := v.Validate(proposed(5, 1000), true, 0)
	if res.Verdict != types.VerdictExecuted {
		t.Fatalf("clean trade rejected: %q", res.RuleTriggered)
	}
	if res.Symbol != "NVDA" || res.Action != "BUY" {
		t.Fatal("executed result must carry symbol and action")
	}
}
