// Package engine ties the trader together: it owns the guardrail state,
// runs the decision cycle against the ledger and the model orchestrator,
// and exposes the status, session and performance operations.
package engine

import (
	"context"
	"fmt"
	"time"

	"ai-paper-trader/internal/audit"
	"ai-paper-trader/internal/guard"
	"ai-paper-trader/internal/interfaces"
	"ai-paper-trader/internal/llm"
	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/store"
	"ai-paper-trader/internal/trace"
	"ai-paper-trader/internal/types"
)

// ErrBankrupt aborts a cycle before any model is queried.
var ErrBankrupt = fmt.Errorf("portfolio is bankrupt")

// Trader is the autonomous paper-trading agent. Callers must serialize
// cycle invocations; validation reads and execution are not one atomic
// transaction.
type Trader struct {
	cfg        *store.Config
	ledger     interfaces.Ledger
	orch       *llm.Orchestrator
	trail      *audit.Trail
	confluence interfaces.ConfluenceSource

	guardrails types.Guardrails
	breaker    *guard.CircuitBreaker
	override   *guard.Override

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// New builds a Trader, restoring the persisted trading mode from the
// ledger. confluence may be nil, in which case no symbol ever has
// confluence support and confluence-requiring modes reject all trades.
func New(ctx context.Context, cfg *store.Config, l interfaces.Ledger, orch *llm.Orchestrator, trail *audit.Trail, confluence interfaces.ConfluenceSource) (*Trader, error) {
	mode, err := l.TradingMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading trading mode: %w", err)
	}

	return &Trader{
		cfg:        cfg,
		ledger:     l,
		orch:       orch,
		trail:      trail,
		confluence: confluence,
		guardrails: guard.ForMode(mode),
		breaker:    guard.NewCircuitBreaker(cfg.CircuitBreaker.DailyLossThreshold, cfg.CircuitBreaker.ConsecutiveLossLimit),
		override:   &guard.Override{},
		Now:        time.Now,
	}, nil
}

func (t *Trader) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// Mode returns the active trading mode.
func (t *Trader) Mode() types.TradingMode {
	return t.guardrails.Mode
}

// Guardrails returns the active guardrail set.
func (t *Trader) Guardrails() types.Guardrails {
	return t.guardrails
}

// Breaker exposes the circuit breaker for status reporting.
func (t *Trader) Breaker() *guard.CircuitBreaker {
	return t.breaker
}

// SwitchMode replaces the guardrail set and persists the new mode.
func (t *Trader) SwitchMode(ctx context.Context, mode types.TradingMode, reason string) error {
	old := t.guardrails.Mode
	t.guardrails = guard.ForMode(mode)

	if err := t.ledger.SetTradingMode(ctx, mode); err != nil {
		return fmt.Errorf("persisting trading mode: %w", err)
	}

	logger.Info(ctx, "Trading mode switched",
		"from", old.String(), "to", mode.String(), "reason", reason)
	return nil
}

// ApplyOverride installs a time-boxed position cap override.
func (t *Trader) ApplyOverride(ctx context.Context, hours int, maxPct float64, reason string) {
	t.override = guard.Timed(hours, maxPct, reason)
	logger.Warn(ctx, "Position cap override applied",
		"max_position_pct", maxPct, "hours", hours, "reason", reason)
}

// ClearOverride removes any active override.
func (t *Trader) ClearOverride(ctx context.Context) {
	t.override.Clear()
	logger.Info(ctx, "Position cap override cleared")
}

// EffectiveMaxPosition resolves the position cap, override included.
func (t *Trader) EffectiveMaxPosition() float64 {
	return guard.EffectiveMaxPosition(t.override, t.guardrails.MaxPositionPct)
}

// CheckCircuitBreaker refreshes the daily P/L and trips the breaker when
// a condition holds. A trip persists the breaker event and, when
// configured, the switch to conservative mode in one transaction.
func (t *Trader) CheckCircuitBreaker(ctx context.Context) (guard.TriggerReason, bool, error) {
	_, _, total, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return "", false, err
	}
	starting, err := t.ledger.StartingCash(ctx)
	if err != nil {
		return "", false, err
	}

	dailyPnLPct := (total - starting) / starting * 100.0
	t.breaker.UpdateDailyPnL(dailyPnLPct)

	reason, tripped := t.breaker.ShouldTrigger()
	if !tripped {
		return "", false, nil
	}

	t.breaker.Trigger(t.cfg.CircuitBreaker.PauseHours)

	previousMode := t.guardrails.Mode
	newMode := previousMode
	if t.cfg.CircuitBreaker.AutoConservativeOnTrigger {
		newMode = types.ModeConservative
	}

	if _, err := t.ledger.TripBreaker(ctx, types.BreakerEvent{
		Timestamp:         t.now(),
		TriggerType:       string(reason),
		PreviousMode:      previousMode.String(),
		NewMode:           newMode.String(),
		DailyPnLPercent:   dailyPnLPct,
		ConsecutiveLosses: t.breaker.ConsecutiveLosses(),
		ResumeAt:          t.breaker.ResumeAt(),
	}); err != nil {
		return reason, true, fmt.Errorf("persisting breaker trip: %w", err)
	}
	t.guardrails = guard.ForMode(newMode)

	return reason, true, nil
}

// RecordTradeOutcome feeds a realized win or loss to the breaker's
// consecutive-loss counter.
func (t *Trader) RecordTradeOutcome(isWin bool) {
	if isWin {
		t.breaker.RecordWin()
	} else {
		t.breaker.RecordLoss()
	}
}

// RunCycle executes one full decision cycle: bankruptcy gate, breaker
// check, context gathering, model fallback, per-decision validation and
// execution, then a performance snapshot. Per-decision failures are
// isolated; decision records are returned for all decisions handled.
func (t *Trader) RunCycle(ctx context.Context) ([]types.DecisionRecord, error) {
	ctx, span := trace.StartSpan(ctx, "engine.RunCycle")
	defer span.End()

	_, _, total, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading portfolio value: %w", err)
	}
	if total < t.cfg.BankruptcyThreshold {
		return nil, fmt.Errorf("%w: value $%.2f below $%.2f", ErrBankrupt, total, t.cfg.BankruptcyThreshold)
	}

	if reason, tripped, err := t.CheckCircuitBreaker(ctx); err != nil {
		return nil, err
	} else if tripped {
		logger.Warn(ctx, "Cycle continuing with breaker tripped", "trigger", string(reason))
	}

	var sessionID *int64
	if session, err := t.ledger.ActiveSession(ctx); err != nil {
		return nil, fmt.Errorf("loading active session: %w", err)
	} else if session != nil {
		sessionID = &session.ID
	}

	mctx, err := t.GatherMarketContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("gathering market context: %w", err)
	}
	prompt := mctx.FormatPrompt()

	parsed, model, err := t.orch.Query(ctx, prompt)
	if err != nil {
		return nil, err
	}

	records := make([]types.DecisionRecord, 0, len(parsed.Decisions))
	executed := 0
	for _, decision := range parsed.Decisions {
		record, err := t.executeDecision(ctx, sessionID, decision, model)
		if err != nil {
			logger.ErrorWithErr(ctx, "Failed to execute decision", err, "symbol", decision.Symbol)
			continue
		}
		if record.TradeID != nil {
			executed++
		}
		records = append(records, record)
	}

	if sessionID != nil {
		if err := t.ledger.BumpSessionCounters(ctx, *sessionID, len(records), executed); err != nil {
			logger.ErrorWithErr(ctx, "Failed to bump session counters", err)
		}
	}

	if _, err := t.RecordSnapshot(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Failed to record performance snapshot", err)
	}

	return records, nil
}

// Status reports the trader's externally visible state.
func (t *Trader) Status(ctx context.Context) (types.Status, error) {
	cash, positionsValue, total, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return types.Status{}, err
	}
	session, err := t.ledger.ActiveSession(ctx)
	if err != nil {
		return types.Status{}, err
	}
	completed, err := t.ledger.SessionsCount(ctx)
	if err != nil {
		return types.Status{}, err
	}
	decisions, err := t.ledger.DecisionsCount(ctx)
	if err != nil {
		return types.Status{}, err
	}
	_, _, totalTrades, err := t.ledger.WinLossCounts(ctx)
	if err != nil {
		return types.Status{}, err
	}

	return types.Status{
		IsRunning:         session != nil,
		CurrentSession:    session,
		PortfolioValue:    total,
		Cash:              cash,
		PositionsValue:    positionsValue,
		IsBankrupt:        total < t.cfg.BankruptcyThreshold,
		SessionsCompleted: completed,
		TotalDecisions:    decisions,
		TotalTrades:       totalTrades,
	}, nil
}

// StartSession begins a trading session, returning the existing one if a
// session is already active.
func (t *Trader) StartSession(ctx context.Context) (types.Session, error) {
	if session, err := t.ledger.ActiveSession(ctx); err != nil {
		return types.Session{}, err
	} else if session != nil {
		return *session, nil
	}

	_, _, total, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return types.Session{}, err
	}
	session, err := t.ledger.StartSession(ctx, total)
	if err != nil {
		return types.Session{}, err
	}
	logger.Info(ctx, "Trading session started", "session_id", session.ID, "starting_value", total)
	return session, nil
}

// EndSession closes the active session, if any.
func (t *Trader) EndSession(ctx context.Context, notes string) (*types.Session, error) {
	session, err := t.ledger.ActiveSession(ctx)
	if err != nil || session == nil {
		return nil, err
	}

	_, _, total, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return nil, err
	}
	if err := t.ledger.EndSession(ctx, session.ID, total, notes); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Trading session ended", "session_id", session.ID, "ending_value", total)

	session.EndTime = ptrTime(t.now())
	session.EndingValue = &total
	session.Status = "completed"
	return session, nil
}

func ptrTime(t time.Time) *time.Time { return &t }
