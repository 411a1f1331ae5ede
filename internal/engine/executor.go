package engine

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"

	"ai-paper-trader/internal/guard"
	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/types"
)

// executeDecision resolves one model decision against the portfolio,
// validates it, executes it when the validator allows, and records the
// decision row either way. A decision whose resolved share count rounds
// to zero is recorded with no trade attached, not treated as an error.
func (t *Trader) executeDecision(ctx context.Context, sessionID *int64, decision types.ModelDecision, model string) (types.DecisionRecord, error) {
	cash, _, _, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return types.DecisionRecord{}, err
	}

	price, ok, err := t.ledger.LatestPrice(ctx, decision.Symbol)
	if err != nil {
		return types.DecisionRecord{}, err
	}
	if !ok || price <= 0 {
		return types.DecisionRecord{}, fmt.Errorf("no valid price for %s", decision.Symbol)
	}

	pct := 0.0
	if decision.QuantityPercent != nil {
		pct = *decision.QuantityPercent
	}

	var tradeID *string

	switch decision.Action {
	case "BUY":
		quantity := math.Floor(cash * (pct / 100.0) / price)
		if quantity >= 1 {
			tradeID, err = t.validateAndTrade(ctx, sessionID, decision, quantity, price)
			if err != nil {
				return types.DecisionRecord{}, err
			}
		}
	case "SELL":
		pos, err := t.ledger.Position(ctx, decision.Symbol)
		if err != nil {
			return types.DecisionRecord{}, err
		}
		if pos != nil {
			quantity := math.Floor(pos.Quantity * (pct / 100.0))
			if quantity >= 1 {
				tradeID, err = t.validateAndTrade(ctx, sessionID, decision, quantity, price)
				if err != nil {
					return types.DecisionRecord{}, err
				}
			}
		}
	case "HOLD":
		logger.Decision(ctx, decision.Symbol, "HOLD", confidenceOf(decision), decision.Reasoning)
	}

	record := types.DecisionRecord{
		SessionID:       sessionID,
		Timestamp:       t.now(),
		Action:          decision.Action,
		Symbol:          decision.Symbol,
		QuantityPercent: decision.QuantityPercent,
		PriceAtDecision: &price,
		Confidence:      confidenceOf(decision),
		Reasoning:       decision.Reasoning,
		Model:           model,
		TradeID:         tradeID,
	}
	if decision.AuditIndexID != "" {
		record.AuditIndexID = &decision.AuditIndexID
	}
	if decision.Prediction != nil {
		record.PredictedDirection = &decision.Prediction.Direction
		record.PredictedPriceTarget = &decision.Prediction.PriceTarget
		record.PredictedTimeframeDays = &decision.Prediction.TimeframeDays
	}

	id, err := t.ledger.RecordDecision(ctx, record)
	if err != nil {
		return types.DecisionRecord{}, fmt.Errorf("recording decision: %w", err)
	}
	record.ID = id
	return record, nil
}

// validateAndTrade runs the guardrail validator on the resolved trade and
// executes it when allowed. A rejection is persisted to the rejection log
// and returns a nil trade id; it is not an error.
func (t *Trader) validateAndTrade(ctx context.Context, sessionID *int64, decision types.ModelDecision, quantity, price float64) (*string, error) {
	proposed := types.ProposedTrade{
		Action:          decision.Action,
		Symbol:          decision.Symbol,
		Quantity:        quantity,
		QuantityPercent: derefOr(decision.QuantityPercent, 0),
		EstimatedValue:  quantity * price,
		Confidence:      confidenceOf(decision),
		Reasoning:       decision.Reasoning,
	}

	hasConfluence := false
	if t.confluence != nil {
		var err error
		hasConfluence, err = t.confluence.HasConfluenceSupport(ctx, decision.Symbol)
		if err != nil {
			return nil, err
		}
	}

	today, err := t.ledger.TradesToday(ctx)
	if err != nil {
		return nil, err
	}

	validator := &guard.Validator{
		Guardrails: t.guardrails,
		Breaker:    t.breaker,
		Override:   t.override,
		Now:        t.Now,
	}
	result := validator.Validate(proposed, hasConfluence, len(today))

	if result.Verdict == types.VerdictRejected {
		logger.Rejection(ctx, proposed.Symbol, proposed.Action, result.RuleTriggered, result.Reason)
		if _, err := t.ledger.LogRejection(ctx, types.Rejection{
			Timestamp:       t.now(),
			SessionID:       sessionID,
			AttemptedAction: proposed.Action,
			Symbol:          proposed.Symbol,
			Quantity:        &proposed.Quantity,
			QuantityPercent: &proposed.QuantityPercent,
			EstimatedValue:  &proposed.EstimatedValue,
			Reason:          result.Reason,
			RuleTriggered:   result.RuleTriggered,
			TradingMode:     t.guardrails.Mode.String(),
		}); err != nil {
			logger.ErrorWithErr(ctx, "Failed to persist rejection", err, "symbol", proposed.Symbol)
		}
		return nil, nil
	}

	trade, err := t.ledger.ExecuteTrade(ctx, decision.Symbol, decision.Action, quantity, price, tradeNotes(decision.Reasoning))
	if err != nil {
		return nil, err
	}

	if trade.PnL != nil {
		t.RecordTradeOutcome(*trade.PnL > 0)
	}
	logger.Decision(ctx, decision.Symbol, decision.Action, confidenceOf(decision), decision.Reasoning,
		"trade_id", trade.ID, "quantity", quantity, "price", price)
	return &trade.ID, nil
}

// tradeNotes prefixes the model's reasoning, truncated to keep trade rows
// readable. The cut backs up to a rune boundary so a multi-byte character
// is never split.
func tradeNotes(reasoning string) string {
	if len(reasoning) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(reasoning[cut]) {
			cut--
		}
		reasoning = reasoning[:cut]
	}
	return "AI: " + reasoning
}

func confidenceOf(d types.ModelDecision) float64 {
	return derefOr(d.Confidence, 0)
}

func derefOr(f *float64, def float64) float64 {
	if f == nil {
		return def
	}
	return *f
}
