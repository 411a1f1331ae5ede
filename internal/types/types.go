package types

import (
	"errors"
	"strings"
	"time"
)

// TradingMode controls how aggressive the agent is allowed to be. Modes are
// ordered by permissiveness: Paused < Conservative < Normal < Aggressive.
type TradingMode int

const (
	ModePaused TradingMode = iota
	ModeConservative
	ModeNormal
	ModeAggressive
)

func (m TradingMode) String() string {
	switch m {
	case ModeAggressive:
		return "aggressive"
	case ModeNormal:
		return "normal"
	case ModeConservative:
		return "conservative"
	case ModePaused:
		return "paused"
	}
	return "normal"
}

// ParseMode maps a persisted mode string back to a TradingMode. Unknown
// values fall back to Normal.
func ParseMode(s string) TradingMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aggressive":
		return ModeAggressive
	case "conservative":
		return ModeConservative
	case "paused":
		return ModePaused
	default:
		return ModeNormal
	}
}

// HourRange is a half-open [Start, End) UTC hour window.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the given UTC hour falls inside the window.
func (h HourRange) Contains(hour int) bool {
	return hour >= h.Start && hour < h.End
}

// Guardrails is the concrete limit set derived from a TradingMode. It is
// never mutated independently; a mode switch fully replaces it.
type Guardrails struct {
	Mode                TradingMode `json:"mode"`
	MaxPositionPct      float64     `json:"max_position_pct"`
	MaxDailyTrades      int         `json:"max_daily_trades"`
	MaxSingleTradeValue float64     `json:"max_single_trade_value"`
	RequireConfluence   bool        `json:"require_confluence"`
	BlockedHours        []HourRange `json:"blocked_hours"`
}

// ProposedTrade is a model decision resolved against the current portfolio:
// quantity is in shares, already derived from the decision's percentage.
type ProposedTrade struct {
	Action          string  `json:"action"`
	Symbol          string  `json:"symbol"`
	Quantity        float64 `json:"quantity"`
	QuantityPercent float64 `json:"quantity_percent"`
	EstimatedValue  float64 `json:"estimated_value"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// Verdict is the validator's classification of a proposed trade.
type Verdict int

const (
	VerdictExecuted Verdict = iota
	VerdictQueued
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictExecuted:
		return "executed"
	case VerdictQueued:
		return "queued"
	}
	return "rejected"
}

// TradeResult carries the validator verdict plus, for Executed results once
// the executor has run, the fill details. Reason is human-readable and must
// not be parsed; RuleTriggered is the stable machine tag used for audit
// aggregation.
type TradeResult struct {
	Verdict Verdict `json:"verdict"`

	// Executed fields (price and trade ID filled in by the executor).
	TradeID   string    `json:"trade_id,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Action    string    `json:"action,omitempty"`
	Quantity  float64   `json:"quantity,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Queued / Rejected fields.
	Reason        string        `json:"reason,omitempty"`
	ReviewBy      time.Time     `json:"review_by,omitempty"`
	RuleTriggered string        `json:"rule_triggered,omitempty"`
	Proposed      ProposedTrade `json:"proposed_trade,omitempty"`
}

// Prediction is the falsifiable price call attached to a model decision.
type Prediction struct {
	Direction     string  `json:"direction"`
	PriceTarget   float64 `json:"price_target"`
	TimeframeDays int     `json:"timeframe_days"`
}

// ModelDecision is one decision as emitted by the model. Numeric fields are
// pointers so a missing field is distinguishable from zero: financial fields
// are never silently defaulted.
type ModelDecision struct {
	Action          string      `json:"action"`
	Symbol          string      `json:"symbol"`
	QuantityPercent *float64    `json:"quantity_percent"`
	Confidence      *float64    `json:"confidence"`
	Reasoning       string      `json:"reasoning"`
	Prediction      *Prediction `json:"prediction"`

	// AuditIndexID is assigned by the orchestrator after the decision is
	// written to the audit manifest; it is not part of the model contract.
	AuditIndexID string `json:"-"`
}

// DecisionResponse is the strict response contract with the model.
type DecisionResponse struct {
	Decisions     []ModelDecision `json:"decisions"`
	MarketOutlook *string         `json:"market_outlook"`
	SessionNotes  *string         `json:"session_notes"`
}

var (
	ErrNoDecisions   = errors.New("response contains no decisions")
	ErrMissingField  = errors.New("decision is missing a required field")
	ErrInvalidAction = errors.New("decision action must be BUY, SELL or HOLD")
)

// Validate fails closed: any missing required field rejects the whole
// response so the orchestrator falls back to the next model.
func (r *DecisionResponse) Validate() error {
	if len(r.Decisions) == 0 {
		return ErrNoDecisions
	}
	for i := range r.Decisions {
		d := &r.Decisions[i]
		d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
		switch d.Action {
		case "BUY", "SELL", "HOLD":
		default:
			return ErrInvalidAction
		}
		if d.Symbol == "" || d.QuantityPercent == nil || d.Confidence == nil {
			return ErrMissingField
		}
		if *d.QuantityPercent < 0 || *d.QuantityPercent > 100 {
			return ErrMissingField
		}
		if *d.Confidence < 0 || *d.Confidence > 1 {
			return ErrMissingField
		}
		if d.Prediction != nil {
			d.Prediction.Direction = strings.ToLower(strings.TrimSpace(d.Prediction.Direction))
		}
	}
	return nil
}

// Position is a ledger holding. EntryPrice is the volume-weighted average
// cost over all accumulating buys.
type Position struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}

// Trade is one immutable ledger trade record. PnL is realized profit for
// SELL trades and nil for BUY trades.
type Trade struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	PnL       *float64  `json:"pnl"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// DecisionRecord is one row per model decision, whether or not it resulted
// in a trade. Outcome fields stay nil until the prediction is graded.
type DecisionRecord struct {
	ID                     int64     `json:"id"`
	SessionID              *int64    `json:"session_id"`
	Timestamp              time.Time `json:"timestamp"`
	Action                 string    `json:"action"`
	Symbol                 string    `json:"symbol"`
	QuantityPercent        *float64  `json:"quantity_percent"`
	PriceAtDecision        *float64  `json:"price_at_decision"`
	Confidence             float64   `json:"confidence"`
	Reasoning              string    `json:"reasoning"`
	Model                  string    `json:"model_used"`
	PredictedDirection     *string   `json:"predicted_direction"`
	PredictedPriceTarget   *float64  `json:"predicted_price_target"`
	PredictedTimeframeDays *int      `json:"predicted_timeframe_days"`
	ActualOutcome          *string   `json:"actual_outcome"`
	ActualPriceAtTimeframe *float64  `json:"actual_price_at_timeframe"`
	PredictionAccurate     *bool     `json:"prediction_accurate"`
	TradeID                *string   `json:"paper_trade_id"`
	AuditIndexID           *string   `json:"audit_index_id"`
}

// Rejection is the audit record persisted for every guardrail rejection.
type Rejection struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	SessionID       *int64    `json:"session_id"`
	AttemptedAction string    `json:"attempted_action"`
	Symbol          string    `json:"symbol"`
	Quantity        *float64  `json:"quantity"`
	QuantityPercent *float64  `json:"quantity_percent"`
	EstimatedValue  *float64  `json:"estimated_value"`
	Reason          string    `json:"reason"`
	RuleTriggered   string    `json:"rule_triggered"`
	TradingMode     string    `json:"trading_mode"`
	RawRequest      *string   `json:"raw_request"`
}

// BreakerEvent records one circuit-breaker trip for external reporting.
type BreakerEvent struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	TriggerType       string    `json:"trigger_type"`
	PreviousMode      string    `json:"previous_mode"`
	NewMode           string    `json:"new_mode"`
	DailyPnLPercent   float64   `json:"daily_pnl"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	ResumeAt          time.Time `json:"resume_at"`
}

// Session is one autonomous trading session.
type Session struct {
	ID             int64      `json:"id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	StartingValue  float64    `json:"starting_portfolio_value"`
	EndingValue    *float64   `json:"ending_portfolio_value"`
	DecisionsCount int        `json:"decisions_count"`
	TradesCount    int        `json:"trades_count"`
	Notes          *string    `json:"session_notes"`
	Status         string     `json:"status"`
}

// PerformanceSnapshot is one point on the equity/benchmark curve.
type PerformanceSnapshot struct {
	ID                  int64     `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	PortfolioValue      float64   `json:"portfolio_value"`
	Cash                float64   `json:"cash"`
	PositionsValue      float64   `json:"positions_value"`
	BenchmarkValue      float64   `json:"benchmark_value"`
	BenchmarkSymbol     string    `json:"benchmark_symbol"`
	TotalPnL            float64   `json:"total_pnl"`
	TotalPnLPercent     float64   `json:"total_pnl_percent"`
	BenchmarkPnLPercent float64   `json:"benchmark_pnl_percent"`
	PredictionAccuracy  *float64  `json:"prediction_accuracy"`
	TradesToDate        int       `json:"trades_to_date"`
	WinningTrades       int       `json:"winning_trades"`
	LosingTrades        int       `json:"losing_trades"`
	WinRate             *float64  `json:"win_rate"`
}

// PredictionAccuracy aggregates graded predictions.
type PredictionAccuracy struct {
	Total    int     `json:"total_predictions"`
	Accurate int     `json:"accurate_predictions"`
	Percent  float64 `json:"accuracy_percent"`
}

// Status is the trader's externally visible state.
type Status struct {
	IsRunning         bool     `json:"is_running"`
	CurrentSession    *Session `json:"current_session"`
	PortfolioValue    float64  `json:"portfolio_value"`
	Cash              float64  `json:"cash"`
	PositionsValue    float64  `json:"positions_value"`
	IsBankrupt        bool     `json:"is_bankrupt"`
	SessionsCompleted int      `json:"sessions_completed"`
	TotalDecisions    int      `json:"total_decisions"`
	TotalTrades       int      `json:"total_trades"`
}

// BenchmarkComparison reports portfolio return against the benchmark.
type BenchmarkComparison struct {
	PortfolioReturnPercent float64          `json:"portfolio_return_percent"`
	BenchmarkReturnPercent float64          `json:"benchmark_return_percent"`
	Alpha                  float64          `json:"alpha"`
	TrackingData           []TrackingSample `json:"tracking_data"`
}

// TrackingSample pairs portfolio and benchmark values at one instant.
type TrackingSample struct {
	Timestamp      time.Time `json:"timestamp"`
	PortfolioValue float64   `json:"portfolio_value"`
	BenchmarkValue float64   `json:"benchmark_value"`
}

// Forecast projects the equity curve by compounding the average daily
// return observed over the snapshot window.
type Forecast struct {
	DailyReturnPercent float64 `json:"current_daily_return"`
	WinRatePercent     float64 `json:"current_win_rate"`
	Projected30Days    float64 `json:"projected_30_days"`
	Projected90Days    float64 `json:"projected_90_days"`
	Projected365Days   float64 `json:"projected_365_days"`
	DaysToDouble       *int    `json:"time_to_double"`
	DaysToBankruptcy   *int    `json:"time_to_bankruptcy"`
}
