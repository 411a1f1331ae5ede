package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-paper-trader/internal/audit"
	"ai-paper-trader/internal/guard"
	"ai-paper-trader/internal/interfaces"
	"ai-paper-trader/internal/ledger"
	"ai-paper-trader/internal/llm"
	"ai-paper-trader/internal/marketdata"
	"ai-paper-trader/internal/store"
	"ai-paper-trader/internal/types"
)

type scriptedQuerier struct {
	response string
	err      error
}

func (s *scriptedQuerier) QueryWithThinking(ctx context.Context, prompt, system, model string) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return s.response, "", nil
}

func (s *scriptedQuerier) Available(ctx context.Context) bool { return true }

type staticConfluence struct{ has bool }

func (s staticConfluence) HasConfluenceSupport(ctx context.Context, symbol string) (bool, error) {
	return s.has, nil
}

type harness struct {
	trader *Trader
	ledger *ledger.SQLiteLedger
	trail  *audit.Trail
	now    time.Time
}

func newHarness(t *testing.T, querier *scriptedQuerier, hasConfluence bool) *harness {
	return newHarnessWith(t, querier, staticConfluence{has: hasConfluence})
}

func newHarnessWith(t *testing.T, querier *scriptedQuerier, confluence interfaces.ConfluenceSource) *harness {
	t.Helper()
	ctx := context.Background()

	cfg := store.Default()
	cfg.StartingCapital = 100_000
	cfg.Audit.LogsDir = t.TempDir()

	l, err := ledger.New(":memory:", cfg.StartingCapital)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	require.NoError(t, l.SeedWatchlist(ctx, []string{"NVDA"}))

	trail, err := audit.NewTrail(cfg.Audit.LogsDir)
	require.NoError(t, err)

	orch, err := llm.NewOrchestrator(querier, trail, []string{"test-model"}, cfg.LLM.SystemPrompt)
	require.NoError(t, err)

	trader, err := New(ctx, cfg, l, orch, trail, confluence)
	require.NoError(t, err)

	h := &harness{
		trader: trader,
		ledger: l,
		trail:  trail,
		now:    time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	trader.Now = clock
	trader.Breaker().Now = clock
	l.Now = clock
	return h
}

const buyResponse = `{
  "decisions": [
    {
      "action": "BUY",
      "symbol": "NVDA",
      "quantity_percent": 8.0,
      "confidence": 0.75,
      "reasoning": "Strong momentum with confluence support",
      "prediction": {"direction": "bullish", "price_target": 120.0, "timeframe_days": 5}
    }
  ],
  "market_outlook": "risk-on",
  "session_notes": null
}`

func TestRunCycleExecutesBuy(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{response: buyResponse}, true)
	ctx := context.Background()
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "NVDA", 100, h.now))

	records, err := h.trader.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].TradeID, "validated BUY must produce a trade")
	assert.Equal(t, "BUY", records[0].Action)
	require.NotNil(t, records[0].PredictedDirection)
	assert.Equal(t, "bullish", *records[0].PredictedDirection)

	// floor(100000 * 8% / 100) = 80 shares.
	pos, err := h.ledger.Position(ctx, "NVDA")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 80.0, pos.Quantity)
	assert.Equal(t, 100.0, pos.EntryPrice)

	trades, err := h.ledger.Trades(ctx, "NVDA", 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "AI: Strong momentum with confluence support", trades[0].Notes)

	// A snapshot lands at the end of the cycle.
	snap, err := h.ledger.FirstSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 100_000.0, snap.PortfolioValue)
}

func TestRunCycleBankruptcyGate(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{response: buyResponse}, true)
	ctx := context.Background()
	require.NoError(t, h.ledger.Reset(ctx, 500))

	_, err := h.trader.RunCycle(ctx)
	require.ErrorIs(t, err, ErrBankrupt)
}

func TestRunCycleAllModelsFailed(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{err: errors.New("connection refused")}, true)
	ctx := context.Background()
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "NVDA", 100, h.now))

	_, err := h.trader.RunCycle(ctx)
	require.ErrorIs(t, err, llm.ErrAllModelsFailed)

	n, err := h.ledger.DecisionsCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed chain must not record decisions")
}

func TestRunCycleRejectsWithoutConfluence(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{response: buyResponse}, false)
	ctx := context.Background()
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "NVDA", 100, h.now))

	records, err := h.trader.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].TradeID, "rejected trade must leave the decision unexecuted")

	pos, err := h.ledger.Position(ctx, "NVDA")
	require.NoError(t, err)
	assert.Nil(t, pos)

	rejections, err := h.ledger.Rejections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rejections, 1)
	assert.Equal(t, guard.RuleConfluence, rejections[0].RuleTriggered)
}

// decliningHistory yields a steady downtrend so every indicator votes
// bearish.
type decliningHistory struct{}

func (decliningHistory) DailyCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 130 - 0.5*float64(i)
	}
	return closes, nil
}

const sellResponse = `{
  "decisions": [
    {
      "action": "SELL",
      "symbol": "NVDA",
      "quantity_percent": 10.0,
      "confidence": 0.8,
      "reasoning": "Trend broke down across indicators",
      "prediction": {"direction": "bearish", "price_target": 90.0, "timeframe_days": 5}
    }
  ],
  "market_outlook": "risk-off",
  "session_notes": null
}`

func TestRunCycleSellClearsBearishConfluence(t *testing.T) {
	h := newHarnessWith(t, &scriptedQuerier{response: sellResponse},
		marketdata.NewDetector(decliningHistory{}))
	ctx := context.Background()

	require.NoError(t, h.ledger.SetLatestPrice(ctx, "NVDA", 100, h.now))
	_, err := h.ledger.ExecuteTrade(ctx, "NVDA", "BUY", 100, 100, "")
	require.NoError(t, err)

	records, err := h.trader.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "SELL", records[0].Action)
	require.NotNil(t, records[0].TradeID,
		"a sell against a bearish consensus must clear the confluence guardrail")

	// floor(100 shares * 10%) = 10 shares sold.
	pos, err := h.ledger.Position(ctx, "NVDA")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 90.0, pos.Quantity)
}

func TestTradeNotesTruncation(t *testing.T) {
	short := "took profit at resistance"
	assert.Equal(t, "AI: "+short, tradeNotes(short))

	// Byte 200 falls inside the three-byte euro sign; the cut must back
	// up to the rune boundary rather than leave a dangling fragment.
	long := strings.Repeat("a", 199) + "€" + strings.Repeat("b", 50)
	got := tradeNotes(long)
	assert.Equal(t, "AI: "+strings.Repeat("a", 199), got)
	assert.True(t, utf8.ValidString(got))

	exact := strings.Repeat("a", 200)
	assert.Equal(t, "AI: "+exact, tradeNotes(exact))
}

func TestSwitchModePersists(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	require.NoError(t, h.trader.SwitchMode(ctx, types.ModeAggressive, "manual"))
	assert.Equal(t, types.ModeAggressive, h.trader.Mode())
	assert.Equal(t, 33.0, h.trader.Guardrails().MaxPositionPct)

	mode, err := h.ledger.TradingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ModeAggressive, mode)
}

func TestOverrideChangesEffectiveCap(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	assert.Equal(t, 10.0, h.trader.EffectiveMaxPosition())
	h.trader.ApplyOverride(ctx, 1, 25.0, "earnings window")
	assert.Equal(t, 25.0, h.trader.EffectiveMaxPosition())
	h.trader.ClearOverride(ctx)
	assert.Equal(t, 10.0, h.trader.EffectiveMaxPosition())
}

func TestCheckCircuitBreakerTrips(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	// Buy at 100, crash the price: equity 10k cash + 9k stock = -81% daily.
	_, err := h.ledger.ExecuteTrade(ctx, "NVDA", "BUY", 900, 100, "")
	require.NoError(t, err)
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "NVDA", 10, h.now))

	reason, tripped, err := h.trader.CheckCircuitBreaker(ctx)
	require.NoError(t, err)
	require.True(t, tripped)
	assert.Equal(t, guard.TriggerDailyLoss, reason)
	assert.Equal(t, types.ModeConservative, h.trader.Mode(), "auto-conservative on trigger")

	mode, err := h.ledger.TradingMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ModeConservative, mode)

	events, err := h.ledger.BreakerEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "daily_loss_threshold", events[0].TriggerType)
	assert.Equal(t, "normal", events[0].PreviousMode)
	assert.Equal(t, "conservative", events[0].NewMode)
}

func TestSessionsLifecycle(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	s, err := h.trader.StartSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, s.StartingValue)

	// Starting again returns the active session, not a new one.
	again, err := h.trader.StartSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)

	status, err := h.trader.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.IsRunning)
	assert.False(t, status.IsBankrupt)

	ended, err := h.trader.EndSession(ctx, "done for the day")
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, "completed", ended.Status)

	status, err = h.trader.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsRunning)
	assert.Equal(t, 1, status.SessionsCompleted)
}

func TestEvaluatePredictions(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	record := func(symbol, direction string, priceAt float64) {
		target := priceAt * 1.1
		timeframe := 5
		_, err := h.ledger.RecordDecision(ctx, types.DecisionRecord{
			Timestamp:              h.now.AddDate(0, 0, -6),
			Action:                 "BUY",
			Symbol:                 symbol,
			PriceAtDecision:        &priceAt,
			Confidence:             0.7,
			Reasoning:              "test",
			Model:                  "test-model",
			PredictedDirection:     &direction,
			PredictedPriceTarget:   &target,
			PredictedTimeframeDays: &timeframe,
		})
		require.NoError(t, err)
	}

	record("AAPL", "bullish", 100) // current 110: accurate
	record("MSFT", "bullish", 100) // current 95: inaccurate
	record("SPY", "neutral", 100)  // never accurate
	record("GOOG", "bullish", 100) // no price: skipped

	require.NoError(t, h.ledger.SetLatestPrice(ctx, "AAPL", 110, h.now))
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "MSFT", 95, h.now))
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "SPY", 120, h.now))

	n, err := h.trader.EvaluatePredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	acc, err := h.ledger.PredictionAccuracy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, acc.Total)
	assert.Equal(t, 1, acc.Accurate)
	assert.InDelta(t, 33.3, acc.Percent, 0.1)

	// A second pass grades nothing new and leaves accuracy unchanged.
	n, err = h.trader.EvaluatePredictions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	acc, err = h.ledger.PredictionAccuracy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, acc.Total)
}

func TestEvaluatePredictionsGradesAuditIndex(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{response: buyResponse}, true)
	ctx := context.Background()

	// The manifest keeps its own clock. Skew it a second behind the
	// trader so a timestamp-derived id would never match the minted one.
	h.trail.Now = func() time.Time { return h.now.Add(-time.Second) }

	require.NoError(t, h.ledger.SetLatestPrice(ctx, "NVDA", 100, h.now))
	records, err := h.trader.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].AuditIndexID, "indexed decision must carry its manifest id")

	idx := h.trail.LoadIndex()
	require.Len(t, idx.Entries, 1)
	assert.Equal(t, *records[0].AuditIndexID, idx.Entries[0].ID)
	assert.False(t, idx.Entries[0].OutcomeRecorded)

	// Past the 5-day horizon, grading lands in both the ledger and the
	// manifest entry.
	h.now = h.now.AddDate(0, 0, 6)
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "NVDA", 110, h.now))
	n, err := h.trader.EvaluatePredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	idx = h.trail.LoadIndex()
	require.Len(t, idx.Entries, 1)
	assert.True(t, idx.Entries[0].OutcomeRecorded)
	require.NotNil(t, idx.Entries[0].PredictionAccurate)
	assert.True(t, *idx.Entries[0].PredictionAccurate)
	require.NotNil(t, idx.AccuracyRate)
	assert.Equal(t, 100.0, *idx.AccuracyRate)
}

func TestForecastCompounding(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	// Equity growing 1% per snapshot.
	value := 100_000.0
	for i := 0; i < 5; i++ {
		_, err := h.ledger.RecordSnapshot(ctx, types.PerformanceSnapshot{
			Timestamp:       h.now.AddDate(0, 0, i-5),
			PortfolioValue:  value,
			BenchmarkValue:  100_000,
			BenchmarkSymbol: "SPY",
		})
		require.NoError(t, err)
		value *= 1.01
	}

	f, err := h.trader.Forecast(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, f.DailyReturnPercent, 0.001)
	require.NotNil(t, f.DaysToDouble)
	assert.Equal(t, 70, *f.DaysToDouble, "ceil(ln2/ln(1.01))")
	assert.Nil(t, f.DaysToBankruptcy)
	assert.Greater(t, f.Projected365Days, f.Projected30Days)
}

func TestForecastDecline(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	value := 100_000.0
	for i := 0; i < 5; i++ {
		_, err := h.ledger.RecordSnapshot(ctx, types.PerformanceSnapshot{
			Timestamp:       h.now.AddDate(0, 0, i-5),
			PortfolioValue:  value,
			BenchmarkValue:  100_000,
			BenchmarkSymbol: "SPY",
		})
		require.NoError(t, err)
		value *= 0.98
	}

	f, err := h.trader.Forecast(ctx)
	require.NoError(t, err)
	assert.Negative(t, f.DailyReturnPercent)
	assert.Nil(t, f.DaysToDouble)
	require.NotNil(t, f.DaysToBankruptcy)
	assert.Positive(t, *f.DaysToBankruptcy)
}

func TestForecastInsufficientData(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	f, err := h.trader.Forecast(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.DailyReturnPercent)
	assert.Nil(t, f.DaysToDouble)
	assert.Nil(t, f.DaysToBankruptcy)
}

func TestBenchmarkTracksRelativeReturn(t *testing.T) {
	h := newHarness(t, &scriptedQuerier{}, true)
	ctx := context.Background()

	require.NoError(t, h.ledger.SetLatestPrice(ctx, "SPY", 500, h.now))

	// First snapshot: benchmark starts level with the portfolio.
	_, err := h.trader.RecordSnapshot(ctx)
	require.NoError(t, err)
	first, err := h.ledger.FirstSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, first.BenchmarkValue)

	// SPY up 10%: benchmark value scales by the price ratio.
	require.NoError(t, h.ledger.SetLatestPrice(ctx, "SPY", 550, h.now))
	h.now = h.now.AddDate(0, 0, 1)
	_, err = h.trader.RecordSnapshot(ctx)
	require.NoError(t, err)

	snapshots, err := h.ledger.Snapshots(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.InDelta(t, 110_000.0, snapshots[1].BenchmarkValue, 0.01)
	assert.InDelta(t, 10.0, snapshots[1].BenchmarkPnLPercent, 0.01)

	cmp, err := h.trader.BenchmarkComparison(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, cmp.BenchmarkReturnPercent, 0.01)
	assert.InDelta(t, 0.0, cmp.PortfolioReturnPercent, 0.01)
	assert.InDelta(t, -10.0, cmp.Alpha, 0.01)
	assert.Len(t, cmp.TrackingData, 2)
}
