package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/types"
)

// benchmarkAnchorKey stores the benchmark symbol's price at the first
// snapshot, so later snapshots can track its relative return.
const benchmarkAnchorKey = "benchmark_anchor_price"

// RecordSnapshot captures one point on the equity and benchmark curves.
func (t *Trader) RecordSnapshot(ctx context.Context) (int64, error) {
	cash, positionsValue, total, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return 0, err
	}
	starting, err := t.ledger.StartingCash(ctx)
	if err != nil {
		return 0, err
	}

	benchmarkValue, err := t.benchmarkValue(ctx, starting)
	if err != nil {
		return 0, err
	}

	wins, losses, totalTrades, err := t.ledger.WinLossCounts(ctx)
	if err != nil {
		return 0, err
	}
	var winRate *float64
	if closed := wins + losses; closed > 0 {
		r := float64(wins) / float64(closed) * 100.0
		winRate = &r
	}

	accuracy, err := t.ledger.PredictionAccuracy(ctx)
	if err != nil {
		return 0, err
	}
	var accuracyPct *float64
	if accuracy.Total > 0 {
		accuracyPct = &accuracy.Percent
	}

	totalPnL := total - starting
	return t.ledger.RecordSnapshot(ctx, types.PerformanceSnapshot{
		Timestamp:           t.now(),
		PortfolioValue:      total,
		Cash:                cash,
		PositionsValue:      positionsValue,
		BenchmarkValue:      benchmarkValue,
		BenchmarkSymbol:     t.cfg.BenchmarkSymbol,
		TotalPnL:            totalPnL,
		TotalPnLPercent:     totalPnL / starting * 100.0,
		BenchmarkPnLPercent: (benchmarkValue - starting) / starting * 100.0,
		PredictionAccuracy:  accuracyPct,
		TradesToDate:        totalTrades,
		WinningTrades:       wins,
		LosingTrades:        losses,
		WinRate:             winRate,
	})
}

// benchmarkValue scales the first snapshot's benchmark value by the
// benchmark symbol's price change since that snapshot. Absolute price
// levels never enter the comparison, only the ratio.
func (t *Trader) benchmarkValue(ctx context.Context, startingCapital float64) (float64, error) {
	first, err := t.ledger.FirstSnapshot(ctx)
	if err != nil {
		return 0, err
	}

	currentPrice, priceKnown, err := t.ledger.LatestPrice(ctx, t.cfg.BenchmarkSymbol)
	if err != nil {
		return 0, err
	}

	if first == nil {
		// First snapshot ever: the benchmark starts level with the
		// portfolio; remember the price it started at.
		if priceKnown && currentPrice > 0 {
			if err := t.ledger.SetSetting(ctx, benchmarkAnchorKey,
				strconv.FormatFloat(currentPrice, 'f', -1, 64)); err != nil {
				return 0, err
			}
		}
		return startingCapital, nil
	}

	anchorStr, ok, err := t.ledger.Setting(ctx, benchmarkAnchorKey)
	if err != nil {
		return 0, err
	}
	if !ok || !priceKnown || currentPrice <= 0 {
		return first.BenchmarkValue, nil
	}
	anchor, err := strconv.ParseFloat(anchorStr, 64)
	if err != nil || anchor <= 0 {
		return first.BenchmarkValue, nil
	}
	return first.BenchmarkValue * (currentPrice / anchor), nil
}

// BenchmarkComparison reports portfolio return against the benchmark
// over the last year of snapshots.
func (t *Trader) BenchmarkComparison(ctx context.Context) (types.BenchmarkComparison, error) {
	snapshots, err := t.ledger.Snapshots(ctx, 365)
	if err != nil {
		return types.BenchmarkComparison{}, err
	}
	if len(snapshots) == 0 {
		return types.BenchmarkComparison{}, nil
	}

	first, last := snapshots[0], snapshots[len(snapshots)-1]
	portfolioReturn := (last.PortfolioValue - first.PortfolioValue) / first.PortfolioValue * 100.0
	benchmarkReturn := (last.BenchmarkValue - first.BenchmarkValue) / first.BenchmarkValue * 100.0

	tracking := make([]types.TrackingSample, len(snapshots))
	for i, s := range snapshots {
		tracking[i] = types.TrackingSample{
			Timestamp:      s.Timestamp,
			PortfolioValue: s.PortfolioValue,
			BenchmarkValue: s.BenchmarkValue,
		}
	}

	return types.BenchmarkComparison{
		PortfolioReturnPercent: portfolioReturn,
		BenchmarkReturnPercent: benchmarkReturn,
		Alpha:                  portfolioReturn - benchmarkReturn,
		TrackingData:           tracking,
	}, nil
}

// Forecast compounds the average daily return from the last 30 days of
// snapshots into 30/90/365-day projections. With fewer than two
// snapshots there is nothing to extrapolate and the zero forecast is
// returned.
func (t *Trader) Forecast(ctx context.Context) (types.Forecast, error) {
	snapshots, err := t.ledger.Snapshots(ctx, 30)
	if err != nil {
		return types.Forecast{}, err
	}
	if len(snapshots) < 2 {
		return types.Forecast{}, nil
	}

	sum := 0.0
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].PortfolioValue
		sum += (snapshots[i].PortfolioValue - prev) / prev
	}
	rate := sum / float64(len(snapshots)-1)

	_, _, current, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return types.Forecast{}, err
	}

	wins, losses, _, err := t.ledger.WinLossCounts(ctx)
	if err != nil {
		return types.Forecast{}, err
	}
	winRate := 0.0
	if closed := wins + losses; closed > 0 {
		winRate = float64(wins) / float64(closed) * 100.0
	}

	f := types.Forecast{
		DailyReturnPercent: rate * 100.0,
		WinRatePercent:     winRate,
		Projected30Days:    current * math.Pow(1+rate, 30),
		Projected90Days:    current * math.Pow(1+rate, 90),
		Projected365Days:   current * math.Pow(1+rate, 365),
	}

	if rate > 0 {
		days := int(math.Ceil(math.Ln2 / math.Log(1+rate)))
		f.DaysToDouble = &days
	} else if rate < 0 && current > 0 {
		days := int(math.Ceil(math.Log(t.cfg.BankruptcyThreshold/current) / math.Log(1+rate)))
		f.DaysToBankruptcy = &days
	}
	return f, nil
}

// EvaluatePredictions grades every decision whose prediction horizon has
// elapsed against the current market price. Symbols with no known price
// are skipped and retried on the next pass. Returns the number graded.
func (t *Trader) EvaluatePredictions(ctx context.Context) (int, error) {
	pending, err := t.ledger.UnevaluatedPredictions(ctx, t.now())
	if err != nil {
		return 0, err
	}

	evaluated := 0
	for _, d := range pending {
		if d.PredictedDirection == nil || d.PredictedPriceTarget == nil || d.PriceAtDecision == nil {
			continue
		}
		current, ok, err := t.ledger.LatestPrice(ctx, d.Symbol)
		if err != nil {
			return evaluated, err
		}
		if !ok {
			continue
		}

		var accurate bool
		switch *d.PredictedDirection {
		case "bullish":
			accurate = current > *d.PriceAtDecision
		case "bearish":
			accurate = current < *d.PriceAtDecision
		default:
			// Neutral calls are unfalsifiable; never graded accurate.
			accurate = false
		}

		outcome := fmt.Sprintf("%.2f -> %.2f (predicted: %.2f)",
			*d.PriceAtDecision, current, *d.PredictedPriceTarget)
		if err := t.ledger.UpdatePredictionOutcome(ctx, d.ID, outcome, current, accurate); err != nil {
			return evaluated, err
		}

		// Best-effort mirror into the audit manifest, joined on the id
		// the manifest itself minted. Rows without one (decisions the
		// orchestrator failed to index) have no entry to update.
		if d.AuditIndexID != nil {
			pnl := current - *d.PriceAtDecision
			if err := t.trail.RecordOutcome(ctx, *d.AuditIndexID, pnl, accurate); err != nil {
				logger.ErrorWithErr(ctx, "Failed to record outcome in audit index", err, "id", *d.AuditIndexID)
			}
		}

		evaluated++
	}

	if evaluated > 0 {
		logger.Info(ctx, "Predictions evaluated", "count", evaluated)
	}
	return evaluated, nil
}
