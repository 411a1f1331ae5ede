package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ai-paper-trader/internal/engine"
	"ai-paper-trader/internal/logger"
)

// newRunCmd runs the agent loop: refresh prices, grade due predictions,
// run a decision cycle, sleep, repeat. SIGINT/SIGTERM ends the session
// cleanly.
func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				session, err := a.trader.StartSession(ctx)
				if err != nil {
					return err
				}
				logger.Info(ctx, "Trading loop started",
					"session_id", session.ID, "interval", a.cfg.MarketData.RefreshInterval.String())

				tick := time.NewTicker(a.cfg.MarketData.RefreshInterval)
				defer tick.Stop()

				step(ctx, a)
				for {
					select {
					case <-tick.C:
						step(ctx, a)
					case <-ctx.Done():
						// Use the parent context; ctx is already canceled.
						shutdownCtx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
						defer cancel()
						if _, err := a.trader.EndSession(shutdownCtx, "interrupted"); err != nil {
							logger.ErrorWithErr(shutdownCtx, "Failed to end session", err)
						}
						if path, err := a.eod.SummarizeToday(shutdownCtx); err != nil {
							logger.ErrorWithErr(shutdownCtx, "EOD summary failed", err)
						} else if path != "" {
							logger.Info(shutdownCtx, "EOD summary written", "path", path)
						}
						logger.Info(shutdownCtx, "Trading loop stopped")
						return nil
					}
				}
			})
		},
	}
}

func step(ctx context.Context, a *app) {
	if _, err := a.refresher.RefreshAll(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Price refresh failed", err)
	}
	if _, err := a.trader.EvaluatePredictions(ctx); err != nil {
		logger.ErrorWithErr(ctx, "Prediction evaluation failed", err)
	}

	records, err := a.trader.RunCycle(ctx)
	switch {
	case errors.Is(err, engine.ErrBankrupt):
		logger.Error(ctx, "Portfolio is bankrupt; halting decisions", "error", err.Error())
	case err != nil:
		logger.ErrorWithErr(ctx, "Decision cycle failed", err)
	default:
		executed := 0
		for _, r := range records {
			if r.TradeID != nil {
				executed++
			}
		}
		logger.Info(ctx, "Decision cycle complete", "decisions", len(records), "trades", executed)
	}
}
