package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/types"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func newCycleCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run a single decision cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				if _, err := a.refresher.RefreshAll(ctx); err != nil {
					logger.ErrorWithErr(ctx, "Price refresh failed", err)
				}
				records, err := a.trader.RunCycle(ctx)
				if err != nil {
					return err
				}
				return printJSON(records)
			})
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show portfolio value, session and mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				status, err := a.trader.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(struct {
					types.Status
					Mode       string           `json:"trading_mode"`
					Guardrails types.Guardrails `json:"guardrails"`
				}{status, a.trader.Mode().String(), a.trader.Guardrails()})
			})
		},
	}
}

func newForecastCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "forecast",
		Short: "Project the equity curve from recent performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				f, err := a.trader.Forecast(ctx)
				if err != nil {
					return err
				}
				return printJSON(f)
			})
		},
	}
}

func newBenchmarkCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "benchmark",
		Short: "Compare portfolio return against the benchmark",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				cmp, err := a.trader.BenchmarkComparison(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmp)
			})
		},
	}
}

func newEvaluateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Grade predictions whose horizon has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				if _, err := a.refresher.RefreshAll(ctx); err != nil {
					logger.ErrorWithErr(ctx, "Price refresh failed", err)
				}
				n, err := a.trader.EvaluatePredictions(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Evaluated %d predictions\n", n)
				return nil
			})
		},
	}
}

func newEodCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "eod",
		Short: "Write today's end-of-day trade summary CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				path, err := a.eod.SummarizeToday(ctx)
				if err != nil {
					return err
				}
				if path == "" {
					fmt.Println("No trades today")
					return nil
				}
				fmt.Println(path)
				return nil
			})
		},
	}
}

func newModeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "mode [aggressive|normal|conservative|paused]",
		Short:     "Show or switch the trading mode",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"aggressive", "normal", "conservative", "paused"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					if err := a.trader.SwitchMode(ctx, types.ParseMode(args[0]), "manual"); err != nil {
						return err
					}
				}
				return printJSON(a.trader.Guardrails())
			})
		},
	}
}

func newOverrideCmd(configPath *string) *cobra.Command {
	var (
		hours  int
		maxPct float64
		reason string
		clear  bool
	)
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Apply or clear a timed position cap override",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				if clear {
					a.trader.ClearOverride(ctx)
					fmt.Println("Override cleared")
					return nil
				}
				if maxPct <= 0 {
					return fmt.Errorf("--max-position must be positive")
				}
				if reason == "" {
					return fmt.Errorf("--reason is required")
				}
				a.trader.ApplyOverride(ctx, hours, maxPct, reason)
				fmt.Printf("Position cap %.1f%% for %dh: %s\n", maxPct, hours, reason)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 1, "hours until the override expires")
	cmd.Flags().Float64Var(&maxPct, "max-position", 0, "max position size percent while active")
	cmd.Flags().StringVar(&reason, "reason", "", "why the override is needed")
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the active override")
	return cmd
}

func newResetCmd(configPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe the paper account back to starting capital",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprintln(os.Stderr, "reset wipes all positions, trades and history; re-run with --yes")
				return fmt.Errorf("confirmation required")
			}
			return withApp(cmd, *configPath, func(ctx context.Context, a *app) error {
				if err := a.ledger.Reset(ctx, a.cfg.StartingCapital); err != nil {
					return err
				}
				fmt.Printf("Account reset to $%.2f\n", a.cfg.StartingCapital)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
