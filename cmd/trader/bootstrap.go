package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ai-paper-trader/internal/audit"
	"ai-paper-trader/internal/engine"
	"ai-paper-trader/internal/eod"
	"ai-paper-trader/internal/ledger"
	"ai-paper-trader/internal/llm"
	"ai-paper-trader/internal/llm/llmobs"
	"ai-paper-trader/internal/llm/ollama"
	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/marketdata"
	"ai-paper-trader/internal/store"
	"ai-paper-trader/internal/trace"
	"ai-paper-trader/internal/types"
)

// app holds the wired-up trader and everything it owns.
type app struct {
	cfg       *store.Config
	ledger    *ledger.SQLiteLedger
	trail     *audit.Trail
	trader    *engine.Trader
	refresher *marketdata.Refresher
	eod       *eod.Summarizer
}

func (a *app) Close(ctx context.Context) {
	if err := a.ledger.Close(); err != nil {
		logger.ErrorWithErr(ctx, "Failed to close ledger", err)
	}
	if err := trace.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tracer shutdown: %v\n", err)
	}
}

// bootstrap builds the full trader from the config file: ledger, audit
// trail, model orchestrator with the Ollama backend, Yahoo market data
// and the engine on top.
func bootstrap(ctx context.Context, configPath string) (*app, error) {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	cfg, err := store.Load(configPath)
	if err != nil {
		return nil, err
	}

	l, err := ledger.New(cfg.Ledger.DBPath, cfg.StartingCapital)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	if err := l.SeedWatchlist(ctx, cfg.Watchlist); err != nil {
		l.Close()
		return nil, err
	}
	// The configured mode only seeds a fresh ledger; a persisted mode
	// (possibly set by the circuit breaker) always wins.
	if _, ok, err := l.Setting(ctx, "trading_mode"); err != nil {
		l.Close()
		return nil, err
	} else if !ok {
		if err := l.SetTradingMode(ctx, types.ParseMode(cfg.TradingMode)); err != nil {
			l.Close()
			return nil, err
		}
	}

	trail, err := audit.NewTrail(cfg.Audit.LogsDir)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}
	if cfg.Audit.RetentionDays > 0 {
		if n, err := trail.CompressOlder(ctx, cfg.Audit.RetentionDays); err != nil {
			logger.ErrorWithErr(ctx, "Audit log compression failed", err)
		} else if n > 0 {
			logger.Info(ctx, "Compressed old audit logs", "files", n)
		}
	}

	querier := llmobs.Wrap(ollama.New(cfg.LLM.BaseURL, cfg.LLM.Timeout))
	if !querier.Available(ctx) {
		logger.Warn(ctx, "LLM backend unreachable at startup", "base_url", cfg.LLM.BaseURL)
	}
	orch, err := llm.NewOrchestrator(querier, trail, cfg.LLM.ModelPriority, cfg.LLM.SystemPrompt)
	if err != nil {
		l.Close()
		return nil, err
	}

	yahoo := marketdata.NewYahooSource()
	trader, err := engine.New(ctx, cfg, l, orch, trail, marketdata.NewDetector(yahoo))
	if err != nil {
		l.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		ledger:    l,
		trail:     trail,
		trader:    trader,
		refresher: marketdata.NewRefresher(yahoo, l),
		eod:       eod.New(l, cfg.Audit.LogsDir),
	}, nil
}

// withApp bootstraps, runs fn, and tears down.
func withApp(cmd *cobra.Command, configPath string, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}
