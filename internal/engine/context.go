package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-paper-trader/internal/types"
)

// PositionInfo is a held position annotated with market price and
// unrealized P/L for the prompt.
type PositionInfo struct {
	Symbol               string
	Quantity             float64
	EntryPrice           float64
	CurrentPrice         float64
	UnrealizedPnL        float64
	UnrealizedPnLPercent float64
}

// SymbolInfo is the per-symbol market view offered to the model.
type SymbolInfo struct {
	Symbol        string
	CurrentPrice  float64
	PriceKnown    bool
	HasConfluence bool
	PositionHeld  bool
}

// MarketContext is everything the model sees for one cycle.
type MarketContext struct {
	Timestamp          time.Time
	Cash               float64
	TotalValue         float64
	TotalPnL           float64
	TotalPnLPercent    float64
	Positions          []PositionInfo
	Symbols            []SymbolInfo
	RecentTrades       []types.Trade
	PredictionAccuracy float64
	MaxPositionPct     float64
	MaxTradeValue      float64
	TradesToday        int
	MaxDailyTrades     int
}

// GatherMarketContext assembles the portfolio, watchlist and history
// view passed to the model. Symbols with no known price are still listed
// so the model knows they exist but cannot be traded.
func (t *Trader) GatherMarketContext(ctx context.Context) (*MarketContext, error) {
	cash, _, total, err := t.ledger.PortfolioValue(ctx)
	if err != nil {
		return nil, err
	}
	starting, err := t.ledger.StartingCash(ctx)
	if err != nil {
		return nil, err
	}

	positions, err := t.ledger.Positions(ctx)
	if err != nil {
		return nil, err
	}

	var posInfos []PositionInfo
	held := make(map[string]bool, len(positions))
	for _, pos := range positions {
		held[pos.Symbol] = true
		price, ok, err := t.ledger.LatestPrice(ctx, pos.Symbol)
		if err != nil {
			return nil, err
		}
		if !ok {
			price = pos.EntryPrice
		}
		costBasis := pos.Quantity * pos.EntryPrice
		unrealized := pos.Quantity*price - costBasis
		pct := 0.0
		if costBasis > 0 {
			pct = unrealized / costBasis * 100.0
		}
		posInfos = append(posInfos, PositionInfo{
			Symbol:               pos.Symbol,
			Quantity:             pos.Quantity,
			EntryPrice:           pos.EntryPrice,
			CurrentPrice:         price,
			UnrealizedPnL:        unrealized,
			UnrealizedPnLPercent: pct,
		})
	}

	// Symbols to analyze: positions first, then the watchlist.
	symbols := make([]string, 0, len(positions))
	seen := make(map[string]bool)
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
		seen[pos.Symbol] = true
	}
	watchlist, err := t.ledger.Watchlist(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range watchlist {
		if !seen[s] {
			symbols = append(symbols, s)
			seen[s] = true
		}
	}

	var symInfos []SymbolInfo
	for _, s := range symbols {
		price, ok, err := t.ledger.LatestPrice(ctx, s)
		if err != nil {
			return nil, err
		}
		hasConfluence := false
		if t.confluence != nil {
			hasConfluence, err = t.confluence.HasConfluenceSupport(ctx, s)
			if err != nil {
				return nil, err
			}
		}
		symInfos = append(symInfos, SymbolInfo{
			Symbol:        s,
			CurrentPrice:  price,
			PriceKnown:    ok,
			HasConfluence: hasConfluence,
			PositionHeld:  held[s],
		})
	}

	recent, err := t.ledger.Trades(ctx, "", 10)
	if err != nil {
		return nil, err
	}
	today, err := t.ledger.TradesToday(ctx)
	if err != nil {
		return nil, err
	}
	accuracy, err := t.ledger.PredictionAccuracy(ctx)
	if err != nil {
		return nil, err
	}

	totalPnL := total - starting
	return &MarketContext{
		Timestamp:          t.now(),
		Cash:               cash,
		TotalValue:         total,
		TotalPnL:           totalPnL,
		TotalPnLPercent:    totalPnL / starting * 100.0,
		Positions:          posInfos,
		Symbols:            symInfos,
		RecentTrades:       recent,
		PredictionAccuracy: accuracy.Percent,
		MaxPositionPct:     t.EffectiveMaxPosition(),
		MaxTradeValue:      t.guardrails.MaxSingleTradeValue,
		TradesToday:        len(today),
		MaxDailyTrades:     t.guardrails.MaxDailyTrades,
	}, nil
}

// FormatPrompt renders the context as the sectioned text prompt sent to
// the model.
func (m *MarketContext) FormatPrompt() string {
	var b strings.Builder

	b.WriteString("=== PORTFOLIO STATUS ===\n")
	fmt.Fprintf(&b, "Cash: $%.2f\n", m.Cash)
	fmt.Fprintf(&b, "Total Value: $%.2f\n", m.TotalValue)
	fmt.Fprintf(&b, "P/L: $%.2f (%+.2f%%)\n", m.TotalPnL, m.TotalPnLPercent)

	if len(m.Positions) > 0 {
		b.WriteString("\nPositions:\n")
		for _, pos := range m.Positions {
			fmt.Fprintf(&b, "  %s - %.0f shares @ $%.2f (current: $%.2f, P/L: $%.2f / %+.2f%%)\n",
				pos.Symbol, pos.Quantity, pos.EntryPrice, pos.CurrentPrice,
				pos.UnrealizedPnL, pos.UnrealizedPnLPercent)
		}
	}

	b.WriteString("\n=== MARKET SIGNALS ===\n")
	for _, sym := range m.Symbols {
		if sym.PriceKnown {
			fmt.Fprintf(&b, "\n%s: $%.2f\n", sym.Symbol, sym.CurrentPrice)
		} else {
			fmt.Fprintf(&b, "\n%s: price unavailable (do not trade)\n", sym.Symbol)
		}
		if sym.HasConfluence {
			b.WriteString("  Confluence: indicators agree\n")
		}
		if sym.PositionHeld {
			b.WriteString("  Currently held\n")
		}
	}

	if len(m.RecentTrades) > 0 {
		b.WriteString("\n=== RECENT TRADES ===\n")
		for _, tr := range m.RecentTrades {
			if tr.PnL != nil {
				fmt.Fprintf(&b, "  %s %s %.0f @ $%.2f (P/L: $%.2f)\n",
					tr.Action, tr.Symbol, tr.Quantity, tr.Price, *tr.PnL)
			} else {
				fmt.Fprintf(&b, "  %s %s %.0f @ $%.2f\n",
					tr.Action, tr.Symbol, tr.Quantity, tr.Price)
			}
		}
	}

	b.WriteString("\n=== CONSTRAINTS ===\n")
	fmt.Fprintf(&b, "Max position size: %.0f%% of portfolio\n", m.MaxPositionPct)
	fmt.Fprintf(&b, "Max single trade value: $%.0f\n", m.MaxTradeValue)
	fmt.Fprintf(&b, "Trades used today: %d of %d\n", m.TradesToday, m.MaxDailyTrades)

	fmt.Fprintf(&b, "\nPast prediction accuracy: %.1f%%\n", m.PredictionAccuracy)
	b.WriteString("\nProvide your trading decisions as JSON.")

	return b.String()
}
