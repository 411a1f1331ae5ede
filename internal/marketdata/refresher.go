package marketdata

import (
	"context"
	"time"

	"ai-paper-trader/internal/interfaces"
	"ai-paper-trader/internal/logger"
)

// Refresher copies fresh prices from a PriceSource into the ledger's
// price table for every watchlist symbol and every held position.
type Refresher struct {
	source interfaces.PriceSource
	ledger interfaces.Ledger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewRefresher(source interfaces.PriceSource, ledger interfaces.Ledger) *Refresher {
	return &Refresher{source: source, ledger: ledger, Now: time.Now}
}

// RefreshAll updates every tracked symbol, skipping symbols the source
// has no price for. A per-symbol fetch error is logged and skipped so
// one bad ticker cannot starve the rest. Returns the number updated.
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	symbols, err := r.trackedSymbols(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		price, ok, err := r.source.LatestPrice(ctx, symbol)
		if err != nil {
			logger.ErrorWithErr(ctx, "Price refresh failed", err, "symbol", symbol)
			continue
		}
		if !ok {
			continue
		}
		if err := r.ledger.SetLatestPrice(ctx, symbol, price, r.Now().UTC()); err != nil {
			return updated, err
		}
		updated++
	}

	logger.Debug(ctx, "Prices refreshed", "symbols", len(symbols), "updated", updated)
	return updated, nil
}

// trackedSymbols unions the watchlist with held positions, preserving
// watchlist order.
func (r *Refresher) trackedSymbols(ctx context.Context) ([]string, error) {
	watchlist, err := r.ledger.Watchlist(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := r.ledger.Positions(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(watchlist)+len(positions))
	symbols := make([]string, 0, len(watchlist)+len(positions))
	for _, s := range watchlist {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	return symbols, nil
}
