// Package marketdata pulls quotes and daily history from Yahoo Finance
// and derives the confluence signal the trading guardrails consume.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"

	"ai-paper-trader/internal/interfaces"
)

// YahooSource fetches market data from Yahoo Finance. The upstream
// client is not context-aware, so cancellation is only checked between
// calls.
type YahooSource struct{}

var _ interfaces.PriceSource = (*YahooSource)(nil)

func NewYahooSource() *YahooSource { return &YahooSource{} }

// LatestPrice returns the regular-market price for symbol. ok is false
// when Yahoo knows the symbol but reports no usable price.
func (y *YahooSource) LatestPrice(ctx context.Context, symbol string) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	q, err := quote.Get(symbol)
	if err != nil {
		return 0, false, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return 0, false, nil
	}
	return q.RegularMarketPrice, true, nil
}

// DailyCloses returns up to days of daily closing prices for symbol,
// oldest first.
func (y *YahooSource) DailyCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)

	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})

	var closes []float64
	for iter.Next() {
		closes = append(closes, iter.Bar().Close.InexactFloat64())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	return closes, nil
}
