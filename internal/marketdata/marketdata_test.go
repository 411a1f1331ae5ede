package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-paper-trader/internal/ledger"
)

type fakeHistory struct {
	closes map[string][]float64
	err    error
}

func (f *fakeHistory) DailyCloses(ctx context.Context, symbol string, days int) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.closes[symbol], nil
}

func trend(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestConfluenceBullishTrend(t *testing.T) {
	// Gentle rise: price above SMA20, RSI above 50, MACD above signal.
	d := NewDetector(&fakeHistory{closes: map[string][]float64{
		"NVDA": trend(100, 0.3, 60),
	}})

	c, err := d.Confluence(context.Background(), "NVDA")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "bullish", c.Direction)
	assert.GreaterOrEqual(t, c.AgreeingIndicators, 2)
	assert.Len(t, c.Votes, 3)

	ok, err := d.HasConfluenceSupport(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfluenceBearishTrendSupportsExit(t *testing.T) {
	d := NewDetector(&fakeHistory{closes: map[string][]float64{
		"NVDA": trend(100, -0.3, 60),
	}})

	c, err := d.Confluence(context.Background(), "NVDA")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "bearish", c.Direction)
	assert.GreaterOrEqual(t, c.AgreeingIndicators, 2)

	// Agreement counts in either direction: a bearish consensus clears
	// the guardrail for sells just as a bullish one does for buys.
	ok, err := d.HasConfluenceSupport(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfluenceInsufficientHistory(t *testing.T) {
	d := NewDetector(&fakeHistory{closes: map[string][]float64{
		"NVDA": trend(100, 0.3, 5),
	}})

	c, err := d.Confluence(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Nil(t, c, "too little history for any indicator to vote")

	ok, err := d.HasConfluenceSupport(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfluencePropagatesSourceError(t *testing.T) {
	d := NewDetector(&fakeHistory{err: errors.New("rate limited")})
	_, err := d.HasConfluenceSupport(context.Background(), "NVDA")
	require.Error(t, err)
}

type fakePrices struct {
	prices map[string]float64
	errs   map[string]error
}

func (f *fakePrices) LatestPrice(ctx context.Context, symbol string) (float64, bool, error) {
	if err := f.errs[symbol]; err != nil {
		return 0, false, err
	}
	p, ok := f.prices[symbol]
	return p, ok, nil
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.New(":memory:", 100_000)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.SeedWatchlist(ctx, []string{"SPY", "NVDA"}))
	// A held position off the watchlist is refreshed too.
	require.NoError(t, l.SetLatestPrice(ctx, "AAPL", 100, time.Now()))
	_, err = l.ExecuteTrade(ctx, "AAPL", "BUY", 10, 100, "")
	require.NoError(t, err)

	r := NewRefresher(&fakePrices{
		prices: map[string]float64{"SPY": 500, "AAPL": 180},
		errs:   map[string]error{"NVDA": errors.New("rate limited")},
	}, l)
	r.Now = func() time.Time { return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) }

	updated, err := r.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, updated, "one fetch error is skipped, not fatal")

	price, ok, err := l.LatestPrice(ctx, "SPY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 500.0, price)

	price, ok, err = l.LatestPrice(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 180.0, price)
}
