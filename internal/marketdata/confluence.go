package marketdata

import (
	"context"
	"math"

	"ai-paper-trader/internal/interfaces"
	"ai-paper-trader/internal/ta"
)

// historyDays covers the longest indicator lookback (MACD needs 35
// daily closes) with slack for market holidays.
const historyDays = 60

// HistorySource supplies daily closing prices, oldest first.
type HistorySource interface {
	DailyCloses(ctx context.Context, symbol string, days int) ([]float64, error)
}

// IndicatorVote is one indicator's directional call.
type IndicatorVote struct {
	Indicator string  `json:"indicator"`
	Direction string  `json:"direction"`
	Value     float64 `json:"value"`
}

// Confluence summarizes how many independent indicators agree on a
// direction for a symbol.
type Confluence struct {
	Symbol             string          `json:"symbol"`
	Direction          string          `json:"direction"`
	Strength           float64         `json:"strength"`
	AgreeingIndicators int             `json:"agreeing_indicators"`
	Votes              []IndicatorVote `json:"contributing_indicators"`
}

// Detector derives confluence from trend, momentum and MACD votes over
// daily closes. MinAgreeing indicators must call the same direction
// before a symbol counts as having confluence support.
type Detector struct {
	History     HistorySource
	MinAgreeing int
}

var _ interfaces.ConfluenceSource = (*Detector)(nil)

func NewDetector(history HistorySource) *Detector {
	return &Detector{History: history, MinAgreeing: 2}
}

// Confluence computes the indicator votes for symbol. Returns nil when
// there is not enough history to vote.
func (d *Detector) Confluence(ctx context.Context, symbol string) (*Confluence, error) {
	closes, err := d.History.DailyCloses(ctx, symbol, historyDays)
	if err != nil {
		return nil, err
	}

	votes := make([]IndicatorVote, 0, 3)

	if sma := ta.SMA(closes, 20); !math.IsNaN(sma) {
		price := closes[len(closes)-1]
		dir := "bearish"
		if price > sma {
			dir = "bullish"
		}
		votes = append(votes, IndicatorVote{Indicator: "sma_20", Direction: dir, Value: sma})
	}

	if rsi := ta.RSI(closes, 14); !math.IsNaN(rsi) {
		dir := "neutral"
		// Overbought and oversold zones vote against the trend.
		switch {
		case rsi >= 70:
			dir = "bearish"
		case rsi <= 30:
			dir = "bullish"
		case rsi > 50:
			dir = "bullish"
		case rsi < 50:
			dir = "bearish"
		}
		votes = append(votes, IndicatorVote{Indicator: "rsi_14", Direction: dir, Value: rsi})
	}

	if macd, signal := ta.MACD(closes); !math.IsNaN(macd) && !math.IsNaN(signal) {
		dir := "bearish"
		if macd > signal {
			dir = "bullish"
		}
		votes = append(votes, IndicatorVote{Indicator: "macd", Direction: dir, Value: macd - signal})
	}

	if len(votes) == 0 {
		return nil, nil
	}

	bullish, bearish := 0, 0
	for _, v := range votes {
		switch v.Direction {
		case "bullish":
			bullish++
		case "bearish":
			bearish++
		}
	}

	direction, agreeing := "neutral", 0
	switch {
	case bullish > bearish:
		direction, agreeing = "bullish", bullish
	case bearish > bullish:
		direction, agreeing = "bearish", bearish
	}

	return &Confluence{
		Symbol:             symbol,
		Direction:          direction,
		Strength:           float64(agreeing) / float64(len(votes)),
		AgreeingIndicators: agreeing,
		Votes:              votes,
	}, nil
}

// HasConfluenceSupport reports whether enough indicators agree on a
// direction for symbol to clear the confluence guardrail. Either
// direction counts: a bearish consensus backs a SELL the same way a
// bullish one backs a BUY, and the guardrail must never trap an open
// position behind a bullish-only reading.
func (d *Detector) HasConfluenceSupport(ctx context.Context, symbol string) (bool, error) {
	c, err := d.Confluence(ctx, symbol)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	min := d.MinAgreeing
	if min <= 0 {
		min = 2
	}
	return c.Direction != "neutral" && c.AgreeingIndicators >= min, nil
}
