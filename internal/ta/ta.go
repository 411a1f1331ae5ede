// Package ta holds the indicator math behind confluence detection.
// Functions return NaN when the series is too short.
package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

func EMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	k := 2.0 / float64(n+1)
	ema := SMA(closes[:n], n)
	for i := n; i < len(closes); i++ {
		ema = closes[i]*k + ema*(1-k)
	}
	return ema
}

func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACD returns the MACD line (EMA12-EMA26) and its 9-period signal line.
func MACD(closes []float64) (macd, signal float64) {
	if len(closes) < 26+9 {
		return math.NaN(), math.NaN()
	}
	series := make([]float64, 0, len(closes)-25)
	for i := 26; i <= len(closes); i++ {
		series = append(series, EMA(closes[:i], 12)-EMA(closes[:i], 26))
	}
	return series[len(series)-1], EMA(series, 9)
}
