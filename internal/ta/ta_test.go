package ta

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5}
	if got := SMA(closes, 5); got != 3 {
		t.Fatalf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(closes, 2); got != 4.5 {
		t.Fatalf("SMA(2) = %v, want 4.5", got)
	}
	if got := SMA(closes, 6); !math.IsNaN(got) {
		t.Fatalf("SMA over short series = %v, want NaN", got)
	}
}

func TestEMAConvergesToConstant(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100
	}
	if got := EMA(closes, 12); math.Abs(got-100) > 1e-9 {
		t.Fatalf("EMA of constant series = %v, want 100", got)
	}
}

func TestRSI(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	if got := RSI(up, 14); got != 100 {
		t.Fatalf("RSI of monotone rise = %v, want 100", got)
	}
	down := []float64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}
	if got := RSI(down, 14); got != 0 {
		t.Fatalf("RSI of monotone fall = %v, want 0", got)
	}
	if got := RSI(up[:5], 14); !math.IsNaN(got) {
		t.Fatalf("RSI over short series = %v, want NaN", got)
	}
}

func TestMACDSign(t *testing.T) {
	rising := make([]float64, 60)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	macd, signal := MACD(rising)
	if macd <= 0 {
		t.Fatalf("MACD of rising series = %v, want positive", macd)
	}
	if math.IsNaN(signal) {
		t.Fatal("signal line is NaN")
	}

	macd, signal = MACD(rising[:20])
	if !math.IsNaN(macd) || !math.IsNaN(signal) {
		t.Fatalf("MACD over short series = %v/%v, want NaN", macd, signal)
	}
}
