// Package eod writes a per-symbol CSV digest of the day's paper trades.
package eod

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"ai-paper-trader/internal/interfaces"
)

type aggRow struct {
	Symbol      string
	BuyQty      float64
	BuyValue    float64
	SellQty     float64
	SellValue   float64
	RealizedPnL float64
}

// Summarizer aggregates the ledger's trades for one UTC day into a CSV
// under <dir>/eod/.
type Summarizer struct {
	ledger interfaces.Ledger
	dir    string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func New(ledger interfaces.Ledger, dir string) *Summarizer {
	return &Summarizer{ledger: ledger, dir: dir, Now: time.Now}
}

// SummarizeToday writes the CSV for today's trades and returns its path.
// A day with no trades writes nothing and returns "".
func (s *Summarizer) SummarizeToday(ctx context.Context) (string, error) {
	trades, err := s.ledger.TradesToday(ctx)
	if err != nil {
		return "", err
	}
	if len(trades) == 0 {
		return "", nil
	}

	aggs := map[string]*aggRow{}
	for _, t := range trades {
		row := aggs[t.Symbol]
		if row == nil {
			row = &aggRow{Symbol: t.Symbol}
			aggs[t.Symbol] = row
		}
		switch t.Action {
		case "BUY":
			row.BuyQty += t.Quantity
			row.BuyValue += t.Quantity * t.Price
		case "SELL":
			row.SellQty += t.Quantity
			row.SellValue += t.Quantity * t.Price
			if t.PnL != nil {
				row.RealizedPnL += *t.PnL
			}
		}
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := filepath.Join(s.dir, "eod", s.Now().UTC().Format("2006-01-02")+".csv")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()
	if err := w.Write([]string{"symbol", "buy_qty", "buy_avg", "sell_qty", "sell_avg", "realized_pnl", "gross_buy_value", "gross_sell_value"}); err != nil {
		return "", err
	}

	var totalBuy, totalSell, totalPnL float64
	for _, k := range keys {
		r := aggs[k]
		var buyAvg, sellAvg float64
		if r.BuyQty > 0 {
			buyAvg = r.BuyValue / r.BuyQty
		}
		if r.SellQty > 0 {
			sellAvg = r.SellValue / r.SellQty
		}
		rec := []string{
			r.Symbol,
			strconv.FormatFloat(r.BuyQty, 'f', -1, 64),
			fmt.Sprintf("%.4f", buyAvg),
			strconv.FormatFloat(r.SellQty, 'f', -1, 64),
			fmt.Sprintf("%.4f", sellAvg),
			fmt.Sprintf("%.2f", r.RealizedPnL),
			fmt.Sprintf("%.2f", r.BuyValue),
			fmt.Sprintf("%.2f", r.SellValue),
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
		totalBuy += r.BuyValue
		totalSell += r.SellValue
		totalPnL += r.RealizedPnL
	}

	total := []string{"TOTAL", "", "", "", "", fmt.Sprintf("%.2f", totalPnL), fmt.Sprintf("%.2f", totalBuy), fmt.Sprintf("%.2f", totalSell)}
	if err := w.Write(total); err != nil {
		return "", err
	}
	w.Flush()
	return outPath, w.Error()
}
