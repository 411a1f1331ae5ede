package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ai-paper-trader/internal/types"
)

// IndexEntry is one decision in the cumulative manifest. Outcome fields
// are attached later by the prediction grader.
type IndexEntry struct {
	ID                   string   `json:"id"`
	Timestamp            string   `json:"timestamp"`
	Model                string   `json:"model"`
	Symbol               string   `json:"symbol"`
	Action               string   `json:"action"`
	QuantityPercent      float64  `json:"quantity_percent"`
	Confidence           float64  `json:"confidence"`
	PredictedDirection   string   `json:"predicted_direction"`
	PredictedPriceTarget float64  `json:"predicted_price_target"`
	LogFile              string   `json:"log_file"`
	OutcomeRecorded      bool     `json:"outcome_recorded"`
	ActualPnL            *float64 `json:"actual_pnl"`
	PredictionAccurate   *bool    `json:"prediction_accurate"`
}

// Index is the append-only decision manifest persisted as index.json.
// Entries are only ever mutated to attach an outcome; accuracy_rate is
// recomputed from scratch on every outcome so it cannot drift.
type Index struct {
	LastUpdated           string       `json:"last_updated"`
	TotalDecisions        int          `json:"total_decisions"`
	DecisionsWithOutcomes int          `json:"decisions_with_outcomes"`
	AccuracyRate          *float64     `json:"accuracy_rate"`
	Entries               []IndexEntry `json:"entries"`
}

func (t *Trail) indexPath() string {
	return filepath.Join(t.dir, "index.json")
}

// LoadIndex reads the manifest, returning an empty index when the file
// does not exist or is corrupt. A corrupt index is not fatal: new
// decisions matter more than a readable history.
func (t *Trail) LoadIndex() *Index {
	data, err := os.ReadFile(t.indexPath())
	if err != nil {
		return &Index{}
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return &Index{}
	}
	return &idx
}

// SaveIndex writes the manifest back to disk.
func (t *Trail) SaveIndex(idx *Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling index: %w", err)
	}
	if err := os.WriteFile(t.indexPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// Add appends an entry and refreshes the totals.
func (idx *Index) Add(entry IndexEntry, now time.Time) {
	idx.Entries = append(idx.Entries, entry)
	idx.TotalDecisions = len(idx.Entries)
	idx.LastUpdated = now.UTC().Format(stampFormat)
}

// UpdateOutcome attaches a graded outcome to the entry with the given id
// and recomputes the aggregate stats. Unknown ids are ignored; stats are
// still recomputed, which makes repeated grading passes idempotent.
func (idx *Index) UpdateOutcome(id string, pnl float64, accurate bool, now time.Time) {
	for i := range idx.Entries {
		if idx.Entries[i].ID == id {
			idx.Entries[i].OutcomeRecorded = true
			idx.Entries[i].ActualPnL = &pnl
			idx.Entries[i].PredictionAccurate = &accurate
			break
		}
	}
	idx.recalculateStats(now)
}

func (idx *Index) recalculateStats(now time.Time) {
	withOutcomes, accurate := 0, 0
	for i := range idx.Entries {
		if !idx.Entries[i].OutcomeRecorded {
			continue
		}
		withOutcomes++
		if idx.Entries[i].PredictionAccurate != nil && *idx.Entries[i].PredictionAccurate {
			accurate++
		}
	}
	idx.DecisionsWithOutcomes = withOutcomes
	if withOutcomes > 0 {
		rate := float64(accurate) / float64(withOutcomes) * 100.0
		idx.AccuracyRate = &rate
	}
	idx.LastUpdated = now.UTC().Format(stampFormat)
}

// IndexDecision records one parsed decision in the manifest and returns
// the generated id used later to attach an outcome.
func (t *Trail) IndexDecision(ctx context.Context, model string, d types.ModelDecision, logFile string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	id := fmt.Sprintf("%s_%s", now.Format("20060102150405"), d.Symbol)

	direction, target := "unknown", 0.0
	if d.Prediction != nil {
		direction = d.Prediction.Direction
		target = d.Prediction.PriceTarget
	}

	entry := IndexEntry{
		ID:                   id,
		Timestamp:            now.Format(stampFormat),
		Model:                model,
		Symbol:               d.Symbol,
		Action:               d.Action,
		Confidence:           deref(d.Confidence),
		QuantityPercent:      deref(d.QuantityPercent),
		PredictedDirection:   direction,
		PredictedPriceTarget: target,
		LogFile:              logFile,
	}

	idx := t.LoadIndex()
	idx.Add(entry, now)
	if err := t.SaveIndex(idx); err != nil {
		return "", err
	}
	return id, nil
}

// RecordOutcome loads the manifest, attaches the outcome and saves it.
func (t *Trail) RecordOutcome(ctx context.Context, id string, pnl float64, accurate bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.LoadIndex()
	idx.UpdateOutcome(id, pnl, accurate, t.now())
	return t.SaveIndex(idx)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
