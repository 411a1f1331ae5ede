// Package audit persists the durable on-disk evidence trail for every
// model query attempt: per-attempt JSON files, a per-day JSONL aggregate,
// raw text dumps for debugging, and a cumulative decision index with
// prediction outcomes.
package audit

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/types"
)

const (
	stampFormat = "2006-01-02 15:04:05 UTC"
	fileStamp   = "20060102_150405"
)

// AttemptLog is one model query attempt, success or failure. Exactly one
// of ParsedDecisions and Error is set on a finished attempt.
type AttemptLog struct {
	Timestamp       string                  `json:"timestamp"`
	Model           string                  `json:"model"`
	Prompt          string                  `json:"prompt"`
	RawResponse     string                  `json:"raw_response"`
	ParsedDecisions *types.DecisionResponse `json:"parsed_decisions"`
	Error           *string                 `json:"error"`
}

// NewAttemptLog starts an attempt record for a model and prompt.
func NewAttemptLog(model, prompt string) *AttemptLog {
	return &AttemptLog{
		Timestamp: time.Now().UTC().Format(stampFormat),
		Model:     model,
		Prompt:    prompt,
	}
}

// SetError marks the attempt failed.
func (a *AttemptLog) SetError(err error) {
	msg := err.Error()
	a.Error = &msg
}

// Trail owns one audit log directory. All writes are serialized through
// its mutex so concurrent callers cannot interleave a JSONL line.
type Trail struct {
	mu  sync.Mutex
	dir string

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// NewTrail creates (if needed) and opens the audit directory.
func NewTrail(dir string) (*Trail, error) {
	if err := os.MkdirAll(filepath.Join(dir, "raw"), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	return &Trail{dir: dir, Now: time.Now}, nil
}

// Dir returns the audit directory path.
func (t *Trail) Dir() string { return t.dir }

func (t *Trail) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// SaveAttempt writes the attempt as its own pretty-printed JSON file and
// returns the file path.
func (t *Trail) SaveAttempt(ctx context.Context, a *AttemptLog) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Filenames are second-granular; successive fallback attempts within
	// one second get a numeric suffix instead of overwriting each other.
	base := fmt.Sprintf("ai_decision_%s", t.now().Format(fileStamp))
	path := filepath.Join(t.dir, base+".json")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(t.dir, fmt.Sprintf("%s_%d.json", base, n))
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling attempt log: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing attempt log: %w", err)
	}
	logger.Debug(ctx, "Attempt log saved", "path", path, "model", a.Model)
	return path, nil
}

// AppendDaily appends the attempt as one line to today's JSONL aggregate.
func (t *Trail) AppendDaily(ctx context.Context, a *AttemptLog) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := filepath.Join(t.dir, fmt.Sprintf("decisions_%s.jsonl", t.now().Format("20060102")))
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling attempt log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening daily log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to daily log: %w", err)
	}
	return nil
}

// SaveRaw dumps the exact prompt and response text for one attempt to a
// debug file under raw/, colons in the model name replaced so the name is
// filesystem-safe.
func (t *Trail) SaveRaw(ctx context.Context, model, prompt, response string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	name := fmt.Sprintf("raw_%s_%s.txt", strings.ReplaceAll(model, ":", "_"), now.Format(fileStamp))
	path := filepath.Join(t.dir, "raw", name)

	var b strings.Builder
	b.WriteString("=== AI TRADER RAW LOG ===\n")
	fmt.Fprintf(&b, "Timestamp: %s\n", now.Format(stampFormat))
	fmt.Fprintf(&b, "Model: %s\n", model)
	b.WriteString("\n=== PROMPT SENT ===\n")
	b.WriteString(prompt)
	b.WriteString("\n\n=== RAW RESPONSE ===\n")
	b.WriteString(response)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing raw dump: %w", err)
	}
	return path, nil
}

// CompressOlder gzips plain log files older than the retention window and
// removes the originals. index.json and already-compressed files are left
// alone.
func (t *Trail) CompressOlder(ctx context.Context, retentionDays int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().AddDate(0, 0, -retentionDays)
	compressed := 0

	for _, sub := range []string{t.dir, filepath.Join(t.dir, "raw")} {
		entries, err := os.ReadDir(sub)
		if err != nil {
			return compressed, fmt.Errorf("reading audit directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || e.Name() == "index.json" || strings.HasSuffix(e.Name(), ".gz") {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(sub, e.Name())
			if err := gzipFile(path); err != nil {
				logger.ErrorWithErr(ctx, "Failed to compress audit file", err, "path", path)
				continue
			}
			compressed++
		}
	}

	if compressed > 0 {
		logger.Info(ctx, "Compressed old audit files", "count", compressed, "retention_days", retentionDays)
	}
	return compressed, nil
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
