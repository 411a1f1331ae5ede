package llm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ai-paper-trader/internal/audit"
)

type fakeQuerier struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (f *fakeQuerier) QueryWithThinking(ctx context.Context, prompt, system, model string) (string, string, error) {
	f.calls = append(f.calls, model)
	if err, ok := f.errs[model]; ok {
		return "", "", err
	}
	return f.responses[model], "considered momentum and volume", nil
}

func (f *fakeQuerier) Available(ctx context.Context) bool { return true }

const validResponse = `Here is my analysis.
{
  "decisions": [
    {
      "action": "BUY",
      "symbol": "NVDA",
      "quantity_percent": 8.0,
      "confidence": 0.75,
      "reasoning": "Strong momentum",
      "prediction": {"direction": "bullish", "price_target": 150.0, "timeframe_days": 5}
    }
  ],
  "market_outlook": "risk-on",
  "session_notes": null
}
Good luck!`

func newTestTrail(t *testing.T) *audit.Trail {
	t.Helper()
	trail, err := audit.NewTrail(t.TempDir())
	if err != nil {
		t.Fatalf("NewTrail: %v", err)
	}
	return trail
}

func TestFallbackChain(t *testing.T) {
	q := &fakeQuerier{
		errs: map[string]error{
			"model-a": errors.New("connection refused"),
		},
		responses: map[string]string{
			"model-b": "this is not JSON at all",
			"model-c": validResponse,
		},
	}
	trail := newTestTrail(t)
	o, err := NewOrchestrator(q, trail, []string{"model-a", "model-b", "model-c"}, "system")
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	parsed, model, err := o.Query(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if model != "model-c" {
		t.Errorf("winning model = %q, want model-c", model)
	}
	if len(parsed.Decisions) != 1 || parsed.Decisions[0].Symbol != "NVDA" {
		t.Errorf("parsed = %+v", parsed)
	}
	if len(q.calls) != 3 {
		t.Errorf("made %d backend calls, want 3", len(q.calls))
	}

	// Exactly one attempt log per model tried, failures included.
	files, err := filepath.Glob(filepath.Join(trail.Dir(), "ai_decision_*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Errorf("wrote %d attempt logs, want 3", len(files))
	}
}

func TestAllModelsFail(t *testing.T) {
	q := &fakeQuerier{
		errs: map[string]error{
			"model-a": errors.New("timeout"),
		},
		responses: map[string]string{
			"model-b": `{"decisions": []}`,
		},
	}
	o, err := NewOrchestrator(q, newTestTrail(t), []string{"model-a", "model-b"}, "")
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	parsed, _, err := o.Query(context.Background(), "prompt")
	if !errors.Is(err, ErrAllModelsFailed) {
		t.Fatalf("err = %v, want ErrAllModelsFailed", err)
	}
	if parsed != nil {
		t.Error("failed chain must not return partial decisions")
	}
}

func TestNewOrchestratorEmptyChain(t *testing.T) {
	if _, err := NewOrchestrator(&fakeQuerier{}, newTestTrail(t), nil, ""); err == nil {
		t.Fatal("empty model list accepted")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"surrounding prose", `sure! {"a":1} hope that helps`, `{"a":1}`, false},
		{"nested braces", `x {"a":{"b":2}} y`, `{"a":{"b":2}}`, false},
		{"no object", "nothing here", "", true},
		{"reversed braces", "} {", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("got %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDecisionResponseRejections(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty decisions", `{"decisions": []}`},
		{"missing symbol", `{"decisions":[{"action":"BUY","quantity_percent":5,"confidence":0.5}]}`},
		{"missing quantity", `{"decisions":[{"action":"BUY","symbol":"A","confidence":0.5}]}`},
		{"bad action", `{"decisions":[{"action":"SHORT","symbol":"A","quantity_percent":5,"confidence":0.5}]}`},
		{"percent out of range", `{"decisions":[{"action":"BUY","symbol":"A","quantity_percent":150,"confidence":0.5}]}`},
		{"malformed", `{"decisions": [}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDecisionResponse(tt.in); err == nil {
				t.Fatal("invalid response accepted")
			}
		})
	}
}

func TestParseDecisionResponseNormalizesFields(t *testing.T) {
	in := `{"decisions":[{"action":"buy","symbol":"AAPL","quantity_percent":5,"confidence":0.5,
		"prediction":{"direction":"Bullish","price_target":210,"timeframe_days":3}}]}`
	parsed, err := ParseDecisionResponse(in)
	if err != nil {
		t.Fatalf("ParseDecisionResponse: %v", err)
	}
	d := parsed.Decisions[0]
	if d.Action != "BUY" {
		t.Errorf("action = %q, want uppercased BUY", d.Action)
	}
	if d.Prediction.Direction != "bullish" {
		t.Errorf("direction = %q, want lowercased bullish", d.Prediction.Direction)
	}
}

func TestHoldDecisionIsValid(t *testing.T) {
	in := `{"decisions":[{"action":"HOLD","symbol":"SPY","quantity_percent":0,"confidence":0.9,
		"reasoning":"nothing attractive","prediction":null}]}`
	parsed, err := ParseDecisionResponse(in)
	if err != nil {
		t.Fatalf("ParseDecisionResponse: %v", err)
	}
	if parsed.Decisions[0].Prediction != nil {
		t.Error("null prediction must stay nil")
	}
}
