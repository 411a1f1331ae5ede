// Package llm runs the model fallback chain: query each configured model
// in priority order until one returns a parseable decision set, logging
// every attempt durably before moving on.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-paper-trader/internal/audit"
	"ai-paper-trader/internal/interfaces"
	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/trace"
	"ai-paper-trader/internal/types"
)

// ErrAllModelsFailed means every model in the priority chain failed on
// transport or parse. The cycle fails loud rather than returning an empty
// decision list, so "no decisions" never masquerades as "all HOLD".
var ErrAllModelsFailed = errors.New("all models in the priority chain failed")

// ErrNoJSON means the response text contained no JSON object at all.
var ErrNoJSON = errors.New("no JSON object found in model response")

// Orchestrator owns the priority fallback over one Querier backend.
type Orchestrator struct {
	querier interfaces.Querier
	trail   *audit.Trail
	models  []string
	system  string
}

// NewOrchestrator builds an orchestrator. models must be non-empty and is
// tried strictly in order.
func NewOrchestrator(querier interfaces.Querier, trail *audit.Trail, models []string, systemPrompt string) (*Orchestrator, error) {
	if len(models) == 0 {
		return nil, errors.New("model priority list must not be empty")
	}
	return &Orchestrator{
		querier: querier,
		trail:   trail,
		models:  models,
		system:  systemPrompt,
	}, nil
}

// Query runs the fallback chain for one prompt. It returns the first
// successfully parsed response and the model that produced it. Every
// attempt, success or failure, is written to the audit trail before the
// next attempt starts, so a crash mid-chain loses no evidence.
func (o *Orchestrator) Query(ctx context.Context, prompt string) (*types.DecisionResponse, string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.fallback-chain")
	defer span.End()

	var lastErr error
	for i, model := range o.models {
		logger.Info(ctx, "Querying model", "model", model, "attempt", i+1, "of", len(o.models))

		attempt := audit.NewAttemptLog(model, prompt)

		response, thinking, err := o.querier.QueryWithThinking(ctx, prompt, o.system, model)
		if err != nil {
			attempt.SetError(err)
			o.persistAttempt(ctx, attempt)
			lastErr = err
			continue
		}

		attempt.RawResponse = combineRaw(response, thinking)
		if _, err := o.trail.SaveRaw(ctx, model, prompt, attempt.RawResponse); err != nil {
			logger.ErrorWithErr(ctx, "Failed to save raw model dump", err, "model", model)
		}

		parsed, err := ParseDecisionResponse(response)
		if err != nil {
			attempt.SetError(err)
			o.persistAttempt(ctx, attempt)
			logger.Warn(ctx, "Model response failed to parse, falling back",
				"model", model, "error", err.Error())
			lastErr = err
			continue
		}

		attempt.ParsedDecisions = parsed
		logFile := o.persistAttempt(ctx, attempt)

		// Index each decision for later outcome grading. The minted id is
		// carried on the decision so the grader can join back to the
		// manifest entry instead of reconstructing the id from a clock.
		for i := range parsed.Decisions {
			id, err := o.trail.IndexDecision(ctx, model, parsed.Decisions[i], logFile)
			if err != nil {
				logger.ErrorWithErr(ctx, "Failed to index decision", err, "symbol", parsed.Decisions[i].Symbol)
				continue
			}
			parsed.Decisions[i].AuditIndexID = id
		}

		logger.Info(ctx, "Model produced valid decisions",
			"model", model, "decisions", len(parsed.Decisions))
		return parsed, model, nil
	}

	return nil, "", fmt.Errorf("%w: last error: %v", ErrAllModelsFailed, lastErr)
}

// Available probes the backend.
func (o *Orchestrator) Available(ctx context.Context) bool {
	return o.querier.Available(ctx)
}

// Models returns the configured priority chain.
func (o *Orchestrator) Models() []string {
	return o.models
}

func (o *Orchestrator) persistAttempt(ctx context.Context, attempt *audit.AttemptLog) string {
	path, err := o.trail.SaveAttempt(ctx, attempt)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to save attempt log", err, "model", attempt.Model)
		path = "unknown"
	}
	if err := o.trail.AppendDaily(ctx, attempt); err != nil {
		logger.ErrorWithErr(ctx, "Failed to append daily log", err, "model", attempt.Model)
	}
	return path
}

// combineRaw embeds the thinking trace alongside the response so the raw
// dump preserves everything the model produced.
func combineRaw(response, thinking string) string {
	if thinking == "" {
		return response
	}
	return "=== THINKING ===\n" + thinking + "\n\n=== RESPONSE ===\n" + response
}

// ExtractJSON pulls the first '{' through last '}' span out of text.
// Models often wrap their JSON in prose; everything outside the braces is
// discarded.
func ExtractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", ErrNoJSON
	}
	return text[start : end+1], nil
}

// ParseDecisionResponse extracts and strictly validates the decision JSON
// from raw model output.
func ParseDecisionResponse(text string) (*types.DecisionResponse, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	var parsed types.DecisionResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parsing decision JSON: %w", err)
	}
	if err := parsed.Validate(); err != nil {
		return nil, fmt.Errorf("validating decision response: %w", err)
	}
	return &parsed, nil
}
