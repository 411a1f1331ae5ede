package llmobs

import (
	"context"

	"ai-paper-trader/internal/interfaces"
	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/trace"
)

// observableQuerier wraps a Querier with observability (logging & tracing)
type observableQuerier struct {
	querier interfaces.Querier
}

// Compile-time interface check
var _ interfaces.Querier = (*observableQuerier)(nil)

// Wrap wraps a querier with observability middleware
func Wrap(querier interfaces.Querier) interfaces.Querier {
	return &observableQuerier{
		querier: querier,
	}
}

func (oq *observableQuerier) QueryWithThinking(ctx context.Context, prompt, system, model string) (string, string, error) {
	ctx, span := trace.StartSpan(ctx, "llm.QueryWithThinking")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Querying model",
		"model", model,
		"prompt_chars", len(prompt),
	)

	response, thinking, err := oq.querier.QueryWithThinking(ctx, prompt, system, model)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Model query failed", err,
			"model", model,
		)
		return "", "", err
	}

	logger.InfoSkip(ctx, 1, "Model response received",
		"model", model,
		"response_chars", len(response),
		"thinking_chars", len(thinking),
	)
	return response, thinking, nil
}

func (oq *observableQuerier) Available(ctx context.Context) bool {
	available := oq.querier.Available(ctx)
	logger.DebugSkip(ctx, 1, "Model backend availability probe", "available", available)
	return available
}
