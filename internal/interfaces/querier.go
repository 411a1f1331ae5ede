package interfaces

import "context"

// Querier is a single LLM backend. Implementations must treat the model
// name as opaque; the orchestrator owns the fallback order.
type Querier interface {
	// QueryWithThinking issues an extended-reasoning query and returns the
	// final response text plus the model's thinking trace, when the backend
	// exposes one.
	QueryWithThinking(ctx context.Context, prompt, system, model string) (response, thinking string, err error)

	// Available reports whether the backend is reachable. Used for startup
	// diagnostics only; queries are attempted regardless.
	Available(ctx context.Context) bool
}
