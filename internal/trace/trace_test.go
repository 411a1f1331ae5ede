package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabled(t *testing.T) {
	t.Setenv("LOG_TRACING_ENABLED", "false")
	require.NoError(t, Init())
	assert.False(t, Enabled())

	ctx := context.Background()
	spanCtx, span := StartSpan(ctx, "test.span")
	assert.Equal(t, ctx, spanCtx, "disabled tracing must not rewrap the context")
	assert.False(t, span.SpanContext().IsValid())

	_, _, ok := GetTraceFields(ctx)
	assert.False(t, ok)

	require.NoError(t, Shutdown(ctx))
}

func TestEnvBool(t *testing.T) {
	t.Setenv("LOG_TRACING_ENABLED", "")
	assert.True(t, envBool("LOG_TRACING_ENABLED", true))
	assert.False(t, envBool("LOG_TRACING_ENABLED", false))

	t.Setenv("LOG_TRACING_ENABLED", "0")
	assert.False(t, envBool("LOG_TRACING_ENABLED", true))

	t.Setenv("LOG_TRACING_ENABLED", "not-a-bool")
	assert.True(t, envBool("LOG_TRACING_ENABLED", true))
}
