package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceLLMCallPassesThrough(t *testing.T) {
	out, err := TraceLLMCall(context.Background(), "gpt-4o", func(ctx context.Context) (string, error) {
		require.NotNil(t, ctx)
		return "answer", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
}

func TestTraceRemoteCallPropagatesError(t *testing.T) {
	boom := errors.New("agent unreachable")
	out, err := TraceRemoteCall(context.Background(), "planner", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)
}

func TestTraceToolCallPassesResult(t *testing.T) {
	out, err := TraceToolCall(context.Background(), "search/web_search", func(ctx context.Context) (any, error) {
		return map[string]any{"hits": 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"hits": 3}, out)
}
