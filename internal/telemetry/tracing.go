// Package telemetry provides span instrumentation for the engine's external
// calls: decision-capability requests, remote-agent calls and tool
// invocations. Spans go through the process-global OpenTelemetry tracer
// provider; without a configured SDK they are no-ops.
// This package is internal and should not be imported by external projects.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/BaSui01/agentmesh"

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

func endSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceLLMCall 为一次决策能力调用创建 span
func TraceLLMCall(ctx context.Context, model string, fn func(context.Context) (string, error)) (string, error) {
	ctx, span := startSpan(ctx, "llm.completion",
		attribute.String("llm.model", model))
	out, err := fn(ctx)
	endSpan(span, err)
	return out, err
}

// TraceRemoteCall 为一次远程智能体调用创建 span
func TraceRemoteCall(ctx context.Context, agentID string, fn func(context.Context) (any, error)) (any, error) {
	ctx, span := startSpan(ctx, "agent.call",
		attribute.String("agent.id", agentID))
	out, err := fn(ctx)
	endSpan(span, err)
	return out, err
}

// TraceToolCall 为一次工具调用创建 span
func TraceToolCall(ctx context.Context, tool string, fn func(context.Context) (any, error)) (any, error) {
	ctx, span := startSpan(ctx, "tool.invoke",
		attribute.String("tool.name", tool))
	out, err := fn(ctx)
	endSpan(span, err)
	return out, err
}
