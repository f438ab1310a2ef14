package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/agentrelay/gateway"

// StartPolicySpan wraps one Policy Engine evaluation (SPEC_FULL.md §5
// "span attributes: layer, decision, tool").
func StartPolicySpan(ctx context.Context, tool string) (context.Context, trace.Span) {
	return Tracer(instrumentationName).Start(ctx, "policy.evaluate", trace.WithAttributes(attribute.String("tool", tool)))
}

// EndPolicySpan records the evaluation outcome and ends the span.
func EndPolicySpan(span trace.Span, layer, action string) {
	span.SetAttributes(attribute.String("layer", layer), attribute.String("decision", action))
	span.End()
}

// StartAgentSpan wraps one agent subprocess's lifetime, from spawn to exit.
func StartAgentSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return Tracer(instrumentationName).Start(ctx, "agent.process", trace.WithAttributes(attribute.String("sessionId", sessionID)))
}

// StartTurnSpan wraps the dispatch of one accepted turn to the agent
// backend; session.Manager.SubmitTurn ends it once Dispatch returns, so the
// later started and agent_end stages are not inside the span.
func StartTurnSpan(ctx context.Context, sessionID, clientTurnID, command string) (context.Context, trace.Span) {
	return Tracer(instrumentationName).Start(ctx, "turn."+command, trace.WithAttributes(
		attribute.String("sessionId", sessionID),
		attribute.String("clientTurnId", clientTurnID),
	))
}

// EndSpanErr ends span, recording err as the span status if non-nil.
func EndSpanErr(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	span.End()
}
