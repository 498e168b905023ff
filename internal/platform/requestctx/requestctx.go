// Package requestctx carries per-request identity and tracing identifiers
// through context.
package requestctx

import "context"

type actorContextKey struct{}

type requestIDContextKey struct{}

type correlationIDContextKey struct{}

// WithActor stores the authenticated actor label (for example "api-key" or
// "anonymous") in context.
func WithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor stored in context, or "unknown".
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return "unknown"
	}
	value, _ := ctx.Value(actorContextKey{}).(string)
	if value == "" {
		return "unknown"
	}
	return value
}

// WithRequestID stores the caller-visible request identifier in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request identifier stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey{}).(string)
	return value
}

// WithCorrelationID stores the server-generated correlation identifier.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDContextKey{}, correlationID)
}

// CorrelationIDFromContext returns the correlation identifier stored in context.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(correlationIDContextKey{}).(string)
	return value
}
