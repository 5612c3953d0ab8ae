package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types.
type sessionCtxKey struct{}
type roundCtxKey struct{}
type candidateCtxKey struct{}
type requestCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}
	if roundID := RoundIDFromContext(ctx); roundID != "" {
		fields = append(fields, zap.String("round.id", roundID))
	}
	if candidateID := CandidateIDFromContext(ctx); candidateID != "" {
		fields = append(fields, zap.String("candidate.id", candidateID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// WithSessionID adds a session ID to context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionIDFromContext extracts the session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRoundID adds a round ID to context.
func WithRoundID(ctx context.Context, roundID string) context.Context {
	return context.WithValue(ctx, roundCtxKey{}, roundID)
}

// RoundIDFromContext extracts the round ID from context.
func RoundIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(roundCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithCandidateID adds a candidate ID to context.
func WithCandidateID(ctx context.Context, candidateID string) context.Context {
	return context.WithValue(ctx, candidateCtxKey{}, candidateID)
}

// CandidateIDFromContext extracts the candidate ID from context.
func CandidateIDFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(candidateCtxKey{}).(string); ok {
		return c
	}
	return ""
}

// WithRequestID adds a request ID to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
