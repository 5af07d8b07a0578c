// internal/logging/context.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	// Request correlation
	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		fields = append(fields, zap.String("correlation_id", correlationID))
	}

	// Cycle position
	if pass := PassFromContext(ctx); pass > 0 {
		fields = append(fields, zap.Int("pass_number", pass))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}

	return fields
}

// Context key types
type correlationCtxKey struct{}
type passCtxKey struct{}
type phaseCtxKey struct{}

const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateID validates a correlation ID.
func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// CorrelationIDFromContext extracts the request correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithCorrelationID adds the request correlation ID to context.
// Panics if correlationID is empty or contains invalid characters.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if err := validateID(correlationID, "correlationID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, correlationCtxKey{}, correlationID)
}

// PassFromContext extracts the pass number from context, 0 when absent.
func PassFromContext(ctx context.Context) int {
	if p, ok := ctx.Value(passCtxKey{}).(int); ok {
		return p
	}
	return 0
}

// WithPass adds the current pass number to context.
// Panics if pass is not positive.
func WithPass(ctx context.Context, pass int) context.Context {
	if pass < 1 {
		panic(fmt.Sprintf("logging: pass must be >= 1, got %d", pass))
	}
	return context.WithValue(ctx, passCtxKey{}, pass)
}

// PhaseFromContext extracts the current phase label from context.
func PhaseFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		return p
	}
	return ""
}

// WithPhase adds the current phase label to context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
