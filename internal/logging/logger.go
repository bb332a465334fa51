package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// NewLogger builds a production ready structured logger. An empty level
// defaults to info; extra output paths (e.g. a log file) are appended to stderr.
func NewLogger(level string, outputPaths ...string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = lvl
	}
	for _, path := range outputPaths {
		if path != "" {
			cfg.OutputPaths = append(cfg.OutputPaths, path)
		}
	}
	return cfg.Build()
}

// WithOperation enriches the logger with operation and request identifiers.
func WithOperation(logger *zap.Logger, operation, requestID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return logger.With(fields...)
}

// ContextWithRequestID stores the request identifier on the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request identifier, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(requestIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}
