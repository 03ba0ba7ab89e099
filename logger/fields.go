package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across subman.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldTxID = "tx_id"
	FieldStep = "step"

	// Pallets and sources
	FieldPallet     = "pallet"
	FieldSourceKind = "source_kind"
	FieldSource     = "source"
	FieldVersion    = "version"
	FieldOutcome    = "outcome"
	FieldModified   = "modified"

	// Timing and retries
	FieldDurationMS = "duration_ms"
	FieldAttempt    = "attempt"
	FieldDelay      = "delay"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount = "count"

	// Files and paths
	FieldFile = "file"
	FieldPath = "path"

	// Network
	FieldURL    = "url"
	FieldStatus = "status"
)

// Context keys for propagating logging context
type contextKey string

const txIDKey contextKey = "logger_tx_id"

// WithTxID adds a transaction ID to the context for logging
func WithTxID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, txIDKey, txID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if txID, ok := ctx.Value(txIDKey).(string); ok && txID != "" {
		fields = append(fields, FieldTxID, txID)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	resolver := source.NewResolver(cfg, source.WithLogger(logger.ComponentLogger("source")))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
