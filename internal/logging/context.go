package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldPhase is the standardized structured logging key for orchestration phases.
	FieldPhase = "phase"
	// FieldBatch is the standardized structured logging key for 1-based batch indexes.
	FieldBatch = "batch"
	// FieldItemCode is the standardized structured logging key for work item codes.
	FieldItemCode = "item_code"
	// FieldEventType is the standardized structured logging key for event classification.
	FieldEventType = "event_type"
)

type contextKey int

const (
	jobIDKey contextKey = iota
	phaseKey
)

// WithJobID attaches a job identifier to the context for log enrichment.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithPhase attaches an orchestration phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// JobIDFromContext extracts a job identifier previously stored with WithJobID.
func JobIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(jobIDKey).(string)
	return id, ok && id != ""
}

// PhaseFromContext extracts a phase name previously stored with WithPhase.
func PhaseFromContext(ctx context.Context) (string, bool) {
	phase, ok := ctx.Value(phaseKey).(string)
	return phase, ok && phase != ""
}

// WithContext returns a logger augmented with structured fields derived from the context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	attrs := make([]Attr, 0, 2)
	if id, ok := JobIDFromContext(ctx); ok {
		attrs = append(attrs, String(FieldJobID, id))
	}
	if phase, ok := PhaseFromContext(ctx); ok {
		attrs = append(attrs, String(FieldPhase, phase))
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(Args(attrs...)...)
}
