package common

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SetLogError logs err under description and marks the span in ctx as failed.
// err is returned unchanged so callers can keep classifying it with errors.As.
func SetLogError(ctx context.Context, description string, err error, logger *Logger, attrs ...attribute.KeyValue) error {
	fields := make([]zap.Field, 0, len(attrs)+1)
	fields = append(fields, zap.Error(err))
	for _, attr := range attrs {
		fields = append(fields, zap.String(string(attr.Key), attr.Value.Emit()))
	}
	logger.Ctx(ctx).Error(description, fields...)

	return SetSpanError(ctx, description, err, attrs...)
}

// SetSpanError marks the span in ctx as failed without logging. Backends use
// it and leave the log line to the caller that decides the outcome.
func SetSpanError(ctx context.Context, description string, err error, attrs ...attribute.KeyValue) error {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetAttributes(attrs...)
		span.SetStatus(codes.Error, description+": "+err.Error())
	}
	return err
}
