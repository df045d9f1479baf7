// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mediator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const mediatorTracerName = "sheetops.mediator"

// Tracer provides OpenTelemetry tracing for mediation operations.
// When disabled, every method returns noop spans for zero overhead.
//
// Thread Safety: All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a mediator tracer.
//
// Inputs:
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(mediatorTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartSubmit starts a span for an intent submission.
func (t *Tracer) StartSubmit(ctx context.Context, intents int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	ctx, span := t.tracer.Start(ctx, "mediator.submit",
		trace.WithAttributes(attribute.Int("submit.intents", intents)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "submitting intents", slog.Int("intents", intents))
	return ctx, span
}

// EndSubmit completes a submission span.
func (t *Tracer) EndSubmit(span trace.Span, result SubmitResult, err error) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(
		attribute.Int("submit.applied_calls", result.AppliedCalls),
		attribute.Int("submit.reads", len(result.Reads)),
		attribute.Int("submit.resource_errors", len(result.ResourceErrors)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartCommit starts a span for a transaction commit.
func (t *Tracer) StartCommit(ctx context.Context, transactionID string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	ctx, span := t.tracer.Start(ctx, "mediator.commit",
		trace.WithAttributes(attribute.String("tx.id", transactionID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "committing transaction", slog.String("tx_id", transactionID))
	return ctx, span
}

// EndCommit completes a commit span.
func (t *Tracer) EndCommit(span trace.Span, status string, err error) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(attribute.String("tx.status", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartRestore starts a span for a snapshot restore.
func (t *Tracer) StartRestore(ctx context.Context, snapshotID string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, "mediator.restore",
		trace.WithAttributes(attribute.String("snapshot.id", snapshotID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRestore completes a restore span.
func (t *Tracer) EndRestore(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// LoggerWithTrace returns a logger carrying trace correlation fields
// when the context holds a valid span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
