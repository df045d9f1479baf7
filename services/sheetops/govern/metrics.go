// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package govern

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for admission metrics.
var meter = otel.Meter("sheetops.govern")

// Metric instruments for the governor.
var (
	admissionsTotal metric.Int64Counter
	rejectionsTotal metric.Int64Counter
	outcomesTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
func initMetrics() error {
	metricsOnce.Do(func() {
		admissionsTotal, metricsErr = meter.Int64Counter(
			"sheetops_govern_admissions_total",
			metric.WithDescription("Calls admitted to the remote, by category"),
		)
		if metricsErr != nil {
			return
		}
		rejectionsTotal, metricsErr = meter.Int64Counter(
			"sheetops_govern_rejections_total",
			metric.WithDescription("Admissions rejected by an open circuit, by category"),
		)
		if metricsErr != nil {
			return
		}
		outcomesTotal, metricsErr = meter.Int64Counter(
			"sheetops_govern_outcomes_total",
			metric.WithDescription("Recorded call outcomes, by category and outcome"),
		)
	})
	return metricsErr
}

func recordAdmission(ctx context.Context, category string) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	admissionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func recordRejection(ctx context.Context, category string) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	rejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func recordOutcome(category string, outcome Outcome) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	outcomesTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("outcome", outcome.String()),
	))
}
