// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for transaction metrics.
var meter = otel.Meter("sheetops.transaction")

// Metric instruments for the coordinator.
var (
	resolutionsTotal metric.Int64Counter
	expirationsTotal metric.Int64Counter

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
		resolutionsTotal, metricsErr = meter.Int64Counter(
			"sheetops_transaction_resolutions_total",
			metric.WithDescription("Transactions reaching a terminal state, by status"),
		)
		if metricsErr != nil {
			return
		}
		expirationsTotal, metricsErr = meter.Int64Counter(
			"sheetops_transaction_expirations_total",
			metric.WithDescription("Pending transactions rolled back by the expiry sweeper"),
		)
	})
	return metricsErr
}

func recordResolution(status string) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	resolutionsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func recordExpiration() {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	expirationsTotal.Add(context.Background(), 1)
}
