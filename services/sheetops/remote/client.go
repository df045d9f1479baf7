// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package remote defines the boundary to the rate-limited tabular API.
//
// The concrete API client lives outside this repository; sheetops only
// depends on the Client interface and the error classification below.
// Fake (fake.go) is the in-process implementation used by tests and
// the CLI demo.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/sheetops/services/sheetops/grid"
)

// OpType enumerates the wire-level operations a batch may carry.
type OpType int

const (
	OpUpdateValues OpType = iota
	OpClear
	OpInsertRows
	OpDeleteRows
	OpInsertColumns
	OpDeleteColumns
	OpAddSheet
	OpDeleteSheet
	OpFormat
)

// String returns a human-readable op name.
func (t OpType) String() string {
	switch t {
	case OpUpdateValues:
		return "update_values"
	case OpClear:
		return "clear"
	case OpInsertRows:
		return "insert_rows"
	case OpDeleteRows:
		return "delete_rows"
	case OpInsertColumns:
		return "insert_columns"
	case OpDeleteColumns:
		return "delete_columns"
	case OpAddSheet:
		return "add_sheet"
	case OpDeleteSheet:
		return "delete_sheet"
	case OpFormat:
		return "format"
	default:
		return "unknown"
	}
}

// Structural reports whether the op shifts coordinates or sheets.
func (t OpType) Structural() bool {
	switch t {
	case OpInsertRows, OpDeleteRows, OpInsertColumns, OpDeleteColumns, OpAddSheet, OpDeleteSheet:
		return true
	}
	return false
}

// Op is one operation inside a batch write.
type Op struct {
	Type   OpType
	Range  grid.Range
	Values [][]any
	Count  int
	Format map[string]any
}

// ValueRange is the result of a read.
type ValueRange struct {
	Range  grid.Range
	Values [][]any
}

// BatchResult reports the outcome of a WriteBatch call.
type BatchResult struct {
	// AppliedOps is how many operations the remote applied.
	AppliedOps int

	// ETag is the resource version after the batch.
	ETag string
}

// SheetState is the captured state of one sheet.
type SheetState struct {
	Name   string
	Extent grid.Range
	Values [][]any
}

// ResourceState is a full point-in-time capture of a spreadsheet,
// sufficient to reverse any write the compiler can produce.
type ResourceState struct {
	SpreadsheetID string
	Sheets        []SheetState
}

// ErrNotModified is returned by conditional reads when the resource
// still matches the supplied etag. The caller keeps its cached value.
var ErrNotModified = errors.New("remote: not modified")

// Client is the typed surface of the remote API.
//
// Implementations classify their failures via *Error so the governor
// and compiler can key retry and circuit decisions on the class.
type Client interface {
	// Read fetches values for a range. ifNoneMatch carries a previous
	// etag for conditional fetches; ErrNotModified means the cached
	// value is still current.
	Read(ctx context.Context, spreadsheetID string, rng grid.Range, ifNoneMatch string) (ValueRange, string, error)

	// WriteBatch applies operations in order as one remote call.
	WriteBatch(ctx context.Context, spreadsheetID string, ops []Op) (BatchResult, error)

	// Export captures the full resource state for snapshotting.
	Export(ctx context.Context, spreadsheetID string) (ResourceState, error)
}

// Class buckets remote failures for retry and circuit decisions.
type Class int

const (
	// ClassPermanent failures are never retried.
	ClassPermanent Class = iota
	// ClassTransient failures are retried with backoff.
	ClassTransient
	// ClassRateLimited failures are retried after the governor's
	// adaptive delay.
	ClassRateLimited
)

// String returns a human-readable class name.
func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is a classified remote failure.
type Error struct {
	// Class drives retry and circuit behavior.
	Class Class

	// RetryAfter is the remote's suggested wait for rate-limited
	// failures. Zero means none supplied.
	RetryAfter time.Duration

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("remote %s error: %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Classify extracts the failure class from an error chain.
// Unclassified errors are treated as permanent.
func Classify(err error) Class {
	var re *Error
	if errors.As(err, &re) {
		return re.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassPermanent
}

// Retryable reports whether an error class warrants a local retry.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassTransient, ClassRateLimited:
		return true
	}
	return false
}
