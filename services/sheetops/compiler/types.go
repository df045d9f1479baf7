// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

// CallKind distinguishes compiled read calls from batch writes.
type CallKind int

const (
	// CallRead is a single remote read.
	CallRead CallKind = iota
	// CallWriteBatch is one remote batch-write invocation.
	CallWriteBatch
)

// Call is one remote invocation produced by compilation. Derived and
// disposable: it exists only for one compile-and-dispatch cycle.
type Call struct {
	Kind          CallKind
	SpreadsheetID string

	// ReadRange is set for CallRead.
	ReadRange grid.Range

	// Ops is the ordered operation list for CallWriteBatch.
	Ops []remote.Op

	// AffectedRanges is every range the call touches.
	AffectedRanges []grid.Range

	// IntentIDs are the intents this call realizes, submission order.
	IntentIDs []string

	// Structural is true when any op shifts coordinates; the
	// dispatcher invalidates the whole resource's cache afterwards.
	Structural bool
}

// Category is the governor call category for this call.
func (c Call) Category() string {
	if c.Kind == CallRead {
		return "read"
	}
	return "write"
}

// Mutates reports whether the call changes remote state.
func (c Call) Mutates() bool { return c.Kind == CallWriteBatch }

// CachedRead is a read intent satisfied from the cache; it never
// reaches the remote.
type CachedRead struct {
	IntentID string
	Value    remote.ValueRange
}

// StagedRead is a read intent rewritten to consult a staged write
// from the same compile set instead of issuing a remote call.
type StagedRead struct {
	IntentID string
	Value    remote.ValueRange
}

// Plan is the compiled output for one resource.
type Plan struct {
	SpreadsheetID string
	Calls         []Call
	CachedReads   []CachedRead
	StagedReads   []StagedRead
}

// AffectedRanges returns every range the plan's calls touch.
func (p Plan) AffectedRanges() []grid.Range {
	var out []grid.Range
	for _, call := range p.Calls {
		out = append(out, call.AffectedRanges...)
	}
	return out
}

// RemoteCalls returns how many remote invocations the plan costs.
func (p Plan) RemoteCalls() int { return len(p.Calls) }

// ResourceError pairs a resource with its compilation failure. One
// resource's conflict never aborts another's plan.
type ResourceError struct {
	SpreadsheetID string
	Err           error
}

// Error implements the error interface.
func (e ResourceError) Error() string {
	return "compile " + e.SpreadsheetID + ": " + e.Err.Error()
}

// Unwrap returns the underlying compilation error.
func (e ResourceError) Unwrap() error { return e.Err }

// Preview is the dry-run result: the compiled plan plus estimated
// affected ranges, with no remote effect.
type Preview struct {
	Plans    []Plan
	Failures []ResourceError
}

// TotalCalls sums remote invocations across all plans.
func (p Preview) TotalCalls() int {
	n := 0
	for _, plan := range p.Plans {
		n += plan.RemoteCalls()
	}
	return n
}
