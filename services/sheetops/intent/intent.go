// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent defines the canonical in-memory representation of a
// requested spreadsheet operation, independent of the caller protocol.
//
// An Intent is immutable once constructed: the compiler consumes each
// intent exactly once and never mutates it. Validation happens at
// construction so downstream components can trust well-formed values.
package intent

import (
	"fmt"

	"github.com/AleutianAI/sheetops/services/sheetops/grid"
)

// Kind identifies what an intent asks the remote to do.
type Kind int

const (
	// KindRead fetches values for a range.
	KindRead Kind = iota
	// KindWrite replaces values in a range.
	KindWrite
	// KindRestructure inserts or deletes rows, columns, or sheets.
	KindRestructure
	// KindFormat changes presentation without touching values.
	KindFormat
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindRestructure:
		return "restructure"
	case KindFormat:
		return "format"
	default:
		return "unknown"
	}
}

// StructuralOp names the restructure operation an intent carries.
type StructuralOp string

const (
	OpInsertRows    StructuralOp = "insert_rows"
	OpDeleteRows    StructuralOp = "delete_rows"
	OpInsertColumns StructuralOp = "insert_columns"
	OpDeleteColumns StructuralOp = "delete_columns"
	OpAddSheet      StructuralOp = "add_sheet"
	OpDeleteSheet   StructuralOp = "delete_sheet"
)

// Target names the resource and region an intent applies to.
type Target struct {
	// SpreadsheetID identifies the remote resource.
	SpreadsheetID string

	// Range is the affected region. For sheet-level structural
	// operations it covers the whole sheet.
	Range grid.Range
}

// SafetyOptions carry per-intent safeguards requested by the caller.
type SafetyOptions struct {
	// DryRun asks for a compiled plan without dispatch.
	DryRun bool

	// RequireSnapshot forces a snapshot before any mutation so the
	// change can be reversed.
	RequireSnapshot bool

	// TransactionID routes the intent into an open transaction.
	// Empty means standalone execution.
	TransactionID string
}

// Payload is the operation body. Exactly one field is set, matching
// the intent kind; the compiler dispatches on Kind and trusts this.
type Payload struct {
	// Values holds row-major cell values for write intents.
	Values [][]any

	// Structural describes a restructure operation.
	Structural StructuralOp

	// Count is the number of rows/columns a structural operation
	// inserts or deletes.
	Count int

	// Format holds opaque formatting directives for format intents.
	Format map[string]any
}

// Intent is one caller-declared operation. Construct with New; the
// zero value is not valid.
type Intent struct {
	// ID is the caller-assigned identifier, unique per submission.
	ID string

	Kind    Kind
	Target  Target
	Payload Payload
	Safety  SafetyOptions

	// Seq is the submission order index, assigned by the service on
	// intake. The compiler's stable ordering ties break on it.
	Seq int
}

// New constructs a validated Intent.
//
// Inputs:
//   - id: Caller-assigned identifier. Must be non-empty.
//   - kind: Operation kind.
//   - target: Resource and range.
//   - payload: Operation body matching kind.
//
// Outputs:
//   - Intent: The validated intent.
//   - error: *ValidationError if the intent is malformed.
func New(id string, kind Kind, target Target, payload Payload) (Intent, error) {
	in := Intent{ID: id, Kind: kind, Target: target, Payload: payload}
	if err := in.validate(); err != nil {
		return Intent{}, err
	}
	return in, nil
}

// WithSafety returns a copy of the intent with safety options applied.
func (in Intent) WithSafety(s SafetyOptions) Intent {
	in.Safety = s
	return in
}

// Mutates reports whether the intent changes remote state.
func (in Intent) Mutates() bool {
	return in.Kind != KindRead
}

func (in Intent) validate() error {
	if in.ID == "" {
		return &ValidationError{Reason: "intent id is empty"}
	}
	if in.Target.SpreadsheetID == "" {
		return &ValidationError{IntentID: in.ID, Reason: "target spreadsheet id is empty"}
	}
	switch in.Kind {
	case KindRead:
		// No payload required.
	case KindWrite:
		if len(in.Payload.Values) == 0 {
			return &ValidationError{IntentID: in.ID, Reason: "write intent has no values"}
		}
		if h := in.Target.Range.Height(); h != grid.Unbounded && len(in.Payload.Values) > h {
			return &ValidationError{
				IntentID: in.ID,
				Reason:   fmt.Sprintf("%d value rows exceed range height %d", len(in.Payload.Values), h),
			}
		}
	case KindRestructure:
		switch in.Payload.Structural {
		case OpInsertRows, OpDeleteRows, OpInsertColumns, OpDeleteColumns:
			if in.Payload.Count < 1 {
				return &ValidationError{IntentID: in.ID, Reason: "structural count must be positive"}
			}
		case OpAddSheet, OpDeleteSheet:
			if in.Target.Range.Sheet == "" {
				return &ValidationError{IntentID: in.ID, Reason: "sheet operation without sheet name"}
			}
		default:
			return &ValidationError{IntentID: in.ID, Reason: "unknown structural operation"}
		}
	case KindFormat:
		if len(in.Payload.Format) == 0 {
			return &ValidationError{IntentID: in.ID, Reason: "format intent has no directives"}
		}
	default:
		return &ValidationError{IntentID: in.ID, Reason: "unknown intent kind"}
	}
	return nil
}
