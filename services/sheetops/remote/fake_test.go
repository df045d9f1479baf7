// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/sheetops/services/sheetops/grid"
)

func seededFake() *Fake {
	f := NewFake()
	f.Seed("book", "Sheet1", [][]any{
		{"a", "b"},
		{"c", "d"},
	})
	return f
}

func rangeRef(t *testing.T, ref string) grid.Range {
	t.Helper()
	r, err := grid.ParseRange(ref)
	if err != nil {
		t.Fatalf("ParseRange(%q): %v", ref, err)
	}
	return r
}

func TestFakeRead(t *testing.T) {
	f := seededFake()

	vr, etag, err := f.Read(context.Background(), "book", rangeRef(t, "Sheet1!A1:B2"), "")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if etag != "v0" {
		t.Errorf("etag = %q, want v0", etag)
	}
	if len(vr.Values) != 2 || vr.Values[1][1] != "d" {
		t.Errorf("Values = %v, want 2 rows ending in d", vr.Values)
	}
	if f.ReadCalls() != 1 {
		t.Errorf("ReadCalls() = %d, want 1", f.ReadCalls())
	}
}

func TestFakeRead_NotModified(t *testing.T) {
	f := seededFake()

	_, etag, err := f.Read(context.Background(), "book", rangeRef(t, "Sheet1!A1:B2"), "")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	_, _, err = f.Read(context.Background(), "book", rangeRef(t, "Sheet1!A1:B2"), etag)
	if !errors.Is(err, ErrNotModified) {
		t.Errorf("conditional Read error = %v, want ErrNotModified", err)
	}
}

func TestFakeRead_UnknownResource(t *testing.T) {
	f := seededFake()

	_, _, err := f.Read(context.Background(), "missing", rangeRef(t, "Sheet1!A1"), "")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Class != ClassPermanent {
		t.Errorf("Read unknown book error = %v, want *Error ClassPermanent", err)
	}
}

func TestFakeWriteBatch_BumpsETag(t *testing.T) {
	f := seededFake()
	ops := []Op{{
		Type:   OpUpdateValues,
		Range:  rangeRef(t, "Sheet1!B2"),
		Values: [][]any{{"new"}},
	}}

	res, err := f.WriteBatch(context.Background(), "book", ops)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if res.AppliedOps != 1 || res.ETag != "v1" {
		t.Errorf("BatchResult = %+v, want 1 op at v1", res)
	}

	vr, etag, err := f.Read(context.Background(), "book", rangeRef(t, "Sheet1!B2"), "v0")
	if err != nil {
		t.Fatalf("Read after write: %v", err)
	}
	if etag != "v1" || vr.Values[0][0] != "new" {
		t.Errorf("Read after write = %v at %q, want new at v1", vr.Values, etag)
	}
}

func TestFakeFailureQueuesAreFIFO(t *testing.T) {
	f := seededFake()
	first := &Error{Class: ClassTransient, Err: errors.New("first")}
	second := &Error{Class: ClassRateLimited, Err: errors.New("second")}
	f.FailNextWrite(first)
	f.FailNextWrite(second)

	ops := []Op{{Type: OpUpdateValues, Range: rangeRef(t, "Sheet1!A1"), Values: [][]any{{"x"}}}}

	if _, err := f.WriteBatch(context.Background(), "book", ops); !errors.Is(err, first) {
		t.Errorf("first WriteBatch error = %v, want first injected", err)
	}
	if _, err := f.WriteBatch(context.Background(), "book", ops); !errors.Is(err, second) {
		t.Errorf("second WriteBatch error = %v, want second injected", err)
	}
	if _, err := f.WriteBatch(context.Background(), "book", ops); err != nil {
		t.Errorf("third WriteBatch error = %v, want queue drained", err)
	}
	if f.WriteCalls() != 3 {
		t.Errorf("WriteCalls() = %d, want 3", f.WriteCalls())
	}
}

func TestFakeStructuralOps(t *testing.T) {
	f := seededFake()

	insert := []Op{{Type: OpInsertRows, Range: grid.Range{Sheet: "Sheet1", StartRow: 1}, Count: 1}}
	if _, err := f.WriteBatch(context.Background(), "book", insert); err != nil {
		t.Fatalf("insert rows: %v", err)
	}

	vr, _, err := f.Read(context.Background(), "book", rangeRef(t, "Sheet1!A1:B3"), "")
	if err != nil {
		t.Fatalf("Read after insert: %v", err)
	}
	if vr.Values[0][0] != "a" || vr.Values[1][0] != nil || vr.Values[2][0] != "c" {
		t.Errorf("rows after insert = %v, want blank row between a and c", vr.Values)
	}

	del := []Op{{Type: OpDeleteRows, Range: grid.Range{Sheet: "Sheet1", StartRow: 1}, Count: 1}}
	if _, err := f.WriteBatch(context.Background(), "book", del); err != nil {
		t.Fatalf("delete rows: %v", err)
	}
	vr, _, err = f.Read(context.Background(), "book", rangeRef(t, "Sheet1!A1:B2"), "")
	if err != nil {
		t.Fatalf("Read after delete: %v", err)
	}
	if vr.Values[1][0] != "c" {
		t.Errorf("rows after delete = %v, want original second row back", vr.Values)
	}
}

func TestFakeSheetLifecycle(t *testing.T) {
	f := seededFake()

	add := []Op{{Type: OpAddSheet, Range: grid.Range{Sheet: "Q3"}}}
	if _, err := f.WriteBatch(context.Background(), "book", add); err != nil {
		t.Fatalf("add sheet: %v", err)
	}
	if _, _, err := f.Read(context.Background(), "book", rangeRef(t, "Q3!A1"), ""); err != nil {
		t.Errorf("Read new sheet: %v", err)
	}

	drop := []Op{{Type: OpDeleteSheet, Range: grid.Range{Sheet: "Q3"}}}
	if _, err := f.WriteBatch(context.Background(), "book", drop); err != nil {
		t.Fatalf("delete sheet: %v", err)
	}
	if _, _, err := f.Read(context.Background(), "book", rangeRef(t, "Q3!A1"), ""); err == nil {
		t.Error("Read deleted sheet should fail")
	}
}

func TestFakeExport(t *testing.T) {
	f := seededFake()
	f.Seed("book", "Archive", [][]any{{"old"}})

	state, err := f.Export(context.Background(), "book")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if state.SpreadsheetID != "book" || len(state.Sheets) != 2 {
		t.Fatalf("Export = %+v, want 2 sheets for book", state)
	}
	if state.Sheets[0].Name != "Archive" || state.Sheets[1].Name != "Sheet1" {
		t.Errorf("sheet order = %s, %s, want sorted by name", state.Sheets[0].Name, state.Sheets[1].Name)
	}

	// Export copies, never aliases live sheet data.
	state.Sheets[1].Values[0][0] = "tampered"
	vr, _, err := f.Read(context.Background(), "book", rangeRef(t, "Sheet1!A1"), "")
	if err != nil {
		t.Fatalf("Read after export: %v", err)
	}
	if vr.Values[0][0] != "a" {
		t.Errorf("cell = %v, export mutation leaked into the fake", vr.Values[0][0])
	}

	if _, err := f.Export(context.Background(), "missing"); err == nil {
		t.Error("Export of unknown spreadsheet should fail")
	}
}

func TestFakeContextCancellation(t *testing.T) {
	f := seededFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := f.Read(ctx, "book", rangeRef(t, "Sheet1!A1"), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Read error = %v, want context.Canceled", err)
	}
	if _, err := f.WriteBatch(ctx, "book", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("WriteBatch error = %v, want context.Canceled", err)
	}
	if f.ReadCalls() != 0 || f.WriteCalls() != 0 {
		t.Error("cancelled calls should not be counted")
	}
}
