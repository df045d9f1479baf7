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
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/sheetops/services/sheetops/grid"
)

// Fake is an in-memory Client for tests and the CLI demo.
//
// Failures are injected per method via queues consumed in FIFO order,
// so a test can make exactly the third write fail. All calls are
// counted for single-flight and rate-ceiling assertions.
//
// Thread Safety: Safe for concurrent use.
type Fake struct {
	mu    sync.Mutex
	books map[string]map[string][][]any // spreadsheetID -> sheet -> rows
	etags map[string]int

	readErrs  []error
	writeErrs []error

	readCalls  int
	writeCalls int
	writeOps   []Op
}

var _ Client = (*Fake)(nil)

// NewFake creates an empty fake remote.
func NewFake() *Fake {
	return &Fake{
		books: make(map[string]map[string][][]any),
		etags: make(map[string]int),
	}
}

// Seed replaces a sheet's contents, creating spreadsheet and sheet as
// needed. Intended for test setup; does not bump the etag.
func (f *Fake) Seed(spreadsheetID, sheet string, values [][]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureSheet(spreadsheetID, sheet)
	f.books[spreadsheetID][sheet] = copyValues(values)
}

// FailNextRead queues an error for the next Read call.
func (f *Fake) FailNextRead(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs = append(f.readErrs, err)
}

// FailNextWrite queues an error for the next WriteBatch call.
// Call repeatedly to fail several consecutive writes.
func (f *Fake) FailNextWrite(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErrs = append(f.writeErrs, err)
}

// ReadCalls returns how many Read calls reached the fake.
func (f *Fake) ReadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readCalls
}

// WriteCalls returns how many WriteBatch calls reached the fake.
func (f *Fake) WriteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeCalls
}

// WriteOps returns every op applied so far, in application order.
func (f *Fake) WriteOps() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Op, len(f.writeOps))
	copy(out, f.writeOps)
	return out
}

// Read implements Client.
func (f *Fake) Read(ctx context.Context, spreadsheetID string, rng grid.Range, ifNoneMatch string) (ValueRange, string, error) {
	if err := ctx.Err(); err != nil {
		return ValueRange{}, "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readCalls++
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		return ValueRange{}, "", err
	}

	etag := f.etagLocked(spreadsheetID)
	if ifNoneMatch != "" && ifNoneMatch == etag {
		return ValueRange{}, etag, ErrNotModified
	}

	rows, err := f.sheetLocked(spreadsheetID, rng.Sheet)
	if err != nil {
		return ValueRange{}, "", err
	}
	clipped := clipToExtent(rng, rows)
	out := make([][]any, 0, clipped.Height())
	for r := clipped.StartRow; r < clipped.EndRow; r++ {
		row := make([]any, 0, clipped.Width())
		for c := clipped.StartCol; c < clipped.EndCol; c++ {
			row = append(row, cellAt(rows, r, c))
		}
		out = append(out, row)
	}
	return ValueRange{Range: clipped, Values: out}, etag, nil
}

// WriteBatch implements Client. The whole batch either applies or
// fails; there is no partial application within one call, matching
// the remote API's batch contract.
func (f *Fake) WriteBatch(ctx context.Context, spreadsheetID string, ops []Op) (BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeCalls++
	if len(f.writeErrs) > 0 {
		err := f.writeErrs[0]
		f.writeErrs = f.writeErrs[1:]
		return BatchResult{}, err
	}

	for _, op := range ops {
		if err := f.applyLocked(spreadsheetID, op); err != nil {
			return BatchResult{}, err
		}
	}
	f.writeOps = append(f.writeOps, ops...)
	f.etags[spreadsheetID]++
	return BatchResult{AppliedOps: len(ops), ETag: f.etagLocked(spreadsheetID)}, nil
}

// Export implements Client.
func (f *Fake) Export(ctx context.Context, spreadsheetID string) (ResourceState, error) {
	if err := ctx.Err(); err != nil {
		return ResourceState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	book, ok := f.books[spreadsheetID]
	if !ok {
		return ResourceState{}, &Error{Class: ClassPermanent, Err: fmt.Errorf("spreadsheet %s not found", spreadsheetID)}
	}
	names := make([]string, 0, len(book))
	for name := range book {
		names = append(names, name)
	}
	sort.Strings(names)

	state := ResourceState{SpreadsheetID: spreadsheetID}
	for _, name := range names {
		rows := book[name]
		state.Sheets = append(state.Sheets, SheetState{
			Name:   name,
			Extent: extentOf(name, rows),
			Values: copyValues(rows),
		})
	}
	return state, nil
}

func (f *Fake) etagLocked(spreadsheetID string) string {
	return fmt.Sprintf("v%d", f.etags[spreadsheetID])
}

func (f *Fake) ensureSheet(spreadsheetID, sheet string) {
	if f.books[spreadsheetID] == nil {
		f.books[spreadsheetID] = make(map[string][][]any)
	}
	if _, ok := f.books[spreadsheetID][sheet]; !ok {
		f.books[spreadsheetID][sheet] = [][]any{}
	}
}

func (f *Fake) sheetLocked(spreadsheetID, sheet string) ([][]any, error) {
	book, ok := f.books[spreadsheetID]
	if !ok {
		return nil, &Error{Class: ClassPermanent, Err: fmt.Errorf("spreadsheet %s not found", spreadsheetID)}
	}
	rows, ok := book[sheet]
	if !ok {
		return nil, &Error{Class: ClassPermanent, Err: fmt.Errorf("sheet %q not found in %s", sheet, spreadsheetID)}
	}
	return rows, nil
}

func (f *Fake) applyLocked(spreadsheetID string, op Op) error {
	sheet := op.Range.Sheet
	switch op.Type {
	case OpAddSheet:
		f.ensureSheet(spreadsheetID, sheet)
		return nil
	case OpDeleteSheet:
		if _, err := f.sheetLocked(spreadsheetID, sheet); err != nil {
			return err
		}
		delete(f.books[spreadsheetID], sheet)
		return nil
	}

	f.ensureSheet(spreadsheetID, sheet)
	rows := f.books[spreadsheetID][sheet]

	switch op.Type {
	case OpUpdateValues:
		rows = growTo(rows, op.Range.StartRow+len(op.Values), maxRowWidth(op.Range, op.Values))
		for i, vals := range op.Values {
			for j, v := range vals {
				rows[op.Range.StartRow+i][op.Range.StartCol+j] = v
			}
		}
	case OpClear:
		clipped := clipToExtent(op.Range, rows)
		for r := clipped.StartRow; r < clipped.EndRow; r++ {
			for c := clipped.StartCol; c < clipped.EndCol; c++ {
				if r < len(rows) && c < len(rows[r]) {
					rows[r][c] = nil
				}
			}
		}
	case OpInsertRows:
		at := min(op.Range.StartRow, len(rows))
		out := make([][]any, 0, len(rows)+op.Count)
		out = append(out, rows[:at]...)
		out = append(out, make([][]any, op.Count)...)
		out = append(out, rows[at:]...)
		rows = out
	case OpDeleteRows:
		at := min(op.Range.StartRow, len(rows))
		end := min(at+op.Count, len(rows))
		rows = append(rows[:at], rows[end:]...)
	case OpInsertColumns:
		for i := range rows {
			if op.Range.StartCol > len(rows[i]) {
				continue
			}
			out := make([]any, 0, len(rows[i])+op.Count)
			out = append(out, rows[i][:op.Range.StartCol]...)
			out = append(out, make([]any, op.Count)...)
			out = append(out, rows[i][op.Range.StartCol:]...)
			rows[i] = out
		}
	case OpDeleteColumns:
		for i := range rows {
			at := min(op.Range.StartCol, len(rows[i]))
			end := min(at+op.Count, len(rows[i]))
			rows[i] = append(rows[i][:at], rows[i][end:]...)
		}
	case OpFormat:
		// Formats are presentation-only; the fake accepts and drops them.
	default:
		return &Error{Class: ClassPermanent, Err: fmt.Errorf("unsupported op %v", op.Type)}
	}

	f.books[spreadsheetID][sheet] = rows
	return nil
}

func maxRowWidth(rng grid.Range, values [][]any) int {
	w := 0
	for _, row := range values {
		w = max(w, rng.StartCol+len(row))
	}
	return w
}

func growTo(rows [][]any, nRows, nCols int) [][]any {
	for len(rows) < nRows {
		rows = append(rows, []any{})
	}
	for i := range rows {
		for len(rows[i]) < nCols {
			rows[i] = append(rows[i], nil)
		}
	}
	return rows
}

func cellAt(rows [][]any, r, c int) any {
	if r < len(rows) && c < len(rows[r]) {
		return rows[r][c]
	}
	return nil
}

func clipToExtent(rng grid.Range, rows [][]any) grid.Range {
	out := rng
	if out.EndRow == grid.Unbounded {
		out.EndRow = len(rows)
	}
	if out.EndCol == grid.Unbounded {
		w := 0
		for _, row := range rows {
			w = max(w, len(row))
		}
		out.EndCol = w
	}
	out.EndRow = max(out.EndRow, out.StartRow)
	out.EndCol = max(out.EndCol, out.StartCol)
	return out
}

func extentOf(name string, rows [][]any) grid.Range {
	w := 0
	for _, row := range rows {
		w = max(w, len(row))
	}
	return grid.Range{Sheet: name, StartCol: 0, EndCol: w, StartRow: 0, EndRow: len(rows)}
}

func copyValues(values [][]any) [][]any {
	out := make([][]any, len(values))
	for i, row := range values {
		out[i] = append([]any(nil), row...)
	}
	return out
}
