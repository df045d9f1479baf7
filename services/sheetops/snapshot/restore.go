// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"github.com/AleutianAI/sheetops/services/sheetops/compiler"
	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

// RestoreCalls builds the compiled calls that bring a resource from
// its current state back to the snapshot. Per captured sheet: clear,
// trim rows added since the capture, rewrite the captured values.
// Sheets added since the capture are deleted.
//
// The calls dispatch through the same governed path as any other
// write; restore is not a bypass.
func RestoreCalls(current remote.ResourceState, snap Snapshot) []compiler.Call {
	currentRows := make(map[string]int, len(current.Sheets))
	for _, sheet := range current.Sheets {
		currentRows[sheet.Name] = sheet.Extent.EndRow
	}

	var calls []compiler.Call
	captured := make(map[string]bool, len(snap.State.Sheets))
	for _, sheet := range snap.State.Sheets {
		captured[sheet.Name] = true
		full := wholeSheet(sheet.Name)

		ops := []remote.Op{{Type: remote.OpClear, Range: full}}
		if rows := currentRows[sheet.Name]; rows > sheet.Extent.EndRow {
			ops = append(ops, remote.Op{
				Type:  remote.OpDeleteRows,
				Range: grid.Range{Sheet: sheet.Name, StartRow: sheet.Extent.EndRow, EndRow: rows},
				Count: rows - sheet.Extent.EndRow,
			})
		}
		if len(sheet.Values) > 0 {
			ops = append(ops, remote.Op{Type: remote.OpUpdateValues, Range: sheet.Extent, Values: sheet.Values})
		}

		calls = append(calls, compiler.Call{
			Kind:           compiler.CallWriteBatch,
			SpreadsheetID:  snap.SpreadsheetID,
			Ops:            ops,
			AffectedRanges: []grid.Range{full},
			Structural:     true,
		})
	}

	for _, sheet := range current.Sheets {
		if captured[sheet.Name] {
			continue
		}
		full := wholeSheet(sheet.Name)
		calls = append(calls, compiler.Call{
			Kind:           compiler.CallWriteBatch,
			SpreadsheetID:  snap.SpreadsheetID,
			Ops:            []remote.Op{{Type: remote.OpDeleteSheet, Range: full}},
			AffectedRanges: []grid.Range{full},
			Structural:     true,
		})
	}
	return calls
}

func wholeSheet(name string) grid.Range {
	return grid.Range{
		Sheet:    name,
		StartCol: 0, EndCol: grid.Unbounded,
		StartRow: 0, EndRow: grid.Unbounded,
	}
}
