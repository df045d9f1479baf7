// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/sheetops/cmd/sheetops/config"
	"github.com/AleutianAI/sheetops/pkg/logging"
	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/intent"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
)

const sampleIntentFile = `
seed:
  budget:
    Sheet1:
      - [item, cost]
      - [rent, 1200]
intents:
  - id: w1
    kind: write
    spreadsheet: budget
    range: Sheet1!B2
    values: [[1250]]
  - id: r1
    kind: read
    spreadsheet: budget
    range: Sheet1!A1:B2
`

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intents.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadIntentFile(t *testing.T) {
	path := writeTempFile(t, sampleIntentFile)

	fake, intents, err := loadIntentFile(path)
	if err != nil {
		t.Fatalf("loadIntentFile() error = %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("len(intents) = %d, want 2", len(intents))
	}
	if intents[0].ID != "w1" || intents[0].Kind != intent.KindWrite {
		t.Errorf("first intent = %s/%v, want w1/write", intents[0].ID, intents[0].Kind)
	}
	if intents[1].Kind != intent.KindRead {
		t.Errorf("second intent kind = %v, want read", intents[1].Kind)
	}

	// Seed applied to the fake.
	vr, _, err := fake.Read(context.Background(), "budget", grid.MustRange("Sheet1!A2:B2"), "")
	if err != nil {
		t.Fatalf("seeded read error = %v", err)
	}
	if vr.Values[0][0] != "rent" {
		t.Errorf("seeded cell = %v, want rent", vr.Values[0][0])
	}
}

func TestLoadIntentFileRejectsEmpty(t *testing.T) {
	path := writeTempFile(t, "seed: {}\nintents: []\n")
	if _, _, err := loadIntentFile(path); err == nil {
		t.Error("loadIntentFile() should reject a file with no intents")
	}
}

func TestLoadIntentFileRejectsBadKind(t *testing.T) {
	path := writeTempFile(t, `
intents:
  - id: x
    kind: teleport
    spreadsheet: budget
    range: Sheet1!A1
`)
	if _, _, err := loadIntentFile(path); err == nil {
		t.Error("loadIntentFile() should reject an unknown kind")
	}
}

func TestLoadIntentFileRejectsBadRange(t *testing.T) {
	path := writeTempFile(t, `
intents:
  - id: x
    kind: read
    spreadsheet: budget
    range: "!!!"
`)
	if _, _, err := loadIntentFile(path); err == nil {
		t.Error("loadIntentFile() should reject an unparseable range")
	}
}

func TestLoadIntentFileRejectsBadSpreadsheetID(t *testing.T) {
	path := writeTempFile(t, `
intents:
  - id: x
    kind: read
    spreadsheet: "../escape"
    range: Sheet1!A1
`)
	if _, _, err := loadIntentFile(path); err == nil {
		t.Error("loadIntentFile() should reject an unsafe spreadsheet id")
	}
}

func TestBuildIntentRequireSnapshot(t *testing.T) {
	in, err := buildIntent(intentSpec{
		ID:              "w1",
		Kind:            "write",
		Spreadsheet:     "budget",
		Range:           "Sheet1!A1",
		Values:          [][]any{{"x"}},
		RequireSnapshot: true,
	})
	if err != nil {
		t.Fatalf("buildIntent() error = %v", err)
	}
	if !in.Safety.RequireSnapshot {
		t.Error("RequireSnapshot not carried into the intent")
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]intent.Kind{
		"read":        intent.KindRead,
		"write":       intent.KindWrite,
		"restructure": intent.KindRestructure,
		"format":      intent.KindFormat,
	}
	for name, want := range cases {
		got, err := parseKind(name)
		if err != nil {
			t.Errorf("parseKind(%q) error = %v", name, err)
		}
		if got != want {
			t.Errorf("parseKind(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := parseKind("unknown"); err == nil {
		t.Error("parseKind should reject unknown kinds")
	}
}

func TestBuildServiceUsesDurableSnapshotStore(t *testing.T) {
	prevCfg, prevLogger := config.Global, logger
	t.Cleanup(func() {
		config.Global = prevCfg
		logger = prevLogger
	})

	cfg := config.DefaultConfig()
	cfg.Snapshot.Dir = t.TempDir()
	config.Global = cfg
	logger = logging.New(logging.Config{Level: logging.LevelError, Quiet: true})

	fake := remote.NewFake()
	fake.Seed("book", "Sheet1", [][]any{{"a"}})

	svc, err := buildService(fake)
	if err != nil {
		t.Fatalf("buildService: %v", err)
	}
	meta, err := svc.CreateSnapshot(context.Background(), "book")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The snapshot commands read the same store.
	store := openSnapshotStore()
	defer store.Close()
	metas, err := store.List(context.Background(), "book")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != meta.ID {
		t.Errorf("durable store metas = %v, want the snapshot taken by the service", metas)
	}
}
