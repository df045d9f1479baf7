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
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/sheetops/cmd/sheetops/config"
	"github.com/AleutianAI/sheetops/pkg/validation"
	"github.com/AleutianAI/sheetops/services/sheetops/cache"
	"github.com/AleutianAI/sheetops/services/sheetops/compiler"
	"github.com/AleutianAI/sheetops/services/sheetops/govern"
	"github.com/AleutianAI/sheetops/services/sheetops/grid"
	"github.com/AleutianAI/sheetops/services/sheetops/intent"
	"github.com/AleutianAI/sheetops/services/sheetops/mediator"
	"github.com/AleutianAI/sheetops/services/sheetops/remote"
	"github.com/AleutianAI/sheetops/services/sheetops/snapshot"
)

// intentFile is the YAML schema for preview and apply. The seed
// section populates the demo remote before any intent runs.
//
// Example:
//
//	seed:
//	  budget:
//	    Sheet1:
//	      - [item, cost]
//	      - [rent, 1200]
//	intents:
//	  - id: w1
//	    kind: write
//	    spreadsheet: budget
//	    range: Sheet1!B2
//	    values: [[1250]]
//	  - id: r1
//	    kind: read
//	    spreadsheet: budget
//	    range: Sheet1!A1:B2
type intentFile struct {
	Seed    map[string]map[string][][]any `yaml:"seed"`
	Intents []intentSpec                  `yaml:"intents"`
}

type intentSpec struct {
	ID              string         `yaml:"id"`
	Kind            string         `yaml:"kind"`
	Spreadsheet     string         `yaml:"spreadsheet"`
	Range           string         `yaml:"range"`
	Values          [][]any        `yaml:"values,omitempty"`
	Structural      string         `yaml:"structural,omitempty"`
	Count           int            `yaml:"count,omitempty"`
	Format          map[string]any `yaml:"format,omitempty"`
	RequireSnapshot bool           `yaml:"require_snapshot,omitempty"`
}

func runPreview(cmd *cobra.Command, args []string) {
	fake, intents, err := loadIntentFile(args[0])
	if err != nil {
		log.Fatalf("Error loading intent file: %v", err)
	}

	svc, err := buildService(fake)
	if err != nil {
		log.Fatalf("Error building service: %v", err)
	}
	defer svc.Close()

	preview, err := svc.Preview(context.Background(), intents)
	if err != nil {
		log.Fatalf("Error compiling intents: %v", err)
	}

	printPreview(preview)
	if len(preview.Failures) > 0 {
		os.Exit(1)
	}
}

func runApply(cmd *cobra.Command, args []string) {
	fake, intents, err := loadIntentFile(args[0])
	if err != nil {
		log.Fatalf("Error loading intent file: %v", err)
	}

	svc, err := buildService(fake)
	if err != nil {
		log.Fatalf("Error building service: %v", err)
	}
	defer svc.Close()

	result, err := svc.Submit(context.Background(), intents)
	if err != nil {
		logger.Error("submission finished with failures", "error", err)
	}

	fmt.Printf("applied %d remote call(s)\n", result.AppliedCalls)
	for id, vr := range result.Reads {
		fmt.Printf("read %s %s = %v\n", id, vr.Range, vr.Values)
	}
	for resource, snapID := range result.SnapshotIDs {
		fmt.Printf("snapshot %s captured for %s\n", snapID, resource)
	}
	for resource, rerr := range result.ResourceErrors {
		fmt.Printf("FAILED %s: %v\n", resource, rerr)
	}
	if err != nil {
		os.Exit(1)
	}
}

// loadIntentFile parses the YAML file into a seeded fake remote and
// validated intents.
func loadIntentFile(path string) (*remote.Fake, []intent.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file intentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Intents) == 0 {
		return nil, nil, fmt.Errorf("%s declares no intents", path)
	}

	fake := remote.NewFake()
	for book, sheets := range file.Seed {
		if err := validation.ValidateSpreadsheetID(book); err != nil {
			return nil, nil, fmt.Errorf("seed: %w", err)
		}
		for sheet, rows := range sheets {
			if err := validation.ValidateSheetName(sheet); err != nil {
				return nil, nil, fmt.Errorf("seed %s: %w", book, err)
			}
			fake.Seed(book, sheet, rows)
		}
	}

	intents := make([]intent.Intent, 0, len(file.Intents))
	for i, spec := range file.Intents {
		in, err := buildIntent(spec)
		if err != nil {
			return nil, nil, fmt.Errorf("intent %d (%s): %w", i, spec.ID, err)
		}
		intents = append(intents, in)
	}
	return fake, intents, nil
}

func buildIntent(spec intentSpec) (intent.Intent, error) {
	kind, err := parseKind(spec.Kind)
	if err != nil {
		return intent.Intent{}, err
	}
	book, err := validation.SanitizeSpreadsheetID(spec.Spreadsheet)
	if err != nil {
		return intent.Intent{}, err
	}
	rng, err := grid.ParseRange(spec.Range)
	if err != nil {
		return intent.Intent{}, fmt.Errorf("range %q: %w", spec.Range, err)
	}
	if rng.Sheet != "" {
		if err := validation.ValidateSheetName(rng.Sheet); err != nil {
			return intent.Intent{}, err
		}
	}

	in, err := intent.New(spec.ID, kind, intent.Target{
		SpreadsheetID: book,
		Range:         rng,
	}, intent.Payload{
		Values:     spec.Values,
		Structural: intent.StructuralOp(spec.Structural),
		Count:      spec.Count,
		Format:     spec.Format,
	})
	if err != nil {
		return intent.Intent{}, err
	}
	if spec.RequireSnapshot {
		in = in.WithSafety(intent.SafetyOptions{RequireSnapshot: true})
	}
	return in, nil
}

func parseKind(s string) (intent.Kind, error) {
	switch s {
	case "read":
		return intent.KindRead, nil
	case "write":
		return intent.KindWrite, nil
	case "restructure":
		return intent.KindRestructure, nil
	case "format":
		return intent.KindFormat, nil
	default:
		return 0, fmt.Errorf("unknown intent kind %q", s)
	}
}

// buildService wires a mediator service from the global config over
// the given remote.
func buildService(client remote.Client) (*mediator.Service, error) {
	cfg := config.Global

	var cacheOpts []cache.Option
	if cfg.Cache.Capacity > 0 {
		cacheOpts = append(cacheOpts, cache.WithMaxEntries(cfg.Cache.Capacity))
	}
	if cfg.Cache.TTLSeconds > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(time.Duration(cfg.Cache.TTLSeconds)*time.Second))
	}

	// Snapshots land in the same durable store the snapshot commands
	// read. Without a configured dir they stay in memory.
	var store snapshot.Store
	if cfg.Snapshot.Dir != "" {
		store = openSnapshotStore()
	}

	return mediator.New(client, mediator.Config{
		CacheOptions:  cacheOpts,
		SnapshotStore: store,
		Governor: govern.Config{
			Rate:  cfg.Governor.Rate,
			Burst: cfg.Governor.Burst,
		},
		Dispatcher: mediator.DispatcherConfig{
			MaxAttempts: cfg.Dispatch.MaxAttempts,
		},
		MetricsEnabled: cfg.Metrics.Enabled,
		Logger:         logger.Slog(),
	})
}

func printPreview(preview compiler.Preview) {
	fmt.Printf("plan: %d remote call(s) across %d resource(s)\n",
		preview.TotalCalls(), len(preview.Plans))

	for _, plan := range preview.Plans {
		fmt.Printf("\n%s:\n", plan.SpreadsheetID)
		for i, call := range plan.Calls {
			switch call.Kind {
			case compiler.CallRead:
				fmt.Printf("  %d. read %s (intents %v)\n", i+1, call.ReadRange, call.IntentIDs)
			case compiler.CallWriteBatch:
				fmt.Printf("  %d. write batch, %d op(s) (intents %v)\n", i+1, len(call.Ops), call.IntentIDs)
			}
		}
		for _, cr := range plan.CachedReads {
			fmt.Printf("  cached: %s served from cache\n", cr.IntentID)
		}
		for _, sr := range plan.StagedReads {
			fmt.Printf("  staged: %s served from a pending write\n", sr.IntentID)
		}
	}

	for _, failure := range preview.Failures {
		fmt.Printf("\nCONFLICT %s: %v\n", failure.SpreadsheetID, failure.Err)
	}
}
