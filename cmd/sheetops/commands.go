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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	keepCount  int

	rootCmd = &cobra.Command{
		Use:   "sheetops",
		Short: "A cli to compile, preview, and apply spreadsheet operation intents",
		Long: `Sheetops mediates between declared spreadsheet operation intents
and a rate-limited remote tabular-data API: it batches writes,
caches reads, and keeps snapshots so changes can be reversed.`,
	}

	// --- Intents ---
	previewCmd = &cobra.Command{
		Use:   "preview [intents.yaml]",
		Short: "Compile an intent file and print the plan without dispatching",
		Args:  cobra.ExactArgs(1),
		Run:   runPreview, // Defined in cmd_intent.go
	}
	applyCmd = &cobra.Command{
		Use:   "apply [intents.yaml]",
		Short: "Compile and dispatch an intent file against the demo remote",
		Args:  cobra.ExactArgs(1),
		Run:   runApply, // Defined in cmd_intent.go
	}

	// --- Snapshots ---
	snapshotCmd = &cobra.Command{
		Use:   "snapshot",
		Short: "Manage stored spreadsheet snapshots",
	}
	snapshotListCmd = &cobra.Command{
		Use:   "list [spreadsheet_id]",
		Short: "List snapshots stored for a spreadsheet",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshotList, // Defined in cmd_snapshot.go
	}
	snapshotPruneCmd = &cobra.Command{
		Use:   "prune [spreadsheet_id]",
		Short: "Delete all but the newest snapshots for a spreadsheet",
		Args:  cobra.ExactArgs(1),
		Run:   runSnapshotPrune, // Defined in cmd_snapshot.go
	}

	// --- Telemetry ---
	serveMetricsCmd = &cobra.Command{
		Use:   "serve-metrics",
		Short: "Expose the Prometheus /metrics endpoint",
		Run:   runServeMetrics, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to an explicit config file")

	snapshotPruneCmd.Flags().IntVar(&keepCount, "keep", 3, "How many newest snapshots to keep")

	snapshotCmd.AddCommand(snapshotListCmd, snapshotPruneCmd)
	rootCmd.AddCommand(previewCmd, applyCmd, snapshotCmd, serveMetricsCmd)
}
