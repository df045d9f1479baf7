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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sheetops/cmd/sheetops/config"
	"github.com/AleutianAI/sheetops/services/sheetops/snapshot"
)

func runSnapshotList(cmd *cobra.Command, args []string) {
	store := openSnapshotStore()
	defer store.Close()

	metas, err := store.List(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Error listing snapshots: %v", err)
	}
	if len(metas) == 0 {
		fmt.Printf("no snapshots stored for %s\n", args[0])
		return
	}

	fmt.Printf("%-36s  %-20s  %-8s  %s\n", "ID", "CREATED", "SHEETS", "TRANSACTION")
	for _, meta := range metas {
		txn := meta.TransactionID
		if txn == "" {
			txn = "-"
		}
		fmt.Printf("%-36s  %-20s  %-8d  %s\n",
			meta.ID, meta.CreatedAt.Format("2006-01-02 15:04:05"), meta.SheetCount, txn)
	}
}

func runSnapshotPrune(cmd *cobra.Command, args []string) {
	if keepCount < 0 {
		log.Fatalf("--keep must be non-negative")
	}

	store := openSnapshotStore()
	defer store.Close()

	ctx := context.Background()
	metas, err := store.List(ctx, args[0])
	if err != nil {
		log.Fatalf("Error listing snapshots: %v", err)
	}
	if len(metas) <= keepCount {
		fmt.Printf("nothing to prune: %d snapshot(s) stored, keeping %d\n", len(metas), keepCount)
		return
	}

	// List returns newest first; everything past keepCount goes.
	pruned := 0
	for _, meta := range metas[keepCount:] {
		if err := store.Delete(ctx, meta.ID); err != nil {
			log.Fatalf("Error deleting snapshot %s: %v", meta.ID, err)
		}
		pruned++
	}
	fmt.Printf("pruned %d snapshot(s), kept %d\n", pruned, keepCount)
}

// openSnapshotStore opens the configured badger-backed store. The
// snapshot commands require a durable store; a memory-only config is
// rejected because there would be nothing to list.
func openSnapshotStore() snapshot.Store {
	dir := config.Global.Snapshot.Dir
	if dir == "" {
		log.Fatalf("snapshot.dir is not configured; snapshots are kept in memory only")
	}
	if len(dir) > 0 && dir[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, dir[1:])
		}
	}

	cfg := snapshot.DefaultBadgerConfig(dir)
	cfg.MaxPerResource = config.Global.Snapshot.MaxPerResource
	cfg.Logger = logger.Slog()

	store, err := snapshot.OpenBadgerStore(cfg)
	if err != nil {
		log.Fatalf("Error opening snapshot store at %s: %v", dir, err)
	}
	return store
}
