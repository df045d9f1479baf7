// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sheetops is the CLI for the spreadsheet operation mediator.
//
// Usage:
//
//	sheetops preview intents.yaml     # compile without dispatch
//	sheetops apply intents.yaml       # dispatch against the demo remote
//	sheetops snapshot list <book>     # list stored snapshots
//	sheetops snapshot prune <book>    # trim old snapshots
//	sheetops serve-metrics            # expose /metrics for scraping
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sheetops/cmd/sheetops/config"
	"github.com/AleutianAI/sheetops/pkg/logging"
)

var logger *logging.Logger

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				log.Fatalf("Error loading config %s: %v", configPath, err)
			}
			config.Global = cfg
		} else if err := config.Load(); err != nil {
			log.Fatalf("Error loading configuration: %v", err)
		}
		logger = newLogger(config.Global.Logging)
	}
}

func newLogger(cfg config.LoggingConfig) *logging.Logger {
	level := logging.LevelInfo
	switch cfg.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	return logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "sheetops",
		JSON:    cfg.JSON,
	})
}
