// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the validator instance for CLI configuration.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// SheetopsConfig is the top-level CLI configuration, loaded from
// ~/.sheetops/sheetops.yaml.
type SheetopsConfig struct {
	// Logging controls CLI log output.
	Logging LoggingConfig `yaml:"logging"`

	// Governor tunes the dispatch rate limits.
	Governor GovernorConfig `yaml:"governor"`

	// Cache tunes the read cache.
	Cache CacheConfig `yaml:"cache"`

	// Snapshot selects the snapshot store backend.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Dispatch tunes the retry loop.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Metrics configures the telemetry endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables file logging when non-empty.
	Dir string `yaml:"dir"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`
}

type GovernorConfig struct {
	// Rate is the steady-state admissions per second per category.
	Rate float64 `yaml:"rate" validate:"gt=0"`

	// Burst is the token bucket depth.
	Burst int `yaml:"burst" validate:"gte=1"`
}

type CacheConfig struct {
	// Capacity is the maximum number of cached ranges.
	Capacity int `yaml:"capacity" validate:"gte=1"`

	// TTLSeconds is the entry lifetime; 0 disables expiry.
	TTLSeconds int `yaml:"ttl_seconds" validate:"gte=0"`
}

type SnapshotConfig struct {
	// Dir is the badger database path. Empty keeps snapshots in
	// memory only.
	Dir string `yaml:"dir"`

	// MaxPerResource bounds retained snapshots per spreadsheet.
	MaxPerResource int `yaml:"max_per_resource" validate:"gte=1"`
}

type DispatchConfig struct {
	// MaxAttempts bounds retries per remote call, first try
	// included.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=10"`
}

type MetricsConfig struct {
	// Enabled turns on OTel metric recording.
	Enabled bool `yaml:"enabled"`

	// ListenAddr is where serve-metrics exposes /metrics.
	ListenAddr string `yaml:"listen_addr"`
}

// Validate checks the configuration against its tags.
func (c SheetopsConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() SheetopsConfig {
	return SheetopsConfig{
		Logging: LoggingConfig{
			Level: "info",
		},
		Governor: GovernorConfig{
			Rate:  1,
			Burst: 5,
		},
		Cache: CacheConfig{
			Capacity:   1024,
			TTLSeconds: 300,
		},
		Snapshot: SnapshotConfig{
			Dir:            "~/.sheetops/snapshots",
			MaxPerResource: 16,
		},
		Dispatch: DispatchConfig{
			MaxAttempts: 4,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9091",
		},
	}
}
