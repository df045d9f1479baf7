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
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sheetops/cmd/sheetops/config"
	"github.com/AleutianAI/sheetops/services/sheetops/telemetry"
)

func runServeMetrics(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	cfg := telemetry.DefaultConfig()
	cfg.TraceExporter = "none"
	shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		log.Fatalf("Error initializing telemetry: %v", err)
	}
	defer shutdown(context.Background())

	handler := telemetry.MetricsHandler()
	if handler == nil {
		log.Fatalf("metrics handler unavailable; set OTEL_METRICS_EXPORTER=prometheus")
	}

	addr := config.Global.Metrics.ListenAddr
	if addr == "" {
		addr = ":9091"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "address", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Error starting metrics server: %v", err)
	}
}
