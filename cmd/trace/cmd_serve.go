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
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/flowtrace/services/trace"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddress     string
	serveSnapshotDir string
	serveNoSnapshots bool
	serveDebug       bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddress, "address", "", "Listen address (default server.address from config)")
	f.StringVar(&serveSnapshotDir, "snapshot-dir", "", "Snapshot store directory (default from config, relative to the working directory)")
	f.BoolVar(&serveNoSnapshots, "no-snapshots", false, "Disable snapshot persistence")
	f.BoolVar(&serveDebug, "debug", false, "Enable gin debug mode and request logging")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	var opts []trace.ServiceOption
	if !serveNoSnapshots {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir := snapshotDirFor(serveSnapshotDir, wd)
		mgr, closeStore, err := openSnapshots(dir)
		if err != nil {
			// The API still works without persistence.
			slog.Warn("snapshot store unavailable, snapshots disabled",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
		} else {
			defer closeStore()
			opts = append(opts, trace.WithSnapshotManager(mgr))
			slog.Info("snapshot store opened", slog.String("path", dir))
		}
	}

	svc, err := trace.NewService(cfg, opts...)
	if err != nil {
		return err
	}

	router := newServerRouter(svc, serveDebug)

	addr := serveAddress
	if addr == "" {
		addr = cfg.Server.Address
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting flowtrace server", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down flowtrace server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// newServerRouter wires the API routes with request tracing and exposes
// the default Prometheus registry on /metrics. OTel instruments reach that
// registry through the meter provider from setupMetrics.
func newServerRouter(svc *trace.Service, debug bool) *gin.Engine {
	middleware := []gin.HandlerFunc{otelgin.Middleware("flowtrace")}
	if debug {
		middleware = append(middleware, gin.Logger())
	}
	router := trace.NewRouter(svc, middleware...)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}
