// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command governance starts the AleutianGuard governance API server.
//
// The server closes the incident-to-prevention loop:
//   - Failure ingestion with pattern-signature matching
//   - Evidence-threshold proposal generation
//   - Human-ratified policy decisions and promotions
//   - Inline, fail-open enforcement checks
//   - A background graduation evaluator (the only degrade path)
//
// Usage:
//
//	go run ./cmd/governance
//	go run ./cmd/governance -config governance.yaml
//	go run ./cmd/governance -port 9090 -debug
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8086/v1/governance/health
//
//	# Submit a failure event
//	curl -X POST http://localhost:8086/v1/governance/failures \
//	  -H "Content-Type: application/json" \
//	  -d '{"tenant_id": "acme", "feature_path": "checkout/payment", "error_shape": "payment timeout after 30s"}'
//
//	# Inline enforcement check (signature comes from a prior failure response)
//	curl -X POST http://localhost:8086/v1/governance/check \
//	  -H "Content-Type: application/json" \
//	  -d '{"tenant_id": "acme", "feature_path": "checkout/payment", "pattern_signature": "sig-00e0fc4f2b1a9d36", "request_ref": "req-1"}'
//
//	# Prometheus metrics
//	curl http://localhost:8086/metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	governance "github.com/AleutianAI/AleutianGuard/services/governance"
	"github.com/AleutianAI/AleutianGuard/services/governance/config"
	"github.com/AleutianAI/AleutianGuard/services/governance/enforce"
	"github.com/AleutianAI/AleutianGuard/services/governance/graduation"
	"github.com/AleutianAI/AleutianGuard/services/governance/lifecycle"
	"github.com/AleutianAI/AleutianGuard/services/governance/proposal"
	"github.com/AleutianAI/AleutianGuard/services/governance/signature"
	"github.com/AleutianAI/AleutianGuard/services/governance/store"
	"github.com/AleutianAI/AleutianGuard/services/governance/telemetry"
	"go.opentelemetry.io/otel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "governance: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config file (empty uses defaults)")
	port := flag.Int("port", 0, "Override the configured listen port")
	dataDir := flag.String("data-dir", "", "Override the configured store directory")
	inMemory := flag.Bool("in-memory", false, "Run with an in-memory store (no persistence)")
	debug := flag.Bool("debug", false, "Enable debug logging and gin debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dataDir != "" {
		cfg.Store.Dir = *dataDir
	}

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: "governance"})
	defer logger.Close()
	slogger := logger.Slog()

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slogger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("governance"))
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.Store.Dir
	storeCfg.InMemory = *inMemory
	storeCfg.GCInterval = cfg.Store.GCInterval
	storeCfg.GCDiscardRatio = cfg.Store.GCDiscardRatio
	storeCfg.Logger = slogger
	db, err := store.Open(storeCfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	auth := lifecycle.NewRoleAuthorizer(cfg.Server.ApproverRoles...)
	svcCfg := governance.ServiceConfig{
		Matcher: signature.DefaultMatcherConfig(),
		Proposal: proposal.GeneratorConfig{
			MinOccurrences: cfg.Proposal.MinOccurrences,
			Window:         cfg.Proposal.Window,
		},
		Lifecycle: lifecycle.ManagerConfig{
			MinObservation:       cfg.Lifecycle.MinObservation,
			ActivationConfidence: cfg.Lifecycle.ActivationConfidence,
		},
		Enforcer: enforce.Config{AlertInterval: cfg.Enforcer.AlertInterval},
		Extensions: extensions.ServiceOptions{
			AuditLogger: &extensions.SlogAuditLogger{Logger: slogger},
		},
	}
	svc := governance.NewService(db, auth, nil, svcCfg, metrics, slogger)

	// Background graduation loop. It is the only caller of the
	// ACTIVE to SHADOW degrade edge.
	evaluator := graduation.New(db, svc.Scorer(), svc.Manager(),
		&graduation.LogPublisher{Logger: slogger},
		graduation.Config{
			Interval:          cfg.Evaluator.Interval,
			Window:            cfg.Evaluator.Window,
			MinPreventionRate: cfg.Evaluator.MinPreventionRate,
			MaxRegret:         cfg.Evaluator.MaxRegret,
			DegradeRetries:    cfg.Evaluator.DegradeRetries,
			DegradeBackoff:    cfg.Evaluator.DegradeBackoff,
			TenantConcurrency: cfg.Evaluator.TenantConcurrency,
		}, metrics, slogger)

	evalCtx, stopEvaluator := context.WithCancel(ctx)
	defer stopEvaluator()
	go func() {
		if err := evaluator.Run(evalCtx); err != nil && !errors.Is(err, context.Canceled) {
			slogger.Error("graduation evaluator stopped", "error", err)
		}
	}()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.MetricsMiddleware(metrics))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	governance.RegisterRoutes(v1, governance.NewHandlers(svc))
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("starting governance server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		slogger.Info("shutting down", "signal", sig.String())
	}

	stopEvaluator()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
