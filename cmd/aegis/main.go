package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/citygrid-labs/aegis/pkg/api"
	"github.com/citygrid-labs/aegis/pkg/auth"
	"github.com/citygrid-labs/aegis/pkg/config"
	"github.com/citygrid-labs/aegis/pkg/contracts"
	"github.com/citygrid-labs/aegis/pkg/governance"
	"github.com/citygrid-labs/aegis/pkg/ledger"
	"github.com/citygrid-labs/aegis/pkg/lifecycle"
	"github.com/citygrid-labs/aegis/pkg/observability"
	"github.com/citygrid-labs/aegis/pkg/override"
	"github.com/citygrid-labs/aegis/pkg/policy"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := observability.SetupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "aegis",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("observability init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	auditStore, err := ledger.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}
	audit := ledger.New(auditStore)

	policyRepo, err := policy.NewSQLiteRepository(db)
	if err != nil {
		return fmt.Errorf("policy repository: %w", err)
	}
	policies := policy.NewStore(policyRepo, audit)

	overrideStore, err := override.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("override store: %w", err)
	}
	overrides := override.NewArbitrator(overrideStore, audit)

	actionStore, err := lifecycle.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("action store: %w", err)
	}

	registry := governance.NewEffectRegistry()

	if cfg.PolicyPackPath != "" {
		pack, err := policy.LoadPack(cfg.PolicyPackPath)
		if err != nil {
			return fmt.Errorf("load policy pack: %w", err)
		}
		for _, e := range pack.Effects {
			registry.Register(e.ID, e.Description, e.ExclusiveWith...)
		}
		if err := policies.Seed(ctx, pack, contracts.SystemActor); err != nil {
			return fmt.Errorf("seed policies: %w", err)
		}
		for _, po := range pack.Overrides {
			_, getErr := overrides.Get(ctx, po.ID)
			if getErr == nil {
				continue
			}
			if !errors.Is(getErr, override.ErrNotFound) {
				return fmt.Errorf("seed override %s: %w", po.ID, getErr)
			}
			if err := overrides.Register(ctx, po.Override()); err != nil {
				return fmt.Errorf("seed override %s: %w", po.ID, err)
			}
		}
		logger.InfoContext(ctx, "policy pack loaded",
			"path", cfg.PolicyPackPath,
			"policies", len(pack.Policies),
			"overrides", len(pack.Overrides),
			"effects", len(pack.Effects),
		)
	}

	evaluator, err := governance.NewEvaluator()
	if err != nil {
		return fmt.Errorf("evaluator init: %w", err)
	}
	detector := governance.NewConflictDetector(registry)
	gate := governance.NewOverrideGate(overrides, registry)

	dispatcher := lifecycle.NewLogDispatcher(logger)
	actions := lifecycle.NewManager(actionStore, audit, dispatcher, gate)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, all authenticated endpoints will reject requests")
	}
	validator := auth.NewJWTValidator(cfg.JWTSecret)

	server := api.NewServer(actions, policies, overrides, evaluator, detector, audit, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(validator, int(cfg.RateLimitRPS), cfg.RateLimitBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "server listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
