// Package main is the entry point for loaf - a local command-line agent
// runtime mediating between a frontend (JSON-RPC over stdio) and a model
// provider.
//
// This binary assembles the core subsystems:
// - foreground process runner and stateful shell (bash tool)
// - background shell session manager (pipe and PTY transports)
// - tool registry with the built-in bash/shell/apply_patch tools
// - durable session index and compaction sidecar storage
// - read-only debug HTTP surface for operators
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabmiau/loaf/internal/db"
	"github.com/crabmiau/loaf/internal/debugserver"
	"github.com/crabmiau/loaf/internal/eventbus"
	"github.com/crabmiau/loaf/internal/logger"
	"github.com/crabmiau/loaf/internal/process"
	"github.com/crabmiau/loaf/internal/runtimeconfig"
	"github.com/crabmiau/loaf/internal/sessionstore"
	"github.com/crabmiau/loaf/internal/tools"
	"github.com/crabmiau/loaf/internal/tracing"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		showConfig()
		return
	}

	cfg, err := runtimeconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("starting loaf",
		zap.String("log_level", cfg.Logging.Level),
		zap.String("index_dialect", cfg.Storage.IndexDialect),
	)

	// Tool execution layer.
	resolver := process.NewResolver(nil)
	runner := process.NewRunner(cfg.Process, cfg.Session.StreamBufferChars, log)
	shell := process.NewStatefulShell(runner, resolver, cfg.Shell, cfg.Process, log)
	manager := process.NewManager(resolver, cfg.Session, log)

	registry := tools.NewRegistry()
	if err := tools.RegisterBash(registry, shell); err != nil {
		log.Fatal("registering bash tool", zap.Error(err))
	}
	if err := tools.RegisterBackgroundShell(registry, manager); err != nil {
		log.Fatal("registering shell tools", zap.Error(err))
	}
	cwd, _ := os.Getwd()
	if err := tools.RegisterPatch(registry, cwd); err != nil {
		log.Fatal("registering patch tool", zap.Error(err))
	}

	// Durable session index.
	pool, err := openIndex(cfg.Storage)
	if err != nil {
		log.Fatal("opening session index", zap.Error(err))
	}
	defer func() { _ = pool.Close() }()

	store := sessionstore.New(pool)
	if err := store.Migrate(context.Background()); err != nil {
		log.Fatal("migrating session index", zap.Error(err))
	}
	resumable, err := store.Reconcile(context.Background())
	if err != nil {
		log.Fatal("reconciling session index", zap.Error(err))
	}
	for _, rec := range resumable {
		paths, err := store.SidecarPaths(context.Background(), rec.ID)
		if err != nil {
			log.Warn("resolving session sidecars", zap.String("session_id", rec.ID), zap.Error(err))
			continue
		}
		log.Info("resumable session",
			zap.String("session_id", rec.ID),
			zap.String("rollout_path", rec.RolloutPath),
			zap.String("compaction_state", paths.State),
		)
	}
	manager.SetRecorder(store)

	// Runtime notification fan-out. The JSON-RPC frontend subscribes here;
	// the memory bus is always sufficient for a single process.
	bus := eventbus.NewMemoryBus(log)
	defer bus.Close()
	manager.SetBus(bus)

	debug := debugserver.New(7468, manager, registry, cfg.Logging.Level == "debug", log)
	debug.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down loaf")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	manager.Shutdown(ctx)
	if err := debug.Shutdown(ctx); err != nil {
		log.Warn("debug server shutdown", zap.Error(err))
	}
	if err := tracing.Shutdown(ctx); err != nil {
		log.Warn("tracing shutdown", zap.Error(err))
	}
}

func openIndex(cfg runtimeconfig.StorageConfig) (*db.Pool, error) {
	if cfg.IndexDialect == "postgres" {
		conn, err := db.OpenPostgres(cfg.IndexDSN, 0, 0)
		if err != nil {
			return nil, err
		}
		return db.NewPool(conn, conn), nil
	}
	writer, err := db.OpenSQLite(cfg.IndexDSN)
	if err != nil {
		return nil, err
	}
	reader, err := db.OpenSQLiteReader(cfg.IndexDSN)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return db.NewPool(writer, reader), nil
}

func showConfig() {
	cfg, err := runtimeconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	out, err := cfg.YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render configuration: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(out)
}
