// agentd - terminal session orchestrator for SWEfoundry
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/swefoundry/agentd/internal/config"
	"github.com/swefoundry/agentd/internal/logging"
	"github.com/swefoundry/agentd/internal/registry"
	"github.com/swefoundry/agentd/internal/server"
	"github.com/swefoundry/agentd/internal/store"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open archive", "db_path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Sessions from a previous run lost their registry entries with the
	// process; their archive rows are reclassified so the API never reports
	// a session this process cannot reach as live.
	if n, err := st.MarkInterruptedStale(); err != nil {
		slog.Error("failed to reconcile interrupted sessions", "error", err)
	} else if n > 0 {
		slog.Info("marked interrupted sessions stale", "count", n)
	}

	reg := registry.New(registry.Options{
		DefaultCommand:  cfg.DefaultCommand,
		DefaultRows:     cfg.DefaultRows,
		DefaultCols:     cfg.DefaultCols,
		IdleAfter:       cfg.IdleAfter,
		StaleAfter:      cfg.StaleAfter,
		MonitorInterval: cfg.MonitorInterval,
		StartTimeout:    cfg.StartTimeout,
		TerminateGrace:  cfg.TerminateGrace,
		InjectDelay:     cfg.InjectDelay,
		ViewerQueueSize: cfg.ViewerQueueSize,
	}, st)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go reg.RunMonitor(monitorCtx)

	srv := server.New(cfg, reg, st)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	stopMonitor()

	// Session processes are left running on purpose: a restarted agentd
	// must not kill long-lived agent work, and the next startup reconciles
	// the archive.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}

	slog.Info("agentd stopped")
}
