// Package main implements the entry point for the Mothics telemetry core.
// Mothics collects readings from onboard sailing instruments, fuses them
// into a shared sample buffer and records them as replayable tracks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Audace-Sailing-Team/mothics/config"
	"github.com/Audace-Sailing-Team/mothics/manager"
	"github.com/Audace-Sailing-Team/mothics/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "mothics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Command-line overrides win over the file.
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("Starting Mothics (onboard telemetry core)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"mode", cliCfg.Mode)

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	registry := metric.NewRegistry()

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics server started", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	mgr, err := manager.New(manager.Deps{
		Config:  cfg,
		Metrics: registry,
		Logger:  logger.With("component", "manager"),
	})
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	return runWithSignalHandling(cliCfg, mgr, metricsServer)
}

// runWithSignalHandling starts the session and blocks until shutdown.
func runWithSignalHandling(cliCfg *CLIConfig, mgr *manager.Manager, metricsServer *metric.Server) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	switch cliCfg.Mode {
	case "replay":
		if err := mgr.StartReplay(cliCfg.TrackFile); err != nil {
			return fmt.Errorf("start replay session: %w", err)
		}
	default:
		if err := mgr.StartLive(signalCtx); err != nil {
			return fmt.Errorf("start live session: %w", err)
		}
	}

	slog.Info("Mothics started successfully",
		"session_id", mgr.SessionID(),
		"mode", cliCfg.Mode)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	return shutdown(mgr, metricsServer, cliCfg.ShutdownTimeout)
}

// shutdown stops the session first so the track flushes before the
// metrics endpoint disappears.
func shutdown(mgr *manager.Manager, metricsServer *metric.Server, timeout time.Duration) error {
	var firstErr error

	if err := mgr.Stop(); err != nil {
		slog.Error("Error stopping session", "error", err)
		firstErr = err
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(timeout); err != nil {
			slog.Error("Error stopping metrics server", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", firstErr)
	}

	slog.Info("Mothics shutdown complete")
	return nil
}
