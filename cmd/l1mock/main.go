// Package main implements the entry point for the l1mock pipeline: a
// single-node mock-up of the L1 fast radio burst search. It reads baseband
// or intensity data from the configured source, dedisperses it, sifts the
// candidates, and dispatches triggers to the configured actions.
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

	"github.com/misanthropealoupe/ch-L1mock/component"
	"github.com/misanthropealoupe/ch-L1mock/componentregistry"
	"github.com/misanthropealoupe/ch-L1mock/config"
	"github.com/misanthropealoupe/ch-L1mock/engine"
	"github.com/misanthropealoupe/ch-L1mock/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "l1mock"
)

func main() {
	// Add panic recovery
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
	// Parse and validate CLI flags
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	// Load and validate configuration
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Metrics registry and pipeline instrumentation
	metricsRegistry := metric.NewRegistry()
	metrics := metric.NewMetrics()
	if err := metricsRegistry.RegisterMetrics(metrics); err != nil {
		return fmt.Errorf("register pipeline metrics: %w", err)
	}

	// Component registry with the built-in sources and actions
	registry := component.NewRegistry()
	if err := componentregistry.Register(registry); err != nil {
		return fmt.Errorf("register components: %w", err)
	}
	slog.Debug("component factories registered", "count", len(registry.ListFactories()))

	// Build the pipeline
	deps := component.Dependencies{Logger: logger, Metrics: metricsRegistry}
	eng, err := engine.New(cfg, registry, deps, metrics)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Metrics HTTP server, if enabled
	if cliCfg.MetricsPort > 0 {
		metricsServer := metric.NewServer(metricsRegistry, fmt.Sprintf(":%d", cliCfg.MetricsPort), logger)
		if err := metricsServer.Start(signalCtx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop(5 * time.Second) }()
	}

	slog.Info("Starting pipeline",
		"version", Version,
		"source", cfg.Source.Type,
		"actions", len(cfg.Actions))

	// Run until the source runs dry or a shutdown signal arrives
	if err := eng.Run(signalCtx, cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	slog.Info("Pipeline shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting l1mock (FRB search pathfinder)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}
