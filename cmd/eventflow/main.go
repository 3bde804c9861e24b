// Package main implements the entry point for the eventflow daemon.
// Eventflow reads JSON events from stdin, runs them through the
// pipelines defined in its deployment config, and writes the results
// as JSON lines on stdout (errors on stderr).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/c360/eventflow/config"
	"github.com/c360/eventflow/metric"
	"github.com/c360/eventflow/pipeline"
	"github.com/c360/eventflow/script"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "eventflow"
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
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid",
			"pipelines", len(cfg.Pipelines))
		return nil
	}

	metricsRegistry := metric.NewMetricsRegistry()
	mgr, err := buildDeployment(cfg, logger, metricsRegistry)
	if err != nil {
		return fmt.Errorf("build deployment: %w", err)
	}

	return runDeployment(cfg, mgr, metricsRegistry, logger, cliCfg)
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

	slog.Info("Starting eventflow",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// buildDeployment compiles the configured pipelines into a manager.
func buildDeployment(cfg *config.Config, logger *slog.Logger, metricsRegistry *metric.MetricsRegistry) (*pipeline.Manager, error) {
	deps := pipeline.OperatorDeps{
		Logger:    logger,
		ScriptReg: script.NewRegistry(),
		AggrReg:   script.NewAggrRegistry(),
	}
	return config.Build(cfg, pipeline.NewOperatorRegistry(), deps, metricsRegistry.CoreMetrics())
}

// runDeployment wires stdin and stdout to the first pipeline, starts
// everything and runs until the input closes or a signal arrives.
func runDeployment(
	cfg *config.Config,
	mgr *pipeline.Manager,
	metricsRegistry *metric.MetricsRegistry,
	logger *slog.Logger,
	cliCfg *CLIConfig,
) error {
	entry, ok := mgr.Pipeline(cfg.Pipelines[0].ID)
	if !ok {
		return fmt.Errorf("entry pipeline %q not deployed", cfg.Pipelines[0].ID)
	}

	source := newStdinSource(os.Stdin, entry, logger)
	if err := entry.ConnectSource(source); err != nil {
		return fmt.Errorf("connect source: %w", err)
	}
	outSink := newWriterSink("stdout", os.Stdout, entry, logger)
	errSink := newWriterSink("stderr", os.Stderr, entry, logger)
	if err := entry.ConnectOutput("out", pipeline.PortIn, outSink); err != nil {
		return fmt.Errorf("connect stdout sink: %w", err)
	}
	if err := entry.ConnectOutput("err", pipeline.PortIn, errSink); err != nil {
		return fmt.Errorf("connect stderr sink: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, "/metrics", metricsRegistry, logger)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(signalCtx); err != nil {
		return fmt.Errorf("start pipelines: %w", err)
	}

	runCtx, cancel := context.WithCancel(signalCtx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// Input EOF ends the run even though it is not an error.
		defer cancel()
		return source.Run(gctx)
	})
	g.Go(func() error {
		// A signal must also unblock the stdin read.
		<-gctx.Done()
		_ = os.Stdin.Close()
		return nil
	})

	<-gctx.Done()
	slog.Info("Shutting down", "timeout", cliCfg.ShutdownTimeout)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancelShutdown()

	var firstErr error
	if err := mgr.Stop(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("stop pipelines: %w", err)
	}
	for _, sink := range []*writerSink{outSink, errSink} {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s sink: %w", sink.ID(), err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop metrics server: %w", err)
		}
	}
	if err := g.Wait(); err != nil && firstErr == nil {
		firstErr = err
	}
	slog.Info("Shutdown complete")
	return firstErr
}
