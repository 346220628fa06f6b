package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"convertd/internal/api"
	"convertd/internal/config"
	"convertd/internal/convert"
	"convertd/internal/engine"
	"convertd/internal/joblog"
	"convertd/internal/log"
	"convertd/internal/workspace"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("convertd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml (defaults apply when omitted)")
	listen := fs.String("listen", "", "listen address override")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *showVersion {
		fmt.Printf("convertd version %s\n", version)
		return 0
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	} else if key := os.Getenv("API_KEY"); key != "" {
		// Config-less deployments can still gate the endpoint.
		cfg.Auth.APIKey = key
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("starting", "service", cfg.Service.Name, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workspaces, err := workspace.NewManager(cfg.Convert.WorkRoot)
	if err != nil {
		logger.Error("failed to create workspace manager", "error", err)
		return 1
	}

	opts := convert.Options{
		Timeout:       cfg.Convert.Timeout.Std(),
		MaxConcurrent: cfg.Convert.MaxConcurrent,
	}

	if cfg.History.Path != "" {
		store, err := joblog.Open(ctx, cfg.History.Path)
		if err != nil {
			logger.Error("failed to open conversion history", "path", cfg.History.Path, "error", err)
			return 1
		}
		defer store.Close()
		opts.Recorder = store
		opts.Digest = joblog.Digest
		logger.Info("conversion history enabled", "path", cfg.History.Path)
	}

	invoker := engine.NewLibreOffice(cfg.Convert.EngineBinary)
	orchestrator := convert.New(workspaces, invoker, opts)

	go runSweeper(ctx, workspaces, cfg.Convert.SweepInterval.Std(), cfg.Convert.SweepAge.Std())

	server := api.New(api.Config{
		Listen:         cfg.Listen,
		APIKey:         cfg.Auth.APIKey,
		MaxUploadBytes: cfg.Convert.MaxUploadBytes,
	}, orchestrator, log.WithComponent("api"))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

// runSweeper periodically removes workspace debris left behind by crashes.
func runSweeper(ctx context.Context, workspaces *workspace.Manager, interval, age time.Duration) {
	if interval <= 0 || age <= 0 {
		return
	}

	logger := log.WithComponent("sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := workspaces.Sweep(ctx, age)
			if err != nil {
				logger.Warn("workspace sweep failed", "error", err)
				continue
			}
			if report.DeletedDirs > 0 {
				logger.Info("swept stale workspaces", "deleted", report.DeletedDirs)
			}
		}
	}
}
