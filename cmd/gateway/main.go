package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/application"
	"github.com/modelgate/modelgate/internal/infrastructure/config"
	"github.com/modelgate/modelgate/internal/infrastructure/logger"
)

const (
	appName    = "modelgate"
	appVersion = "0.3.0"
)

// shutdownTimeout bounds the drain window after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			// default mode, fall through
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
			printUsage()
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Pretty: cfg.Log.Pretty,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log = logger.WithRedaction(log, logger.NewRedactor(cfg.Secrets()...))
	defer log.Sync()

	log.Info("Starting modelgate",
		zap.String("version", appVersion),
		zap.String("provider", cfg.ModelProvider),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

func printUsage() {
	fmt.Printf(`%s v%s — multi-provider LLM gateway

Usage:
  gateway           Start the gateway server (default)
  gateway serve     Same as the default
  gateway version   Show version
  gateway help      Show this help

Environment:
  MODEL_PROVIDER, TIER_*, POLICY_*, LOG_*, ...
  Every configs/gateway.yaml key is overridable; see that file.
`, appName, appVersion)
}
