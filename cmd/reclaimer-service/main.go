package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/cati-assign/internal/app"
	"github.com/cuongbtq/cati-assign/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("RECLAIMER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	once := flag.Bool("once", false, "Run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateReclaimerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := app.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting reclaimer service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Duration("lease", cfg.Reclaimer.Lease),
		slog.Duration("interval", cfg.Reclaimer.Interval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.Build(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer core.Close()

	if *once {
		result, err := core.Reclaimer.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		appLogger.Info("Sweep complete",
			slog.Int("reclaimed", result.ReclaimedCount),
			slog.Int("zones", len(result.AffectedZones)),
		)
		return nil
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(core.Registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
		appLogger.Info("Metrics server listening", slog.String("address", metricsSrv.Addr))
	}

	core.Reclaimer.Start(ctx)
	appLogger.Info("Reclaimer service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
	)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Reclaimer.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		core.Reclaimer.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Reclaimer stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Reclaimer shutdown timeout exceeded, forcing exit")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Metrics server shutdown failed", slog.Any("error", err))
		}
	}

	appLogger.Info("Reclaimer service shutdown complete")
	return nil
}
