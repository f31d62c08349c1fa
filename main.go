package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freight_server/config"
	"freight_server/internal/bootstrap"
	"freight_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "freight",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "", "Run mode: api, worker, reconcile, all (overrides MODE)")
	flag.Parse()
	if *mode != "" {
		os.Setenv("MODE", *mode)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "freight-" + cfg.Mode,
	})

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch cfg.Mode {
	case "reconcile":
		runReconcile(deps)
	case "worker":
		runWorker(bootstrap.NewWorker(deps))
	case "api":
		runAPI(cfg, deps, nil)
	case "all":
		w := bootstrap.NewWorker(deps)
		go w.Start()
		runAPI(cfg, deps, w)
	}
}

func runReconcile(deps *bootstrap.Dependencies) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	summary, err := deps.IngestService.Reconcile(ctx)
	if err != nil {
		logger.Error("Reconcile failed: %v", err)
		return
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	logger.WithDuration(time.Since(start)).Info("Reconcile finished")
	os.Stdout.Write(append(out, '\n'))
}

func runAPI(cfg *config.Config, deps *bootstrap.Dependencies, w *bootstrap.Worker) {
	var poolStats func() any
	if w != nil {
		poolStats = w.Stats
	}

	app, err := bootstrap.NewAPI(deps, poolStats)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		}
		if w != nil {
			w.Stop()
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}

func runWorker(w *bootstrap.Worker) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("Worker shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("Worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.Info("Starting worker...")
	w.Start()
}
