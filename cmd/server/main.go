package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/novelgen/internal/api"
	"github.com/dgallion1/novelgen/internal/config"
	"github.com/dgallion1/novelgen/internal/generate"
	"github.com/dgallion1/novelgen/internal/llm"
	"github.com/dgallion1/novelgen/internal/pipeline"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("cannot load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	registry, err := llm.NewRegistry(cfg.LLMConfigs(), llm.NewStats(time.Hour))
	if err != nil {
		log.Error("cannot configure providers", "error", err)
		os.Exit(1)
	}
	checkpoints, err := cfg.OpenCheckpoints()
	if err != nil {
		log.Error("cannot open checkpoint store", "backend", cfg.CheckpointBackend, "error", err)
		os.Exit(1)
	}
	gen := generate.New(registry, log, cfg.GenerateOptions())

	// Initialize pipeline.
	sched := pipeline.NewScheduler(cfg, gen, checkpoints, log)
	sched.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(gen, sched, registry.Stats(), log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		sched.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		checkpoints.Close()
	}()

	log.Info("starting novelgen", "port", cfg.Port, "providers", registry.Names(), "checkpoints", cfg.CheckpointBackend)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
