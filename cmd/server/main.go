package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/examgest/internal/api"
	"github.com/dgallion1/examgest/internal/config"
	"github.com/dgallion1/examgest/internal/handoff"
	"github.com/dgallion1/examgest/internal/pipeline"
	"github.com/dgallion1/examgest/internal/vision"
	"github.com/joho/godotenv"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// A missing .env is fine; the environment itself may carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients.
	client, err := vision.NewLLMClient(vision.Config{
		Provider:    cfg.VisionProvider,
		Model:       cfg.VisionModel,
		APIKey:      cfg.VisionAPIKey,
		BaseURL:     cfg.VisionBaseURL,
		MaxTokens:   cfg.VisionMaxTokens,
		Temperature: cfg.VisionTemperature,
		CallTimeout: cfg.VisionCallTimeout,
		CallDelay:   cfg.VisionCallDelay,
	})
	if err != nil {
		log.Error("failed to initialize vision client", "error", err)
		os.Exit(1)
	}

	var ho *handoff.Client
	if cfg.HandoffURL != "" {
		ho = handoff.NewClient(cfg.HandoffURL, cfg.HandoffToken)
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, client, ho, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, client, log, cfg)

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

		orch.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		ho.Close()
	}()

	log.Info("starting examgest",
		"port", cfg.Port,
		"vision_provider", cfg.VisionProvider,
		"vision_model", cfg.VisionModel,
		"workers", cfg.WorkerCount,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
