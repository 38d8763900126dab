package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/imgclassify/internal/config"
	"github.com/onnwee/imgclassify/internal/errorreporting"
	"github.com/onnwee/imgclassify/internal/logger"
	"github.com/onnwee/imgclassify/internal/secrets"
	"github.com/onnwee/imgclassify/internal/server"
	"github.com/onnwee/imgclassify/internal/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (falling back to system env)")
	}

	// Load configuration
	cfg := config.Load()

	// Initialize structured logging
	logger.Init(cfg.LogLevel)
	logger.Info("Initializing classification service", "version", cfg.SentryRelease, "log_level", cfg.LogLevel)

	if strings.EqualFold(os.Getenv("ENV"), "production") {
		if err := secrets.ValidateRequired("MODEL_URL", "ADMIN_API_TOKEN"); err != nil {
			logger.Error("Missing required configuration", "error", err)
			log.Fatalf("config: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		log.Fatalf("config: %v", err)
	}

	// Initialize error reporting
	if err := errorreporting.Init(errorreporting.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.SentryEnvironment,
		Release:     cfg.SentryRelease,
		SampleRate:  cfg.SentrySampleRate,
	}); err != nil {
		logger.Warn("Failed to initialize error reporting", "error", err)
	} else if errorreporting.IsSentryEnabled() {
		logger.Info("Error reporting initialized", "environment", cfg.SentryEnvironment)
		defer func() {
			logger.Info("Flushing error reports...")
			errorreporting.Flush(2 * time.Second)
		}()
	}

	// Initialize tracing
	shutdownTracing, err := tracing.Init(tracing.Options{
		ServiceName: "imgclassify",
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		SampleRate:  cfg.OTELSampleRate,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	} else if cfg.OTELEnabled {
		logger.Info("Tracing initialized", "endpoint", cfg.OTELEndpoint, "sample_rate", cfg.OTELSampleRate)
		defer func() {
			logger.Info("Shutting down tracer...")
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	srv, err := server.NewServer(cfg, server.Collaborators{})
	if err != nil {
		logger.Error("Failed to build server", "error", err)
		log.Fatalf("server: %v", err)
	}

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server stopped with error", "error", err)
		errorreporting.CaptureError(err)
		return
	}
	logger.Info("Server stopped")
}
