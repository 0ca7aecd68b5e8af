// Package main provides the entrypoint for the rampgate API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampgate/rampgate/internal/api"
	"github.com/rampgate/rampgate/internal/api/handler"
	"github.com/rampgate/rampgate/internal/api/middleware"
	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/auth"
	"github.com/rampgate/rampgate/internal/database"
	"github.com/rampgate/rampgate/internal/evaluate"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/rollout"
	"github.com/rampgate/rampgate/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "rampgate-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting rampgate API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Select storage backend. Postgres is the default; an embedded bbolt
	// store serves single-node deployments without a database.
	var (
		store      flag.Store
		auditLog   audit.Log
		storeCheck handler.ReadinessChecker
	)

	switch os.Getenv("STORE_BACKEND") {
	case "bolt":
		dataDir := os.Getenv("DATA_DIR")
		if dataDir == "" {
			dataDir = "./data"
		}
		boltStore, err := flag.NewBoltStore(dataDir)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open embedded flag store")
		}
		defer boltStore.Close()

		store = boltStore
		auditLog = audit.NewMemoryLog()
		log.Info().Str("data_dir", dataDir).Msg("embedded flag store opened")

	default:
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		store = flag.NewPostgresStore(pool)
		auditLog = audit.NewPostgresLog(pool)
		storeCheck = pool.Ping
	}

	// Initialize JWT service (get signing key from environment)
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: jwtSigningKey,
	})

	// Optional transition event publisher
	var publisher rollout.EventPublisher
	if projectID := os.Getenv("PUBSUB_PROJECT_ID"); projectID != "" {
		topicName := os.Getenv("PUBSUB_TOPIC")
		if topicName == "" {
			topicName = "flag-transitions"
		}
		p, err := audit.NewPublisher(ctx, audit.PublisherConfig{
			ProjectID: projectID,
			TopicName: topicName,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize transition publisher")
		}
		defer p.Close()
		publisher = p
		log.Info().Str("topic", topicName).Msg("transition publisher initialized")
	}

	// Initialize flag admin service
	flagService := flag.NewService(flag.ServiceConfig{
		Store:  store,
		Logger: log,
	})
	log.Info().Msg("flag service initialized")

	// Initialize transitioner
	transitioner := rollout.NewTransitioner(rollout.TransitionerConfig{
		Store:     store,
		AuditLog:  auditLog,
		Publisher: publisher,
		Logger:    log,
	})

	// Initialize evaluator
	evaluator := evaluate.New(evaluate.Config{
		Store:  store,
		Logger: log,
	})
	log.Info().Msg("evaluator initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Logger:       log,
		ServiceName:  serviceName,
		Metrics:      metrics,
		JWTService:   jwtService,
		FlagService:  flagService,
		Transitioner: transitioner,
		Evaluator:    evaluator,
		AuditLog:     auditLog,
		StoreCheck:   storeCheck,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
