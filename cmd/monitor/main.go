// Package main provides the entrypoint for the rampgate health monitor.
//
// The monitor is deployed separately from the API so that rollback
// protection keeps running while the admin surface is being redeployed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampgate/rampgate/internal/audit"
	"github.com/rampgate/rampgate/internal/database"
	"github.com/rampgate/rampgate/internal/flag"
	"github.com/rampgate/rampgate/internal/health"
	"github.com/rampgate/rampgate/internal/metricsfeed"
	"github.com/rampgate/rampgate/internal/rollout"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "rampgate-monitor"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting rampgate health monitor")

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8081"
	}

	environment := os.Getenv("FLAG_ENVIRONMENT")
	if environment == "" {
		environment = "production"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select storage backend, matching the API server's configuration.
	var (
		store    flag.Store
		auditLog audit.Log
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
			Str("database", dbConfig.Database).
			Msg("database connected")

		store = flag.NewPostgresStore(pool)
		auditLog = audit.NewPostgresLog(pool)
	}

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

	transitioner := rollout.NewTransitioner(rollout.TransitionerConfig{
		Store:     store,
		AuditLog:  auditLog,
		Publisher: publisher,
		Logger:    log,
	})

	// The metrics feed is the external pipeline; without a URL the monitor
	// still runs but holds every ramp (no data means no advancement).
	var feed metricsfeed.Source
	if feedURL := os.Getenv("METRICS_FEED_URL"); feedURL != "" {
		feed = metricsfeed.NewHTTPSource(metricsfeed.HTTPSourceConfig{
			BaseURL: feedURL,
		})
		log.Info().Str("feed_url", feedURL).Msg("metrics feed client initialized")
	} else {
		empty := metricsfeed.NewMemorySource()
		empty.Fail(metricsfeed.ErrFeedUnavailable)
		feed = empty
		log.Warn().Msg("METRICS_FEED_URL not set, ramps will hold until a feed is configured")
	}

	interval := time.Minute
	if raw := os.Getenv("MONITOR_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid MONITOR_INTERVAL")
		}
		interval = parsed
	}

	concurrency := 4
	if raw := os.Getenv("MONITOR_CONCURRENCY"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid MONITOR_CONCURRENCY")
		}
		concurrency = parsed
	}

	monitor := health.NewMonitor(health.MonitorConfig{
		Store:        store,
		Feed:         feed,
		Transitioner: transitioner,
		Logger:       log,
		Environment:  environment,
		Interval:     interval,
		Concurrency:  concurrency,
	})

	go monitor.Run(ctx)

	// Health endpoint so the platform can probe the monitor process.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("health endpoint error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down monitor")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health endpoint forced to shutdown")
	}

	log.Info().Msg("monitor stopped")
}
