package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/prerank-hq/preranker/clients/blob"
	"github.com/prerank-hq/preranker/clients/chain"
	"github.com/prerank-hq/preranker/clients/simulator"
	"github.com/prerank-hq/preranker/cmd/preranker/httpjson"
	"github.com/prerank-hq/preranker/config"
	"github.com/prerank-hq/preranker/http"
	"github.com/prerank-hq/preranker/logging"
	"github.com/prerank-hq/preranker/services"
	"github.com/prerank-hq/preranker/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	flags := parseFlags()
	log := logging.New(os.Stdout, flags.LogLevel, flags.LogJSON)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx := context.Background()

	// Initialize the state store
	log.Info().Str("addr", cfg.RedisAddr).Msg("Connecting to Redis")
	redisStore := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.StoreTimeout)
	if err := redisStore.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	defer func() {
		if err := redisStore.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}()

	// Initialize upstream clients
	chainClient, err := chain.Dial(ctx, cfg.ChainRPCURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
	}
	defer chainClient.Close()

	blobClient := blob.New(cfg.BlobStoreURL, cfg.FetchTimeout, log)
	simulatorClient := simulator.New(cfg.SimulatorURL, cfg.SimulatorTimeout, log)

	metrics := services.NewMetrics()
	publisher := services.NewPublisher(redisStore, cfg.EnqueueTimeout, log, metrics)
	pipeline := services.NewPipeline(blobClient, simulatorClient, redisStore, cfg.RecordTTL, log, metrics)

	coordinator := services.NewCoordinator(services.CoordinatorConfig{
		Store:     redisStore,
		Blob:      blobClient,
		Pipeline:  pipeline,
		Publisher: publisher,

		RecordTTL:          cfg.RecordTTL,
		FlushOnEmptyPassed: cfg.FlushOnEmptyPassed,
		EagerDeleteOnFlush: cfg.EagerDeleteOnFlush,
		Concurrency:        cfg.PipelineConcurrency,

		Logger:  log,
		Metrics: metrics,
	})
	coordinator.Start(ctx)

	var ingestor *services.Ingestor
	if cfg.AutoStartListener {
		ingestor = services.NewIngestor(services.IngestorConfig{
			Chain:   chainClient,
			Cursors: redisStore,
			Sink:    coordinator,

			IntentPackageID: cfg.IntentPackageID,
			PollInterval:    cfg.EventPollInterval,
			BatchLimit:      cfg.EventBatchLimit,

			Logger:  log,
			Metrics: metrics,
		})

		if err := ingestor.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start event ingestor")
		}
		log.Info().Msg("Event ingestor started")
	} else {
		log.Info().Msg("Event ingestor disabled by config")
	}

	// Create and start the server
	deps := httpjson.Dependencies{
		Coordinator: coordinator,
		Intents:     redisStore,
		Metrics:     metrics,
	}
	if ingestor != nil {
		deps.Ingestor = ingestor
	}

	server := httpjson.New(httpjson.Config{
		Addr:           fmt.Sprintf(":%s", cfg.Port),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         log,
		LogRequests:    true,
		Dependencies:   deps,
	})

	serverShutdown := http.StartAsync(server, log)

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info().Msg("Shutdown signal received, cleaning up services...")

	// Shutdown HTTP server first
	serverShutdown(ctx)

	// Stop ingesting before the coordinator so no new work is dispatched
	if ingestor != nil {
		log.Info().Msg("Shutting down event ingestor")
		if err := ingestor.Shutdown(shutdownTimeout); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown event ingestor")
		}
	}

	log.Info().Msg("Shutting down coordinator")
	if err := coordinator.Shutdown(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown coordinator")
	}

	log.Info().Msg("All services shut down successfully")
}

type flagSet struct {
	LogJSON  bool
	LogLevel zerolog.Level
}

func parseFlags() flagSet {
	var (
		logJSON        bool
		logLevel       string
		logLevelParsed zerolog.Level
	)

	flag.BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")
	flag.StringVar(&logLevel, "log-level", "info", "Set log level (debug, info, warn, error)")

	flag.Parse()

	switch logLevel {
	case "debug":
		logLevelParsed = zerolog.DebugLevel
	case "warn":
		logLevelParsed = zerolog.WarnLevel
	case "error":
		logLevelParsed = zerolog.ErrorLevel
	default:
		logLevelParsed = zerolog.InfoLevel
	}

	return flagSet{
		LogJSON:  logJSON,
		LogLevel: logLevelParsed,
	}
}
