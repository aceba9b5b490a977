// F.I.R.E. Route server — ingests CRM ticket exports, enriches them through
// the anonymizer/classifier/geocoder pipeline and routes them to managers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/freedomfin/fireroute/pkg/api"
	"github.com/freedomfin/fireroute/pkg/config"
	"github.com/freedomfin/fireroute/pkg/database"
	"github.com/freedomfin/fireroute/pkg/events"
	"github.com/freedomfin/fireroute/pkg/geo"
	"github.com/freedomfin/fireroute/pkg/llm"
	"github.com/freedomfin/fireroute/pkg/pipeline"
	"github.com/freedomfin/fireroute/pkg/spam"
	"github.com/freedomfin/fireroute/pkg/store"
	"github.com/freedomfin/fireroute/pkg/version"
)

const processingQueueSize = 16

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*envPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Database (migrations run on connect).
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing database client", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	stores := store.New(dbClient)

	// LLM clients. The classifier and sentiment calls may target different
	// models or even different providers.
	classifierClient := llm.NewClient(llm.Options{
		Endpoint: cfg.LLMEndpoint,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		Timeout:  cfg.LLMTimeout,
	}, logger)
	sentimentClient := llm.NewClient(llm.Options{
		Endpoint: cfg.SentimentEndpoint,
		Model:    cfg.SentimentModel,
		APIKey:   cfg.SentimentAPIKey,
		Timeout:  cfg.SentimentTimeout,
	}, logger)

	classifier := llm.NewClassifier(classifierClient, llm.NewImageLoader(cfg.UploadsDir))
	sentiment := llm.NewSentimentAnalyzer(sentimentClient)
	spamFilter := spam.New(classifierClient, cfg.SpamThreshold, logger)

	// Geocoder ladder: 2GIS first, Nominatim fallback, DB-backed cache.
	geocoder := geo.NewGeocoder(
		geo.NewTwoGISClient(cfg.PrimaryGeocoderURL, cfg.PrimaryGeocoderKey, cfg.GeocoderTimeout),
		geo.NewNominatimClient(cfg.FallbackGeocoderURL, cfg.GeocoderTimeout),
		geo.NewDBCache(stores.GeoCache, logger),
		logger,
	)

	bus := events.NewBus(logger)
	progress := events.NewProgressTracker()

	pipe := pipeline.New(pipeline.FromStores(
		stores, spamFilter, classifier, sentiment, geocoder, bus, progress, cfg, logger))
	runner := pipeline.NewRunner(pipe, processingQueueSize, logger)
	runner.Start(ctx)
	defer runner.Stop()

	server := api.NewServer(cfg, dbClient, stores, geocoder, runner, bus, progress, logger)

	logger.Info("F.I.R.E. Route started",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"llm_model", cfg.LLMModel,
		"sentiment_model", cfg.SentimentModel,
		"spam_threshold", cfg.SpamThreshold)

	if err := server.Run(ctx); err != nil {
		logger.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
