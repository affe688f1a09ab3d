package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/greatstories/videocore/internal/config"
	"github.com/greatstories/videocore/internal/encoder"
	"github.com/greatstories/videocore/internal/jobstore"
	"github.com/greatstories/videocore/internal/kafka"
	"github.com/greatstories/videocore/internal/llmclient"
	"github.com/greatstories/videocore/internal/promptbuilder"
	"github.com/greatstories/videocore/internal/scenecache"
	"github.com/greatstories/videocore/internal/scheduler"
	"github.com/greatstories/videocore/internal/speech"
	"github.com/greatstories/videocore/internal/storage"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting videocore worker")

	// Load configuration
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every data directory the pipeline writes under is created up front
	// so concurrent jobs only ever create their own job-scoped subtrees.
	for _, dir := range []string{cfg.OutputDir, cfg.TempDir, cfg.SceneCacheDir, cfg.BGMDirectory} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create data directory")
		}
	}

	// Initialize the job store
	store, err := jobstore.Connect(ctx, cfg.DatabaseURL, cfg.ClipPreviewLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	// Initialize the LLM client and prompt builder
	llm := llmclient.New(cfg)
	if models, err := llm.ListModels(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not list provider models")
	} else {
		log.Info().Int("count", len(models)).Msg("Provider models available")
	}
	catalog := speech.LoadCatalog(cfg.VoiceCatalogPath)
	voices := make([]promptbuilder.VoiceOption, len(catalog.Voices))
	for i, v := range catalog.Voices {
		voices[i] = promptbuilder.VoiceOption{ID: v.ID, Label: v.Name, Description: v.Description}
	}
	prompts := promptbuilder.New(llm, voices)

	// Initialize the scene cache on the shared database connection, with
	// the prompt builder as its LLM selector
	cache, err := scenecache.New(ctx, store.DB(), cfg.SceneCacheDir, cfg.SceneCacheMaxEntries, prompts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scene cache")
	}

	// Initialize S3 storage for final-video publication; optional
	var objects *storage.Client
	if cfg.S3AccessKey != "" {
		objects, err = storage.NewClient(
			cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket,
			cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.S3PublicURL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize storage client")
		}
	}

	media := encoder.New(cfg.FFmpegPath, cfg.FFprobePath, cfg.TempDir)
	sched := scheduler.New(cfg, store, cache, llm, prompts, media, objects)

	// Resume jobs interrupted by the previous process lifetime
	if err := sched.RecoverIncomplete(ctx); err != nil {
		log.Error().Err(err).Msg("Startup recovery failed")
	}

	// Consume job-start messages from the API process
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopicJobs, cfg.KafkaConsumerGroup, sched)
	defer consumer.Close()

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Kafka consumer failed")
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down worker")
	cancel()
}
