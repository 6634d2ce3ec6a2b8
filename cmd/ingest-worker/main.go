package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/arciva/arciva-backend/internal/config"
	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/domain/ingest"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
	"github.com/arciva/arciva-backend/internal/pkg/database"
	"github.com/arciva/arciva-backend/internal/pkg/exiftool"
	"github.com/arciva/arciva-backend/internal/pkg/imaging"
	"github.com/arciva/arciva-backend/internal/pkg/logger"
	"github.com/arciva/arciva-backend/internal/pkg/queue"
	"github.com/arciva/arciva-backend/internal/pkg/rawdecode"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("Starting Arciva ingest worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	files, err := contentstore.New(cfg.StorageRoot, cfg.UploadsDir, cfg.OriginalsDir, cfg.DerivativesDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize content store")
	}

	// External tool capabilities are resolved exactly once, at startup.
	exifClient := exiftool.New(cfg.ExiftoolPath)
	if !exifClient.Available() {
		log.Warn().Str("path", cfg.ExiftoolPath).Msg("exiftool not found, metadata extraction degraded")
	}

	var rawDecoder rawdecode.Decoder
	dcraw := rawdecode.NewDCRaw(cfg.DcrawPath)
	if dcraw.Available() {
		rawDecoder = dcraw
	} else {
		log.Warn().Str("path", cfg.DcrawPath).Msg("dcraw not found, RAW previews disabled")
		rawDecoder = rawdecode.Unavailable{}
	}

	assetRepo := asset.NewRepository(db)
	merger := ingest.NewMerger(ingest.NewMergeStore(db), files)
	renderer := imaging.NewRenderer(cfg.JPEGQuality)
	pipeline := ingest.NewPipeline(assetRepo, merger, files, renderer, exifClient, rawDecoder)

	ingestQueue := queue.New(redis)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(ctx, worker, cfg, ingestQueue, pipeline)
		}(i)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down workers...")
	cancel()
	wg.Wait()
	log.Info().Msg("Workers exited properly")
}

func runWorker(ctx context.Context, worker int, cfg *config.Config, q *queue.Queue, pipeline *ingest.Pipeline) {
	logger := log.With().Int("worker", worker).Logger()
	logger.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Worker stopping")
			return
		default:
		}

		jobID, err := q.Claim(ctx, cfg.JobClaimTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) || ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("Failed to claim job")
			continue
		}

		assetID, err := uuid.Parse(jobID)
		if err != nil {
			logger.Error().Str("job", jobID).Msg("Discarding malformed job payload")
			continue
		}

		// Jobs run to completion even during shutdown; the pipeline has
		// no mid-flight checkpoint to resume from.
		result, err := pipeline.Process(context.Background(), assetID)
		if err != nil {
			logger.Error().Err(err).Str("asset_id", assetID.String()).Msg("Job failed before reaching a terminal state")
			continue
		}
		if result != nil {
			logger.Info().
				Str("asset_id", assetID.String()).
				Str("status", string(result.Status)).
				Msg("Job finished")
		}
	}
}
