package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/arciva/arciva-backend/internal/config"
	"github.com/arciva/arciva-backend/internal/domain/asset"
	"github.com/arciva/arciva-backend/internal/domain/ingest"
	"github.com/arciva/arciva-backend/internal/domain/project"
	"github.com/arciva/arciva-backend/internal/middleware"
	"github.com/arciva/arciva-backend/internal/pkg/contentstore"
	"github.com/arciva/arciva-backend/internal/pkg/database"
	"github.com/arciva/arciva-backend/internal/pkg/logger"
	"github.com/arciva/arciva-backend/internal/pkg/queue"
	"github.com/arciva/arciva-backend/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Arciva API")

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

	ingestQueue := queue.New(redis)

	// ---------- Repositories ----------
	assetRepo := asset.NewRepository(db)
	projectRepo := project.NewRepository(db)
	mergeStore := ingest.NewMergeStore(db)

	// ---------- Services ----------
	assetService := asset.NewService(assetRepo, ingestQueue)
	projectService := project.NewService(projectRepo)
	merger := ingest.NewMerger(mergeStore, files)

	// ---------- Handlers ----------
	assetHandler := asset.NewHandler(assetService, files)
	projectHandler := project.NewHandler(projectService)
	uploadHandler := ingest.NewHandler(assetRepo, projectService, files, ingestQueue, merger, cfg.MaxUploadBytes)

	identity := middleware.Identity

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Mount("/assets", assetHandler.Routes(identity))
		r.Mount("/projects", projectHandler.Routes(identity, uploadHandler.Init))
		r.Mount("/uploads", uploadHandler.Routes(identity))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Minute, // uploads stream the whole file in one request
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
