package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"github.com/fixturelab/tournament-core/brackets"
	"github.com/fixturelab/tournament-core/config"
	"github.com/fixturelab/tournament-core/db"
	"github.com/fixturelab/tournament-core/handlers"
	"github.com/fixturelab/tournament-core/repositories"
	api "github.com/fixturelab/tournament-core/routes"
	"github.com/fixturelab/tournament-core/services"
	"github.com/fixturelab/tournament-core/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		slog.Int("port", cfg.ServerPort),
		slog.String("tie_break_rule", string(cfg.TieBreakRule)),
	)

	seedingTable, err := brackets.LoadSeedingTable(cfg.SeedingTablePath)
	if err != nil {
		logger.Error("failed to load seeding table", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("seeding table loaded", slog.String("path", cfg.SeedingTablePath))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	// Optional standings snapshot archiving to Cloudflare R2.
	var archiver services.SnapshotArchiver
	if cfg.ArchivingEnabled() {
		uploader, err := storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = services.NewSnapshotArchiver(uploader, logger)
		logger.Info("standings snapshot archiving enabled", slog.String("bucket", cfg.R2BucketName))
	} else {
		logger.Info("standings snapshot archiving disabled")
	}

	wsHub := brackets.NewHub()
	go wsHub.Run()
	logger.Info("websocket hub started")

	txRunner := repositories.NewTxRunner(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	resultRepo := repositories.NewPostgresMatchResultRepository(dbConn)
	stageRepo := repositories.NewPostgresStageRepository(dbConn)
	rankingRepo := repositories.NewPostgresRankingRepository(dbConn)
	logger.Info("repositories initialized")

	resolverService := services.NewResolverService(
		txRunner, stageRepo, matchRepo, resultRepo, rankingRepo,
		seedingTable, cfg.TieBreakRule, archiver, wsHub, logger,
	)
	stageService := services.NewStageService(stageRepo, matchRepo, resultRepo, resolverService, wsHub, logger)
	rankingService := services.NewRankingService(txRunner, rankingRepo, resultRepo, stageService, wsHub, logger)
	resultService := services.NewResultService(txRunner, matchRepo, resultRepo, stageRepo, rankingService, logger)
	gateService := services.NewGateService(matchRepo)
	logger.Info("services initialized")

	sweeper, err := services.NewSweeper(
		cfg.SweepInterval, resultRepo, stageRepo,
		rankingService, stageService, resolverService, logger,
	)
	if err != nil {
		logger.Error("failed to initialize sweeper", slog.Any("error", err))
		os.Exit(1)
	}
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start sweeper", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := sweeper.Stop(); err != nil {
			logger.Error("failed to stop sweeper", slog.Any("error", err))
		}
	}()

	resultHandler := handlers.NewResultHandler(resultService)
	matchHandler := handlers.NewMatchHandler(gateService, stageService)
	standingsHandler := handlers.NewStandingsHandler(rankingService)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub)
	logger.Info("HTTP handlers initialized")

	router := chi.NewRouter()
	api.SetupRoutes(router, cfg.JWTSecretKey, resultHandler, matchHandler, standingsHandler, webSocketHandler)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
		} else {
			logger.Info("server shut down gracefully")
		}
	}
}
