package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sammy/pagelift/internal/api"
	"github.com/sammy/pagelift/internal/config"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/metrics"
	"github.com/sammy/pagelift/internal/pipeline"
	"github.com/sammy/pagelift/internal/remote"
	"github.com/sammy/pagelift/internal/repository"
	"github.com/sammy/pagelift/internal/service"
	"github.com/sammy/pagelift/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}
	jobRepo := repository.NewJobRepository(db)

	ctx := context.Background()

	// Initialize object storage and the remote job store; both are optional
	// and the service runs guest-only without them
	var objectStorage storage.ObjectStorage
	var remoteJobs remote.Jobs
	var uploader *service.ComponentUploader
	if cfg.Storage.Enabled {
		objectStorage, err = storage.NewStorage(&storage.S3Config{
			Type:      storage.StorageType(cfg.Storage.Type),
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			logger.Fatal("Failed to ensure storage bucket: %v", err)
		}
		uploader = service.NewComponentUploader(objectStorage)
	}
	if cfg.Remote.Enabled {
		if objectStorage == nil {
			logger.Fatal("Remote datastore requires object storage to be enabled")
		}
		remoteJobs = remote.NewClient(&remote.Config{
			BaseURL:    cfg.Remote.BaseURL,
			ServiceKey: cfg.Remote.ServiceKey,
			Table:      cfg.Remote.Table,
		}, objectStorage)
	}

	// Register Prometheus collectors
	metrics.MustRegister()

	// Extraction pipeline and worker
	extractor := pipeline.NewCommandExtractor(cfg.Worker.ExtractorCommand)
	worker := service.NewExtractionWorker(jobRepo, extractor, uploader, remoteJobs, cfg.Worker.OutputDir)
	worker.Start(ctx)
	defer worker.Stop()

	// Retention sweeper for expired guest jobs
	sweeper := service.NewRetentionSweeper(
		jobRepo,
		time.Duration(cfg.Retention.MaxAgeHours)*time.Hour,
		cfg.Retention.SweepInterval,
	)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Job orchestration service
	jobService := service.NewJobService(jobRepo, worker, remoteJobs, service.JobServiceConfig{
		UploadDir: cfg.Worker.UploadDir,
		OutputDir: cfg.Worker.OutputDir,
		PublicURL: cfg.Server.PublicURL,
		MaxSlots:  cfg.Remote.MaxSlots,
	})

	// Setup router
	router := api.SetupRouter(&cfg.Server, cfg.Auth.JWTSecret, api.RouterDeps{
		Jobs:      jobService,
		Extractor: extractor,
		Log:       appLog,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
