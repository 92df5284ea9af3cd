package main

import (
	"context"
	"flag"
	"time"

	"github.com/sammy/pagelift/internal/config"
	"github.com/sammy/pagelift/internal/logger"
	"github.com/sammy/pagelift/internal/repository"
	"github.com/sammy/pagelift/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "pagelift-sweep",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	maxAgeHours := flag.Int("max-age-hours", 0, "Override retention age in hours (0 uses config)")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	maxAge := time.Duration(cfg.Retention.MaxAgeHours) * time.Hour
	if *maxAgeHours > 0 {
		maxAge = time.Duration(*maxAgeHours) * time.Hour
	}

	appLogger.WithFields(logger.Fields{
		"max_age": maxAge.String(),
	}).Info("Starting retention sweep")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	sweeper := service.NewRetentionSweeper(repository.NewJobRepository(db), maxAge, time.Hour)
	sweeper.Sweep(context.Background())

	appLogger.Info("Retention sweep finished")
	logger.Sync()
}
