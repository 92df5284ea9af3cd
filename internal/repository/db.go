package repository

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sammy/pagelift/internal/config"
	"github.com/sammy/pagelift/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB initializes the local job database based on configuration and runs
// migrations. A store opened against an old on-disk schema must come out
// identical to a freshly created one, so column presence is checked
// explicitly before auto-migration rather than inferred from write errors.
// Parameters:
//   - cfg: database configuration including driver and connection settings.
// Returns:
//   - *gorm.DB: initialized database handle.
//   - error: non-nil if connection or migration fails.
func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var db *gorm.DB
	var err error

	log.Printf("[DB] Initializing database with driver: %q", cfg.Driver)

	switch cfg.Driver {
	case "postgres":
		db, err = initPostgres(cfg, gormConfig)
	case "sqlite":
		db, err = initSQLite(cfg, gormConfig)
	default:
		log.Printf("[DB] Unknown driver %q, defaulting to SQLite", cfg.Driver)
		db, err = initSQLite(cfg, gormConfig)
	}

	if err != nil {
		return nil, err
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := migrateJobsTable(db); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&domain.Job{}, &domain.Feedback{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// migrateJobsTable upgrades a pre-existing jobs table that predates the
// total_components and user_id columns. Databases created before those
// columns existed must keep working with safe defaults.
func migrateJobsTable(db *gorm.DB) error {
	m := db.Migrator()
	if !m.HasTable(&domain.Job{}) {
		return nil
	}
	if !m.HasColumn(&domain.Job{}, "total_components") {
		if err := m.AddColumn(&domain.Job{}, "total_components"); err != nil {
			return fmt.Errorf("failed to add total_components column: %w", err)
		}
		log.Printf("[DB] Migration: added total_components column to jobs table")
	}
	if !m.HasColumn(&domain.Job{}, "user_id") {
		if err := m.AddColumn(&domain.Job{}, "user_id"); err != nil {
			return fmt.Errorf("failed to add user_id column: %w", err)
		}
		log.Printf("[DB] Migration: added user_id column to jobs table")
	}
	return nil
}

// initPostgres initializes a PostgreSQL database connection using the unified DSN
func initPostgres(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	// PreferSimpleProtocol keeps the connection compatible with transaction
	// poolers, which reject implicit prepared statements
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

// initSQLite initializes a SQLite database connection
func initSQLite(cfg *config.DatabaseConfig, gormConfig *gorm.Config) (*gorm.DB, error) {
	// Ensure the directory exists
	if cfg.Path != "" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// WAL keeps readers unblocked while the single writer commits
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")

	return db, nil
}
