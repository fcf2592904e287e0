package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"collab-service/internal/config"
	"collab-service/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func NewPostgresConnection(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:                              false,
		SkipDefaultTransaction:                   true,
		AllowGlobalUpdate:                        false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	configurePool(sqlDB)

	slog.Info("Postgres connection established", "host", cfg.Host, "database", cfg.DBName)
	return db, nil
}

func configurePool(db *sql.DB) {
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(50)
}

// Migrate creates or updates the tables the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Entry{},
		&models.Friend{},
		&models.RoomSession{},
	)
	if err != nil {
		// Concurrent replicas may race on table creation
		if strings.Contains(err.Error(), "already exists") {
			slog.Warn("Tables already exist, continuing with existing schema")
			return nil
		}
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
