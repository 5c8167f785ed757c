package main

import (
	"log"
	"log/slog"

	"github.com/terry-lonesski/laravel-echo-server/internal/config"
	"github.com/terry-lonesski/laravel-echo-server/internal/database"
	"github.com/terry-lonesski/laravel-echo-server/internal/repository"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	if cfg.Database.Driver != config.DriverPostgres && cfg.Database.Driver != config.DriverMySQL {
		log.Fatalf("Nothing to migrate for DATABASE_DRIVER %q", cfg.Database.Driver)
	}

	slog.Info("Starting database migration...", "driver", cfg.Database.Driver)

	db, err := database.NewSQLConnection(cfg.Database.Driver, cfg.Database.URI, cfg.Log.DevMode)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	slog.Info("Database connection established")

	if err := repository.MigrateSQL(db); err != nil {
		log.Fatal("Failed to migrate membership table:", err)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.Close()
	}

	slog.Info("Database migration completed successfully!")
}
