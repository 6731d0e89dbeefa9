package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumenworks/thoughtline/internal/settings"
	"github.com/lumenworks/thoughtline/internal/social"
	"github.com/lumenworks/thoughtline/internal/thoughts"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// The connection pool is capped at one writer, which SQLite requires anyway.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&thoughts.Thought{},
		&thoughts.RateLimitCounter{},
		&thoughts.SendRejection{},
		&social.ConnectionFact{},
		&social.BlockFact{},
		&settings.Entry{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
