package database

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/worklog/internal/users"
	"github.com/MarcoPoloResearchLab/worklog/internal/worklog"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options tunes the SQLite connection pool.
type Options struct {
	Path            string
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if options.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(options.Path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	maxOpen := options.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	if options.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(options.ConnMaxIdleTime)
	}

	models := append(worklog.Models(), &users.User{}, &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized",
			zap.String("path", options.Path),
			zap.Int("max_open_conns", maxOpen))
	}

	return db, nil
}
