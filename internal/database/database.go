// Package database is the repository layer: gorm-backed CRUD over trades,
// alerts, and active_futures, plus the transaction manager multi-row writes
// go through (§6, §8 "repository owns the Trade").
package database

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

// New opens either a Postgres or a SQLite-backed store depending on the
// connection string's scheme, and migrates the tradecore schema.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&Trade{},
		&Alert{},
		&ActiveFutures{},
		&SymbolFilterRow{},
		&ReconcileWatermark{},
	); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// NewFromGorm wraps an already-open gorm handle; TxManager uses it to wrap
// the transaction handle passed to a WithTx callback.
func NewFromGorm(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Gorm exposes the underlying handle for the transaction manager.
func (d *Database) Gorm() *gorm.DB { return d.db }
