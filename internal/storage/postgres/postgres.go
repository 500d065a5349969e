// Package postgres implements the repository on PostgreSQL through the
// GORM backend.
package postgres

import (
	"log/slog"

	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/internal/database"
	gormstorage "github.com/fleetsync/playback/internal/storage/gorm"
)

// Config holds the connection and writer settings.
type Config struct {
	Conn config.PostgresConfig
	Gorm gormstorage.Config
}

// Backend wraps the GORM backend with the Postgres connection lifecycle.
type Backend struct {
	*gormstorage.Backend
	db  *database.Manager
	cfg Config
}

// New creates a Postgres backend. Init connects and migrates.
func New(cfg Config, db *database.Manager, logger *slog.Logger) *Backend {
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{Logger: logger}, cfg.Gorm),
		db:      db,
		cfg:     cfg,
	}
}

// Init connects, optionally enables PostGIS, migrates the schema and starts
// the writer.
func (b *Backend) Init() error {
	if err := b.db.ConnectPostgres(b.cfg.Conn); err != nil {
		return err
	}
	if err := b.db.Setup(b.cfg.Conn.PostGIS); err != nil {
		return err
	}
	b.SetDB(b.db.DB)
	return b.Backend.Init()
}

// Close flushes pending writes and closes the connection.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.db.Close()
}
