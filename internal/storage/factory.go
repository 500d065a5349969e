package storage

import (
	"fmt"
	"log/slog"

	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/internal/database"
	gormstorage "github.com/fleetsync/playback/internal/storage/gorm"
	"github.com/fleetsync/playback/internal/storage/memory"
	"github.com/fleetsync/playback/internal/storage/postgres"
	sqlitestorage "github.com/fleetsync/playback/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration. The returned
// backend still needs Init.
func NewBackend(cfg config.StorageConfig, db *database.Manager, logger *slog.Logger) (Backend, error) {
	gcfg := gormstorage.Config{FlushInterval: cfg.FlushInterval}
	switch cfg.Type {
	case "postgres":
		return postgres.New(postgres.Config{Conn: cfg.Postgres, Gorm: gcfg}, db, logger), nil
	case "sqlite":
		return sqlitestorage.New(sqlitestorage.Config{
			DumpPath:     cfg.SQLite.Path,
			DumpInterval: cfg.SQLite.DumpInterval,
			Gorm:         gcfg,
		}, db, logger), nil
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
