// Package database opens and prepares the GORM connections behind the
// sqlite and postgres repositories.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/internal/model"
)

// ErrNotConnected is returned by Setup before a Connect call succeeded.
var ErrNotConnected = errors.New("database not connected")

const postgresMaxConns = 10

// sqlitePragmas trade durability for write speed; the file is a snapshot
// target, not the source of truth.
var sqlitePragmas = []string{
	"PRAGMA user_version = 1",
	"PRAGMA journal_mode = MEMORY",
	"PRAGMA synchronous = OFF",
	"PRAGMA cache_size = -32000",
	"PRAGMA temp_store = MEMORY",
}

// Manager holds one database connection.
type Manager struct {
	DB     *gorm.DB
	Local  bool // in-process SQLite
	pool   *sql.DB
	logger zerolog.Logger
}

// NewManager creates an unconnected manager. GORM statements are logged
// through logger at debug level.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// ConnectPostgres opens and pings a Postgres connection.
func (m *Manager) ConnectPostgres(cfg config.PostgresConfig) error {
	db, err := OpenPostgres(cfg, m.logger)
	if err != nil {
		return fmt.Errorf("connect postgres %s: %w", cfg.Host, err)
	}
	if err := m.use(db); err != nil {
		return err
	}
	m.pool.SetMaxOpenConns(postgresMaxConns)
	m.logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connected to Postgres")
	return nil
}

// ConnectSQLite opens a SQLite database. An empty path keeps it in memory.
func (m *Manager) ConnectSQLite(path string) error {
	db, err := OpenSQLite(path, m.logger)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	if err := m.use(db); err != nil {
		return err
	}
	m.Local = true
	ev := m.logger.Info()
	if path != "" {
		ev = ev.Str("path", path)
	}
	ev.Bool("memory", path == "").Msg("Using SQLite")
	return nil
}

func (m *Manager) use(db *gorm.DB) error {
	pool, err := db.DB()
	if err != nil {
		return fmt.Errorf("sql pool: %w", err)
	}
	if err := pool.Ping(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	m.DB, m.pool = db, pool
	return nil
}

// Setup migrates the schema. With postgis set on Postgres, the PostGIS
// extension is created first.
func (m *Manager) Setup(postgis bool) error {
	if m.DB == nil {
		return ErrNotConnected
	}
	if postgis && m.DB.Dialector.Name() == "postgres" {
		if err := m.DB.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error; err != nil {
			return fmt.Errorf("create postgis extension: %w", err)
		}
	}
	start := time.Now()
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	m.logger.Info().Int("models", len(model.DatabaseModels)).Dur("took", time.Since(start)).Msg("Schema migrated")
	return nil
}

// DumpToDisk snapshots the database to path.
func (m *Manager) DumpToDisk(path string) error {
	start := time.Now()
	if err := DumpSQLiteToDisk(m.DB, path); err != nil {
		return err
	}
	m.logger.Debug().Dur("took", time.Since(start)).Str("path", path).Msg("Dumped SQLite to disk")
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.pool == nil {
		return nil
	}
	return m.pool.Close()
}

// PostgresDSN renders the key/value DSN for cfg.
func PostgresDSN(cfg config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
}

// OpenPostgres opens a Postgres connection without pinging it.
func OpenPostgres(cfg config.PostgresConfig, logger zerolog.Logger) (*gorm.DB, error) {
	dialect := postgres.New(postgres.Config{DSN: PostgresDSN(cfg), PreferSimpleProtocol: true})
	return gorm.Open(dialect, &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 NewGormLogger(logger),
	})
}

// OpenSQLite opens a SQLite database tuned for bulk writes. An empty path
// opens a private in-memory database.
func OpenSQLite(path string, logger zerolog.Logger) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 NewGormLogger(logger),
	})
	if err != nil {
		return nil, err
	}
	if path == "" {
		// each pooled connection to :memory: would be its own database
		pool, err := db.DB()
		if err != nil {
			return nil, err
		}
		pool.SetMaxOpenConns(1)
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// DumpSQLiteToDisk replaces path with a point-in-time copy of db made by
// VACUUM INTO.
func DumpSQLiteToDisk(db *gorm.DB, path string) error {
	switch {
	case path == "":
		return errors.New("sqlite dump path not set")
	case strings.ContainsRune(path, '\''):
		return fmt.Errorf("invalid sqlite dump path %q", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous dump: %w", err)
	}
	if err := db.Exec("VACUUM INTO '" + path + "'").Error; err != nil {
		return fmt.Errorf("dump sqlite: %w", err)
	}
	return nil
}
