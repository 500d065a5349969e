// Package sqlitestorage implements the repository on an in-memory SQLite
// database with periodic disk dumps via VACUUM INTO. It wraps the GORM
// backend; the SQLite-specific parts are restoring the last dump on start
// and the dump loop.
package sqlitestorage

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fleetsync/playback/internal/database"
	gormstorage "github.com/fleetsync/playback/internal/storage/gorm"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	DumpPath     string // empty keeps the data in memory only
	Gorm         gormstorage.Config
}

// tables restored from a dump, parents first.
var tables = []string{"vehicles", "position_samples", "video_segments"}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *database.Manager
	cfg      Config
	log      *slog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a SQLite backend. Init opens the database.
func New(cfg Config, db *database.Manager, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{Logger: logger}, cfg.Gorm),
		db:      db,
		cfg:     cfg,
		log:     logger,
	}
}

// Init opens the in-memory database, restores the last dump and starts
// the writer and dump goroutines.
func (b *Backend) Init() error {
	if err := b.db.ConnectSQLite(""); err != nil {
		return err
	}
	if err := b.db.Setup(false); err != nil {
		return err
	}
	if err := b.restore(); err != nil {
		return err
	}
	b.SetDB(b.db.DB)
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.stopChan = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}
	return nil
}

// restore copies the rows of an existing dump into the fresh database.
func (b *Backend) restore() error {
	path := b.cfg.DumpPath
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if strings.Contains(path, "'") {
		return fmt.Errorf("invalid sqlite dump path %q", path)
	}

	db := b.db.DB
	if err := db.Exec("ATTACH DATABASE '" + path + "' AS snap;").Error; err != nil {
		return fmt.Errorf("failed to attach dump: %w", err)
	}
	defer db.Exec("DETACH DATABASE snap;")

	for _, t := range tables {
		if err := db.Exec("INSERT INTO main." + t + " SELECT * FROM snap." + t + ";").Error; err != nil {
			return fmt.Errorf("failed to restore %s: %w", t, err)
		}
	}
	b.log.Info("Restored SQLite dump", "path", path)
	return nil
}

// Close stops the dump goroutine, flushes, writes a final dump and closes
// the database.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	if b.cfg.DumpPath != "" && b.db.DB != nil {
		if err := b.db.DumpToDisk(b.cfg.DumpPath); err != nil {
			return err
		}
	}
	return b.db.Close()
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.db.DumpToDisk(b.cfg.DumpPath); err != nil {
				b.log.Error("Error dumping SQLite to disk", "error", err)
			} else {
				b.log.Debug("Dumped SQLite to disk", "duration", time.Since(start))
			}
		}
	}
}
