// internal/storage/memory/export.go
package memory

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetsync/playback/internal/parser"
	"github.com/fleetsync/playback/internal/util"
	"github.com/fleetsync/playback/pkg/core"
)

// now is swapped by tests.
var now = time.Now

// Snapshot builds a fleet document from the current store.
func (b *Backend) Snapshot() *parser.Fleet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	f := &parser.Fleet{ExportedAt: now().UTC()}
	for _, id := range b.sortedIDs() {
		rec := b.vehicles[id]
		var videos []core.VideoSegmentDescriptor
		for _, cam := range core.Cameras {
			videos = append(videos, rec.Videos[cam]...)
		}
		f.Vehicles = append(f.Vehicles, parser.RecordFromCore(rec.Profile, rec.Samples, videos))
	}
	return f
}

// Export writes the store as a fleet document.
func (b *Backend) Export(w io.Writer, compress bool) error {
	return parser.Encode(w, b.Snapshot(), compress)
}

// ExportFile writes the store into the configured output directory and
// returns the file path.
func (b *Backend) ExportFile() (string, error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := util.SafeFileName("fleet_" + now().UTC().Format("20060102_150405"))
	if b.cfg.Compress {
		name += ".json.gz"
	} else {
		name += ".json"
	}
	path := filepath.Join(b.cfg.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := b.Export(f, b.cfg.Compress); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}

	b.mu.Lock()
	b.lastExport = path
	b.mu.Unlock()
	return path, nil
}

// LastExport returns the path written by the most recent ExportFile, or ""
// if nothing was exported.
func (b *Backend) LastExport() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExport
}
