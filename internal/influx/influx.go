// Package influx records playback telemetry in InfluxDB, falling back to a
// gzipped line-protocol backup file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/pkg/core"
)

// Buckets.
const (
	BucketMarkers     = "playback_markers"
	BucketSessions    = "playback_sessions"
	BucketPerformance = "playbackd_performance"
)

// Buckets are created on connect when missing.
var Buckets = []string{BucketMarkers, BucketSessions, BucketPerformance}

const (
	retention    = 30 * 24 * time.Hour
	pingTimeout  = 5 * time.Second
	batchSize    = 2500
	flushEveryMs = 1000
)

var (
	// ErrDisabled is returned by Connect when InfluxDB is turned off.
	ErrDisabled = errors.New("influx is disabled")
	// ErrNoSink is returned by WritePoint before Connect found a destination.
	ErrNoSink = errors.New("influx not connected and no backup file open")
)

// Manager writes points to InfluxDB, or to the backup file while the
// server is unreachable.
type Manager struct {
	cfg    config.InfluxConfig
	logger zerolog.Logger

	client  influxdb2.Client
	writers map[string]influxdb2_api.WriteAPI
	online  bool
	backup  *backupFile
}

// NewManager creates an unconnected manager.
func NewManager(logger zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{cfg: cfg, logger: logger, writers: make(map[string]influxdb2_api.WriteAPI)}
}

// Online reports whether points go to the server rather than the backup.
func (m *Manager) Online() bool { return m.online }

// Connect pings the server and prepares the org and buckets. When the ping
// fails and a backup path is set, points are written there instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}
	m.client = influxdb2.NewClientWithOptions(m.cfg.URL(), m.cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(batchSize).SetFlushInterval(flushEveryMs))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	up, err := m.client.Ping(pingCtx)
	cancel()
	if err != nil || !up {
		if m.cfg.BackupPath == "" {
			return fmt.Errorf("influxDB at %s unreachable and no backup path set: %v", m.cfg.URL(), err)
		}
		m.logger.Info().Str("backupPath", m.cfg.BackupPath).Msg("InfluxDB unreachable, writing to backup file")
		m.backup, err = openBackup(m.cfg.BackupPath)
		return err
	}

	org, err := m.ensureOrg(ctx)
	if err != nil {
		return err
	}
	for _, b := range Buckets {
		if err := m.ensureBucket(ctx, org, b); err != nil {
			return err
		}
		m.watch(b, m.client.WriteAPI(m.cfg.Org, b))
	}
	m.online = true
	m.logger.Info().Str("url", m.cfg.URL()).Int("buckets", len(Buckets)).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) ensureOrg(ctx context.Context) (*domain.Organization, error) {
	orgs := m.client.OrganizationsAPI()
	if org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org); err == nil {
		return org, nil
	}
	m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
	org, err := orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
	if err != nil {
		return nil, fmt.Errorf("create org %s: %w", m.cfg.Org, err)
	}
	return org, nil
}

func (m *Manager) ensureBucket(ctx context.Context, org *domain.Organization, name string) error {
	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, name); err == nil {
		return nil
	}
	m.logger.Info().Str("bucket", name).Msg("Bucket not found, creating")
	expire := domain.RetentionRuleTypeExpire
	rule := domain.RetentionRule{Type: &expire, EverySeconds: int64(retention / time.Second)}
	if _, err := buckets.CreateBucketWithName(ctx, org, name, rule); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	return nil
}

// watch registers w for bucket and logs its async write errors.
func (m *Manager) watch(bucket string, w influxdb2_api.WriteAPI) {
	m.writers[bucket] = w
	go func() {
		for err := range w.Errors() {
			m.logger.Error().Err(err).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
		}
	}()
}

// WritePoint queues point for bucket. In backup mode the bucket is added
// as a tag so the file can be replayed later.
func (m *Manager) WritePoint(bucket string, point *influxdb2_write.Point) error {
	if m.online {
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("influxDB bucket %q not registered", bucket)
		}
		w.WritePoint(point)
		return nil
	}
	if m.backup == nil {
		return ErrNoSink
	}
	point.AddTag("bucket", bucket)
	return m.backup.write(influxdb2_write.PointToLineProtocol(point, time.Nanosecond))
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	for _, w := range m.writers {
		w.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}
	if m.backup == nil {
		return nil
	}
	err := m.backup.close()
	m.backup = nil
	return err
}

// backupFile is a gzip stream of line protocol, one point per line.
type backupFile struct {
	mu sync.Mutex
	f  *os.File
	gz *gzip.Writer
}

func openBackup(path string) (*backupFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open influx backup: %w", err)
	}
	return &backupFile{f: f, gz: gzip.NewWriter(f)}, nil
}

func (b *backupFile) write(line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.gz.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("write influx backup: %w", err)
	}
	return nil
}

func (b *backupFile) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.gz.Close(), b.f.Close())
}

// MarkerPoint builds the point for one marker move.
func MarkerPoint(vehicleID string, mode core.Mode, s core.PositionSample, at time.Time) *influxdb2_write.Point {
	p := influxdb2_write.NewPoint("marker",
		map[string]string{"vehicle": vehicleID, "mode": mode.String(), "status": string(s.Status)},
		map[string]any{"lat": s.Latitude, "lng": s.Longitude, "timestamp": s.Timestamp},
		at,
	)
	if s.Speed != nil {
		p.AddField("speed_kmh", *s.Speed)
	}
	return p
}

// TransitionPoint builds the point for a mode change.
func TransitionPoint(vehicleID string, from, to core.Mode, at time.Time) *influxdb2_write.Point {
	return influxdb2_write.NewPoint("mode_transition",
		map[string]string{"vehicle": vehicleID, "from": from.String(), "to": to.String()},
		map[string]any{"count": 1},
		at,
	)
}
