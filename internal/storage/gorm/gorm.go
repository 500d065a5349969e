// Package gormstorage implements the repository on GORM with queued sample
// and segment writes drained by a background writer. The sqlite and
// postgres backends wrap it.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetsync/playback/internal/model"
	"github.com/fleetsync/playback/internal/model/convert"
	"github.com/fleetsync/playback/internal/queue"
	"github.com/fleetsync/playback/pkg/core"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultFlushInterval is used when Config leaves it unset.
const DefaultFlushInterval = 2 * time.Second

// ErrNotInitialized is returned before a database is attached.
var ErrNotInitialized = errors.New("storage not initialized")

// sampleColumns leaves out the geometry, which reads never need.
var sampleColumns = []string{
	"vehicle_id", "timestamp", "latitude", "longitude", "speed", "status",
	"address", "satellite_count", "no_gps", "halted", "idling",
}

// Config tunes the writer.
type Config struct {
	FlushInterval time.Duration
}

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend implements the repository with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	cfg      Config
	samples  *queue.Queue[model.PositionSample]
	segments *queue.Queue[model.VideoSegment]

	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// New creates a backend. The DB may be attached later with SetDB.
func New(deps Dependencies, cfg Config) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps:     deps,
		cfg:      cfg,
		samples:  queue.New[model.PositionSample](),
		segments: queue.New[model.VideoSegment](),
	}
}

// SetDB attaches the database. It must be called before Init.
func (b *Backend) SetDB(db *gorm.DB) {
	b.deps.DB = db
}

// DB returns the attached database.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init starts the writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return ErrNotInitialized
	}
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// Close stops the writer and flushes what is left.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	close(b.stopChan)
	<-b.done
	b.stopChan = nil
	return b.Flush(context.Background())
}

func (b *Backend) writeLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				b.deps.Logger.Error("DB writer flush failed", "error", err)
			}
		}
	}
}

// Flush writes every queued row. A failed batch goes back to the head of
// its queue for the next attempt.
func (b *Backend) Flush(ctx context.Context) error {
	if b.deps.DB == nil {
		return ErrNotInitialized
	}
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	db := b.deps.DB.WithContext(ctx)
	sampleErr := writeQueue(db, b.samples, "position samples", clause.OnConflict{
		Columns:   []clause.Column{{Name: "vehicle_id"}, {Name: "timestamp"}},
		UpdateAll: true,
	})
	segmentErr := writeQueue(db, b.segments, "video segments", clause.OnConflict{DoNothing: true})
	return errors.Join(sampleErr, segmentErr)
}

// writeQueue writes all items from a queue in one transaction.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, conflict clause.OnConflict) error {
	items := q.Drain()
	if len(items) == 0 {
		return nil
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(conflict).Create(&items).Error
	})
	if err != nil {
		q.PushFront(items...)
		return fmt.Errorf("error writing %d %s: %w", len(items), name, err)
	}
	return nil
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	return b.samples.Len() + b.segments.Len()
}

// UpsertVehicle inserts or updates the vehicle synchronously, since
// profiles are low-volume and read right after selection.
func (b *Backend) UpsertVehicle(ctx context.Context, p core.VehicleProfile) error {
	if b.deps.DB == nil {
		return ErrNotInitialized
	}
	row := convert.ProfileToVehicle(p)
	err := b.deps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "settings", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert vehicle %s: %w", p.VehicleID, err)
	}
	return nil
}

// RecordSamples queues samples for the writer.
func (b *Backend) RecordSamples(_ context.Context, vehicleID string, samples []core.PositionSample) error {
	if len(samples) > 0 {
		b.samples.Push(convert.CoreToPositionSamples(vehicleID, samples)...)
	}
	return nil
}

// AddVideoSegments queues catalog entries for the writer.
func (b *Backend) AddVideoSegments(_ context.Context, vehicleID string, segments []core.VideoSegmentDescriptor) error {
	for _, seg := range segments {
		b.segments.Push(convert.CoreToVideoSegment(vehicleID, seg))
	}
	return nil
}

// FetchReplaySet returns the flushed samples within r in timestamp order.
func (b *Backend) FetchReplaySet(ctx context.Context, vehicleID string, r core.TimeRange) (*core.ReplaySet, error) {
	if b.deps.DB == nil {
		return nil, ErrNotInitialized
	}
	var rows []model.PositionSample
	err := b.deps.DB.WithContext(ctx).
		Model(&model.PositionSample{}).
		Select(sampleColumns).
		Where("vehicle_id = ? AND timestamp >= ? AND timestamp <= ?", vehicleID, r.From, r.To).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query samples for %s: %w", vehicleID, err)
	}
	return &core.ReplaySet{
		VehicleID: vehicleID,
		From:      r.From,
		To:        r.To,
		Samples:   convert.PositionSamplesToCore(rows),
	}, nil
}

// FetchVideoTimeline returns one timeline per camera, most recent first.
func (b *Backend) FetchVideoTimeline(ctx context.Context, vehicleID string, cameraIDs []int, r core.TimeRange) ([]core.VideoTimeline, error) {
	if b.deps.DB == nil {
		return nil, ErrNotInitialized
	}
	cr := core.CatalogRange(r)
	var rows []model.VideoSegment
	err := b.deps.DB.WithContext(ctx).
		Where("vehicle_id = ? AND camera_id IN ? AND timestamp >= ? AND timestamp <= ?", vehicleID, cameraIDs, cr.From, cr.To).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query video catalog for %s: %w", vehicleID, err)
	}

	out := make([]core.VideoTimeline, len(cameraIDs))
	index := make(map[int]int, len(cameraIDs))
	for i, cam := range cameraIDs {
		out[i] = core.VideoTimeline{VehicleID: vehicleID, CameraID: cam}
		index[cam] = i
	}
	for _, row := range rows {
		i := index[row.CameraID]
		out[i].Segments = append(out[i].Segments, convert.VideoSegmentToCore(row))
	}
	return out, nil
}

// FetchLatestPosition returns the newest flushed sample or nil.
func (b *Backend) FetchLatestPosition(ctx context.Context, vehicleID string) (*core.PositionSample, error) {
	if b.deps.DB == nil {
		return nil, ErrNotInitialized
	}
	var rows []model.PositionSample
	err := b.deps.DB.WithContext(ctx).
		Model(&model.PositionSample{}).
		Select(sampleColumns).
		Where("vehicle_id = ?", vehicleID).
		Order("timestamp DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query latest position for %s: %w", vehicleID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s := convert.PositionSampleToCore(rows[0])
	return &s, nil
}

// FetchVehicleProfile returns the vehicle's settings or nil.
func (b *Backend) FetchVehicleProfile(ctx context.Context, vehicleID string) (*core.VehicleProfile, error) {
	if b.deps.DB == nil {
		return nil, ErrNotInitialized
	}
	var rows []model.Vehicle
	err := b.deps.DB.WithContext(ctx).
		Where("external_id = ?", vehicleID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicle %s: %w", vehicleID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := convert.VehicleToProfile(rows[0])
	return &p, nil
}
