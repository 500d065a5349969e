// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/pkg/core"
)

// VehicleRecord groups a vehicle with all its time-series data
type VehicleRecord struct {
	Profile core.VehicleProfile
	Samples []core.PositionSample                 // ascending by timestamp
	Videos  map[int][]core.VideoSegmentDescriptor // per camera, ascending
}

// Backend keeps fleet data in memory and can export it as a fleet document.
type Backend struct {
	cfg      config.MemoryConfig
	vehicles map[string]*VehicleRecord
	mu       sync.RWMutex

	lastExport string // guarded by mu
}

// New creates an empty memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		vehicles: make(map[string]*VehicleRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the store when an output directory is configured.
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	_, err := b.ExportFile()
	return err
}

// record returns the vehicle's record, creating it. Caller holds mu.
func (b *Backend) record(vehicleID string) *VehicleRecord {
	rec, ok := b.vehicles[vehicleID]
	if !ok {
		rec = &VehicleRecord{
			Profile: core.VehicleProfile{VehicleID: vehicleID},
			Videos:  make(map[int][]core.VideoSegmentDescriptor),
		}
		b.vehicles[vehicleID] = rec
	}
	return rec
}

// UpsertVehicle stores the vehicle's profile.
func (b *Backend) UpsertVehicle(_ context.Context, p core.VehicleProfile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(p.VehicleID).Profile = p
	return nil
}

// RecordSamples merges samples in timestamp order. A sample with an
// already stored timestamp replaces it.
func (b *Backend) RecordSamples(_ context.Context, vehicleID string, samples []core.PositionSample) error {
	if len(samples) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record(vehicleID)
	for _, s := range samples {
		s.Normalize()
		i := sort.Search(len(rec.Samples), func(i int) bool { return rec.Samples[i].Timestamp >= s.Timestamp })
		if i < len(rec.Samples) && rec.Samples[i].Timestamp == s.Timestamp {
			rec.Samples[i] = s
			continue
		}
		rec.Samples = append(rec.Samples, core.PositionSample{})
		copy(rec.Samples[i+1:], rec.Samples[i:])
		rec.Samples[i] = s
	}
	return nil
}

// AddVideoSegments appends to each camera's catalog.
func (b *Backend) AddVideoSegments(_ context.Context, vehicleID string, segments []core.VideoSegmentDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record(vehicleID)
	for _, seg := range segments {
		cat := append(rec.Videos[seg.CameraID], seg)
		sort.SliceStable(cat, func(i, j int) bool { return cat[i].Timestamp < cat[j].Timestamp })
		rec.Videos[seg.CameraID] = cat
	}
	return nil
}

// FetchReplaySet returns the samples within r. The set is empty, not nil,
// when the vehicle has no data there.
func (b *Backend) FetchReplaySet(ctx context.Context, vehicleID string, r core.TimeRange) (*core.ReplaySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	set := &core.ReplaySet{VehicleID: vehicleID, From: r.From, To: r.To}
	rec, ok := b.vehicles[vehicleID]
	if !ok {
		return set, nil
	}
	lo := sort.Search(len(rec.Samples), func(i int) bool { return rec.Samples[i].Timestamp >= r.From })
	hi := sort.Search(len(rec.Samples), func(i int) bool { return rec.Samples[i].Timestamp > r.To })
	if lo < hi {
		set.Samples = append([]core.PositionSample(nil), rec.Samples[lo:hi]...)
	}
	return set, nil
}

// FetchVideoTimeline returns one timeline per requested camera, most recent
// segment first.
func (b *Backend) FetchVideoTimeline(ctx context.Context, vehicleID string, cameraIDs []int, r core.TimeRange) ([]core.VideoTimeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec := b.vehicles[vehicleID]
	cr := core.CatalogRange(r)
	out := make([]core.VideoTimeline, 0, len(cameraIDs))
	for _, cam := range cameraIDs {
		tl := core.VideoTimeline{VehicleID: vehicleID, CameraID: cam}
		if rec != nil {
			cat := rec.Videos[cam]
			for i := len(cat) - 1; i >= 0; i-- {
				if cr.Contains(cat[i].Timestamp) {
					tl.Segments = append(tl.Segments, cat[i])
				}
			}
		}
		out = append(out, tl)
	}
	return out, nil
}

// FetchLatestPosition returns the newest sample or nil.
func (b *Backend) FetchLatestPosition(ctx context.Context, vehicleID string) (*core.PositionSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.vehicles[vehicleID]
	if !ok || len(rec.Samples) == 0 {
		return nil, nil
	}
	s := rec.Samples[len(rec.Samples)-1]
	return &s, nil
}

// FetchVehicleProfile returns the stored profile or nil.
func (b *Backend) FetchVehicleProfile(ctx context.Context, vehicleID string) (*core.VehicleProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.vehicles[vehicleID]
	if !ok {
		return nil, nil
	}
	p := rec.Profile
	return &p, nil
}

// VehicleIDs lists the stored vehicles in order.
func (b *Backend) VehicleIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedIDs()
}

func (b *Backend) sortedIDs() []string {
	ids := make([]string, 0, len(b.vehicles))
	for id := range b.vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
