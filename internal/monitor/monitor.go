// Package monitor periodically snapshots playback status into a status
// file and InfluxDB, and keeps the last snapshot for log context.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsync/playback/internal/influx"
	"github.com/fleetsync/playback/internal/synchronizer"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// DefaultInterval is used when Dependencies leaves it unset.
const DefaultInterval = time.Second

// Report is one status file entry.
type Report struct {
	Time          time.Time           `json:"time"`
	Playback      synchronizer.Status `json:"playback"`
	PendingWrites int                 `json:"pendingWrites"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Snapshot reads the status, typically through the event loop.
	Snapshot   func() (synchronizer.Status, error)
	Pending    func() int // optional
	Influx     influx.PointWriter
	StatusPath string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	last      atomic.Pointer[Report]
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent report.
func (s *Service) Last() (Report, bool) {
	r := s.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// LogAttrs returns the session attributes of the last report. It is the
// logging context provider.
func (s *Service) LogAttrs() []slog.Attr {
	r, ok := s.Last()
	if !ok || r.Playback.VehicleID == "" {
		return nil
	}
	return []slog.Attr{
		slog.String("vehicle", r.Playback.VehicleID),
		slog.String("mode", r.Playback.Mode),
	}
}

// Collect takes one snapshot and publishes it.
func (s *Service) Collect() (Report, error) {
	st, err := s.deps.Snapshot()
	if err != nil {
		return Report{}, fmt.Errorf("status snapshot: %w", err)
	}
	r := Report{Time: time.Now().UTC(), Playback: st}
	if s.deps.Pending != nil {
		r.PendingWrites = s.deps.Pending()
	}
	s.last.Store(&r)

	if s.deps.StatusPath != "" {
		if err := writeStatusFile(s.deps.StatusPath, r); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(influx.BucketPerformance, statusPoint(r)); err != nil {
			s.deps.Logger.Warn("Error writing status point", "error", err)
		}
	}
	return r, nil
}

// writeStatusFile replaces the file through a rename so readers never see
// a partial report.
func writeStatusFile(path string, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func statusPoint(r Report) *influxdb2_write.Point {
	st := r.Playback
	tags := map[string]string{"mode": st.Mode}
	if st.VehicleID != "" {
		tags["vehicle"] = st.VehicleID
	}
	return influxdb2_write.NewPoint("playbackd_status", tags, map[string]any{
		"virtual_time":   st.VirtualTime,
		"clock_running":  st.ClockRunning,
		"samples":        st.Samples,
		"index":          st.Index,
		"trail_points":   st.TrailPoints,
		"finished":       st.Finished,
		"pending_writes": r.PendingWrites,
	}, r.Time)
}

// Start starts the status monitor goroutine
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if _, err := s.Collect(); err != nil {
					s.deps.Logger.Debug("status monitor skipped a tick", "error", err)
				}
			}
		}
	}()
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
