package influx

import (
	"time"

	"github.com/fleetsync/playback/pkg/core"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
)

// PointWriter is the part of Manager the sink needs.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// Sink turns playback events into points. It satisfies the synchronizer's
// Observer and runs on the event loop, so writes must not block.
type Sink struct {
	w      PointWriter
	logger zerolog.Logger
	now    func() time.Time
}

// NewSink creates a sink writing through w.
func NewSink(w PointWriter, logger zerolog.Logger) *Sink {
	return &Sink{w: w, logger: logger, now: time.Now}
}

func (s *Sink) MarkerUpdated(vehicleID string, mode core.Mode, smp core.PositionSample) {
	if err := s.w.WritePoint(BucketMarkers, MarkerPoint(vehicleID, mode, smp, s.now())); err != nil {
		s.logger.Warn().Err(err).Str("vehicle", vehicleID).Msg("marker point dropped")
	}
}

func (s *Sink) ModeChanged(vehicleID string, from, to core.Mode) {
	if err := s.w.WritePoint(BucketSessions, TransitionPoint(vehicleID, from, to, s.now())); err != nil {
		s.logger.Warn().Err(err).Str("vehicle", vehicleID).Msg("transition point dropped")
	}
}
