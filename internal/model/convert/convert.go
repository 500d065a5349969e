// Package convert maps between GORM rows and core playback types.
package convert

import (
	"math"

	"github.com/fleetsync/playback/internal/geo"
	"github.com/fleetsync/playback/internal/model"
	"github.com/fleetsync/playback/pkg/core"
)

// PositionSampleToCore converts a stored row. An empty stored status is left
// for the adapters to derive. When the scalar columns are missing the
// position is recovered from the geometry.
func PositionSampleToCore(p model.PositionSample) core.PositionSample {
	s := core.PositionSample{
		Timestamp:      p.Timestamp,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Speed:          p.Speed,
		Status:         core.Status(p.Status),
		Address:        p.Address,
		SatelliteCount: p.SatelliteCount,
		Flags: core.SampleFlags{
			NoGPS:  p.NoGPS,
			Halted: p.Halted,
			Idling: p.Idling,
		},
	}
	if s.Latitude == 0 && s.Longitude == 0 {
		if ll, ok := geo.LatLngFromPoint3857(p.Position.Point); ok {
			s.Latitude, s.Longitude = ll.Lat, ll.Lng
		}
	}
	s.Normalize()
	return s
}

// PositionSamplesToCore converts rows in order.
func PositionSamplesToCore(rows []model.PositionSample) []core.PositionSample {
	out := make([]core.PositionSample, len(rows))
	for i, r := range rows {
		out[i] = PositionSampleToCore(r)
	}
	return out
}

// VideoSegmentToCore converts a catalog row.
func VideoSegmentToCore(v model.VideoSegment) core.VideoSegmentDescriptor {
	return core.VideoSegmentDescriptor{
		CameraID:  v.CameraID,
		Timestamp: v.Timestamp,
		Link:      v.Link,
	}
}

// VehicleToProfile reads playback settings from the vehicle's JSON
// settings. Unparseable values fall back to the defaults.
func VehicleToProfile(v model.Vehicle) core.VehicleProfile {
	p := core.VehicleProfile{VehicleID: v.ExternalID, Name: v.Name}
	if v.Settings == nil {
		return p
	}
	if limit, ok := toFloat(v.Settings[model.SettingSpeedLimit]); ok && limit > 0 {
		p.SpeedLimit = limit
	}
	if raw, ok := v.Settings[model.SettingNextWaypoint].(string); ok {
		if ll, err := geo.LatLngFromString(raw); err == nil {
			p.NextWaypoint = &ll
		}
	}
	return p
}

// JSON numbers decode as float64, but settings written in-process keep
// their Go type.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
