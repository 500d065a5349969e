package convert

import (
	"fmt"

	"github.com/fleetsync/playback/internal/geo"
	"github.com/fleetsync/playback/internal/model"
	"github.com/fleetsync/playback/pkg/core"
	"gorm.io/datatypes"
)

// CoreToPositionSample converts a sample for storage. Coordinates are
// rounded to the sample precision and mirrored into the 3857 geometry.
func CoreToPositionSample(vehicleID string, s core.PositionSample) model.PositionSample {
	s.Normalize()
	return model.PositionSample{
		VehicleID:      vehicleID,
		Timestamp:      s.Timestamp,
		Latitude:       s.Latitude,
		Longitude:      s.Longitude,
		Position:       model.Point3857{Point: geo.Point3857(s.Position())},
		Speed:          s.Speed,
		Status:         string(s.Status),
		Address:        s.Address,
		SatelliteCount: s.SatelliteCount,
		NoGPS:          s.Flags.NoGPS,
		Halted:         s.Flags.Halted,
		Idling:         s.Flags.Idling,
	}
}

// CoreToPositionSamples converts a batch for one vehicle.
func CoreToPositionSamples(vehicleID string, samples []core.PositionSample) []model.PositionSample {
	out := make([]model.PositionSample, len(samples))
	for i, s := range samples {
		out[i] = CoreToPositionSample(vehicleID, s)
	}
	return out
}

// CoreToVideoSegment converts a catalog entry.
func CoreToVideoSegment(vehicleID string, d core.VideoSegmentDescriptor) model.VideoSegment {
	return model.VideoSegment{
		VehicleID: vehicleID,
		CameraID:  d.CameraID,
		Timestamp: d.Timestamp,
		Link:      d.Link,
	}
}

// ProfileToVehicle builds the vehicle row. Zero settings are omitted so a
// stored default is never confused with an explicit override.
func ProfileToVehicle(p core.VehicleProfile) model.Vehicle {
	settings := datatypes.JSONMap{}
	if p.SpeedLimit > 0 {
		settings[model.SettingSpeedLimit] = p.SpeedLimit
	}
	if p.NextWaypoint != nil {
		settings[model.SettingNextWaypoint] = fmt.Sprintf("%.6f,%.6f", p.NextWaypoint.Lat, p.NextWaypoint.Lng)
	}
	return model.Vehicle{
		ExternalID: p.VehicleID,
		Name:       p.Name,
		Settings:   settings,
	}
}
