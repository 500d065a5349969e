package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Vehicle{},
	&PositionSample{},
	&VideoSegment{},
}

// Vehicle settings keys.
const (
	SettingSpeedLimit   = "speedLimitKmh"
	SettingNextWaypoint = "nextWaypoint" // "lat,lng"
)

// Point3857 is a web mercator point stored as WKB. Both dialects hold the
// same bytes, so geom's Scan decodes either.
type Point3857 struct {
	geom.Point
}

// GormDBDataType picks the binary column type per dialect.
func (Point3857) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "bytea"
	}
	return "blob"
}

////////////////////////
// FLEET MODELS
////////////////////////

// Vehicle is a tracked fleet vehicle. Settings carries per-vehicle playback
// overrides such as the overspeed limit.
type Vehicle struct {
	ID         uint              `json:"id" gorm:"primarykey;autoIncrement;"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	ExternalID string            `json:"vehicleId" gorm:"size:64;uniqueIndex:idx_vehicle_external_id"`
	Name       string            `json:"name" gorm:"size:128"`
	Settings   datatypes.JSONMap `json:"settings"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

// PositionSample is one stored GPS fix. Latitude/Longitude are the query
// columns; Position mirrors them in EPSG:3857 for spatial consumers.
type PositionSample struct {
	ID             uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	VehicleID      string    `json:"vehicleId" gorm:"size:64;uniqueIndex:idx_position_vehicle_time,priority:1"`
	Timestamp      int64     `json:"timestamp" gorm:"uniqueIndex:idx_position_vehicle_time,priority:2"` // epoch seconds
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Position       Point3857 `json:"-"`
	Speed          *float64  `json:"speed"`                         // km/h
	Status         string    `json:"status" gorm:"size:16"`         // empty means derive on read
	Address        *string   `json:"address" gorm:"size:255"`       // reverse-geocoded, optional
	SatelliteCount *int      `json:"satelliteCount"`                // optional
	NoGPS          bool      `json:"isNoGps"`
	Halted         bool      `json:"haltStatus"`
	Idling         bool      `json:"idlingStatus"`
}

func (*PositionSample) TableName() string {
	return "position_samples"
}

// VideoSegment is one recorded dashcam segment in the camera catalog.
type VideoSegment struct {
	ID        uint   `json:"id" gorm:"primarykey;autoIncrement;"`
	VehicleID string `json:"vehicleId" gorm:"size:64;index:idx_video_vehicle_camera_time,priority:1"`
	CameraID  int    `json:"cameraId" gorm:"index:idx_video_vehicle_camera_time,priority:2"`
	Timestamp int64  `json:"timestamp" gorm:"index:idx_video_vehicle_camera_time,priority:3"` // segment start, epoch seconds
	Link      string `json:"link" gorm:"size:512"`                                            // opaque, resolved lazily
}

func (*VideoSegment) TableName() string {
	return "video_segments"
}
