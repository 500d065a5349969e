// pkg/core/vehicle_profile.go
package core

// VehicleProfile holds per-vehicle playback settings.
type VehicleProfile struct {
	VehicleID    string
	Name         string
	SpeedLimit   float64 // km/h, 0 means use the configured default
	NextWaypoint *LatLng
}

// ETA is an arrival estimate for the next waypoint.
type ETA struct {
	VehicleID      string  `json:"vehicleId"`
	DistanceMeters float64 `json:"distanceMeters"`
	Seconds        int64   `json:"seconds"`
	Known          bool    `json:"known"`
}
