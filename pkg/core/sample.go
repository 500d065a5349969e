// pkg/core/sample.go
package core

import (
	"errors"
	"math"
)

// Status is the behavioral state of a vehicle at one sample.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusIdle    Status = "IDLE"
	StatusHalt    Status = "HALT"
	StatusNoGPS   Status = "NOGPS"
	StatusOffline Status = "OFFLINE"
	StatusDefault Status = "DEFAULT"
)

// ErrNoData is returned when a data set is too thin to play back.
var ErrNoData = errors.New("no data for this duration")

// ErrUnordered is returned when replay samples are not in timestamp order.
var ErrUnordered = errors.New("replay samples out of order")

// MinReplaySamples is the smallest replay set that can be played.
const MinReplaySamples = 2

// SampleFlags are the raw upstream flags a status is derived from.
type SampleFlags struct {
	NoGPS  bool `json:"isNoGps"`
	Halted bool `json:"haltStatus"`
	Idling bool `json:"idlingStatus"`
}

// PositionSample is one GPS fix for a vehicle.
// Timestamp is epoch seconds and is the ordering key.
type PositionSample struct {
	Timestamp      int64       `json:"timestamp"`
	Latitude       float64     `json:"latitude"`
	Longitude      float64     `json:"longitude"`
	Speed          *float64    `json:"speed,omitempty"` // km/h
	Status         Status      `json:"status"`
	Address        *string     `json:"address,omitempty"`
	SatelliteCount *int        `json:"satelliteCount,omitempty"`
	Flags          SampleFlags `json:"flags"`
}

// Position returns the sample's coordinate.
func (s PositionSample) Position() LatLng {
	return LatLng{Lat: s.Latitude, Lng: s.Longitude}
}

// SpeedKmh returns the speed or 0 when unknown.
func (s PositionSample) SpeedKmh() float64 {
	if s.Speed == nil {
		return 0
	}
	return *s.Speed
}

// LatLng is a WGS84 coordinate in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RoundCoord rounds a coordinate to the 6-decimal precision contract.
func RoundCoord(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Normalize applies the coordinate precision contract in place.
func (s *PositionSample) Normalize() {
	s.Latitude = RoundCoord(s.Latitude)
	s.Longitude = RoundCoord(s.Longitude)
}

// ReplaySet is an ordered batch of historical samples for one vehicle and one window.
type ReplaySet struct {
	VehicleID string
	From      int64
	To        int64
	Samples   []PositionSample
}

// Len returns the number of samples.
func (r *ReplaySet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Samples)
}

// Validate rejects sets that cannot be played back.
func (r *ReplaySet) Validate() error {
	if r.Len() < MinReplaySamples {
		return ErrNoData
	}
	for i := 1; i < len(r.Samples); i++ {
		if r.Samples[i].Timestamp < r.Samples[i-1].Timestamp {
			return ErrUnordered
		}
	}
	return nil
}

// First returns the first sample timestamp.
func (r *ReplaySet) First() int64 {
	return r.Samples[0].Timestamp
}

// Last returns the last sample timestamp.
func (r *ReplaySet) Last() int64 {
	return r.Samples[len(r.Samples)-1].Timestamp
}
