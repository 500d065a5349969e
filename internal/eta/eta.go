// Package eta estimates arrival at a vehicle's next waypoint from its
// latest fix.
package eta

import (
	"context"
	"errors"
	"math"

	"github.com/golang/geo/s2"

	"github.com/fleetsync/playback/pkg/core"
)

// EarthRadiusMeters is the mean earth radius used for great-circle distance.
const EarthRadiusMeters = 6371008.8

// Defaults for Config.
const (
	DefaultCruiseKmh     = 40.0
	DefaultMinSpeedKmh   = 5.0
	DefaultArrivalMeters = 50.0
)

// ErrNoWaypoint is returned when the profile has no next waypoint.
var ErrNoWaypoint = errors.New("vehicle has no next waypoint")

// Config tunes the estimator.
type Config struct {
	// CruiseKmh is used when the fix has no usable speed.
	CruiseKmh float64
	// MinSpeedKmh is the slowest reported speed trusted for an estimate.
	MinSpeedKmh float64
	// ArrivalMeters is the radius inside which the vehicle has arrived.
	ArrivalMeters float64
}

func (c Config) withDefaults() Config {
	if c.CruiseKmh <= 0 {
		c.CruiseKmh = DefaultCruiseKmh
	}
	if c.MinSpeedKmh <= 0 {
		c.MinSpeedKmh = DefaultMinSpeedKmh
	}
	if c.ArrivalMeters <= 0 {
		c.ArrivalMeters = DefaultArrivalMeters
	}
	return c
}

// Estimator computes straight-line ETAs.
type Estimator struct {
	cfg Config
}

// New creates an estimator.
func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg.withDefaults()}
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b core.LatLng) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Estimate returns the distance and travel time from at to the profile's
// next waypoint. Halted or slow vehicles are estimated at cruise speed.
func (e *Estimator) Estimate(ctx context.Context, profile core.VehicleProfile, at core.PositionSample) (core.ETA, error) {
	if err := ctx.Err(); err != nil {
		return core.ETA{}, err
	}
	if profile.NextWaypoint == nil {
		return core.ETA{VehicleID: profile.VehicleID}, ErrNoWaypoint
	}

	dist := Distance(at.Position(), *profile.NextWaypoint)
	out := core.ETA{VehicleID: profile.VehicleID, DistanceMeters: math.Round(dist), Known: true}
	if dist <= e.cfg.ArrivalMeters {
		out.Seconds = 0
		return out, nil
	}

	kmh := e.cfg.CruiseKmh
	if at.Speed != nil && *at.Speed >= e.cfg.MinSpeedKmh {
		kmh = *at.Speed
	}
	out.Seconds = int64(math.Ceil(dist / (kmh / 3.6)))
	return out, nil
}
