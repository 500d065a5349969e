// Package animator draws one vehicle's marker and colored trail on a map
// surface. It knows nothing about where positions come from.
package animator

import (
	"time"

	"github.com/fleetsync/playback/internal/geo"
	"github.com/fleetsync/playback/pkg/core"
)

// FlagKind distinguishes trail end markers.
type FlagKind string

const (
	FlagStart FlagKind = "start"
	FlagEnd   FlagKind = "end"
)

// MarkerStyle is how the marker is rendered for the current sample.
type MarkerStyle struct {
	Status    core.Status `json:"status"`
	Mode      core.Mode   `json:"mode"`
	Timestamp int64       `json:"timestamp"`
	SpeedKmh  float64     `json:"speedKmh"`
	Overspeed bool        `json:"overspeed"`
}

// Surface is the map the animator draws on.
type Surface interface {
	DrawMarker(pos core.LatLng, style MarkerStyle)
	UpdateMarkerPosition(pos core.LatLng, style MarkerStyle, duration time.Duration)
	DrawPolylineSegment(from, to core.LatLng, color string)
	DrawFlag(pos core.LatLng, kind FlagKind)
	RemoveAllArtifacts()
	FitBoundsToPoints(sw, ne core.LatLng)
}

// Meta describes the sample behind a position.
type Meta struct {
	Status    core.Status
	Mode      core.Mode
	Timestamp int64
	Speed     *float64
}

// Segment is a run of trail points sharing one color.
type Segment struct {
	Color  string
	Points []core.LatLng
}

const overspeedColor = "#d32f2f"

var statusColors = map[core.Status]string{
	core.StatusRunning: "#2e7d32",
	core.StatusIdle:    "#f9a825",
	core.StatusHalt:    "#1565c0",
	core.StatusNoGPS:   "#6d4c41",
	core.StatusOffline: "#757575",
	core.StatusDefault: "#424242",
}

// ColorFor returns the trail color for a status and overspeed flag.
func ColorFor(status core.Status, overspeed bool) string {
	if overspeed {
		return overspeedColor
	}
	if c, ok := statusColors[status]; ok {
		return c
	}
	return statusColors[core.StatusDefault]
}

// Animator owns the marker and trail of one vehicle.
type Animator struct {
	surface    Surface
	speedLimit float64

	drawn     bool
	finished  bool
	last      core.LatLng
	status    core.Status
	overspeed bool
	segments  []Segment
}

// New creates an animator. Speeds above speedLimit km/h are overspeed;
// zero disables the check.
func New(surface Surface, speedLimit float64) *Animator {
	return &Animator{surface: surface, speedLimit: speedLimit}
}

// SetSpeedLimit replaces the overspeed threshold.
func (a *Animator) SetSpeedLimit(kmh float64) {
	a.speedLimit = kmh
}

// SpeedLimit returns the overspeed threshold in km/h.
func (a *Animator) SpeedLimit() float64 {
	return a.speedLimit
}

// UpdateMarker moves the marker to pos over duration and extends the trail.
// The first call draws the marker and a start flag.
func (a *Animator) UpdateMarker(pos core.LatLng, meta Meta, duration time.Duration) {
	speed := 0.0
	if meta.Speed != nil {
		speed = *meta.Speed
	}
	over := a.speedLimit > 0 && speed > a.speedLimit
	style := MarkerStyle{
		Status:    meta.Status,
		Mode:      meta.Mode,
		Timestamp: meta.Timestamp,
		SpeedKmh:  speed,
		Overspeed: over,
	}

	if !a.drawn {
		a.drawn = true
		a.finished = false
		a.surface.DrawMarker(pos, style)
		a.surface.DrawFlag(pos, FlagStart)
		a.startSegment(pos, meta.Status, over)
		a.last = pos
		return
	}

	if meta.Status != a.status || over != a.overspeed {
		a.startSegment(a.last, meta.Status, over)
	}
	seg := &a.segments[len(a.segments)-1]
	seg.Points = append(seg.Points, pos)
	a.surface.DrawPolylineSegment(a.last, pos, seg.Color)
	a.surface.UpdateMarkerPosition(pos, style, duration)
	a.last = pos
}

func (a *Animator) startSegment(from core.LatLng, status core.Status, over bool) {
	a.status = status
	a.overspeed = over
	a.segments = append(a.segments, Segment{
		Color:  ColorFor(status, over),
		Points: []core.LatLng{from},
	})
}

// Finish draws the end flag at the last position. Only the first call after
// a draw has effect.
func (a *Animator) Finish() {
	if !a.drawn || a.finished {
		return
	}
	a.finished = true
	a.surface.DrawFlag(a.last, FlagEnd)
}

// FitBounds fits the surface to pts, or to the drawn trail when pts is
// empty, and reports whether there was anything to fit.
func (a *Animator) FitBounds(pts []core.LatLng) bool {
	if len(pts) == 0 {
		pts = a.Points()
	}
	sw, ne, ok := geo.Bounds(pts)
	if !ok {
		return false
	}
	a.surface.FitBoundsToPoints(sw, ne)
	return true
}

// Remove clears every artifact and resets color state.
func (a *Animator) Remove() {
	a.surface.RemoveAllArtifacts()
	a.drawn = false
	a.finished = false
	a.last = core.LatLng{}
	a.status = ""
	a.overspeed = false
	a.segments = nil
}

// Drawn reports whether the marker is on the surface.
func (a *Animator) Drawn() bool {
	return a.drawn
}

// Last returns the marker position.
func (a *Animator) Last() (core.LatLng, bool) {
	return a.last, a.drawn
}

// Trail returns a copy of the trail segments.
func (a *Animator) Trail() []Segment {
	out := make([]Segment, len(a.segments))
	for i, s := range a.segments {
		out[i] = Segment{Color: s.Color, Points: append([]core.LatLng(nil), s.Points...)}
	}
	return out
}

// Points returns every distinct trail point in draw order.
func (a *Animator) Points() []core.LatLng {
	var out []core.LatLng
	for i, s := range a.segments {
		pts := s.Points
		// Later segments start at the previous segment's last point.
		if i > 0 && len(pts) > 0 {
			pts = pts[1:]
		}
		out = append(out, pts...)
	}
	return out
}
