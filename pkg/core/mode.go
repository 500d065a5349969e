// pkg/core/mode.go
package core

import "fmt"

// Mode is the operating mode of a playback session.
type Mode int

const (
	ModeStable Mode = iota
	ModeLive
	ModeTimeline
)

func (m Mode) String() string {
	switch m {
	case ModeStable:
		return "STABLE"
	case ModeLive:
		return "LIVE"
	case ModeTimeline:
		return "TIMELINE"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// TimeRange is a closed playback window in epoch seconds.
type TimeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// MinutesToEpoch converts a slider value in minutes from the window start
// into epoch seconds, clamped to the window.
func (r TimeRange) MinutesToEpoch(minutes float64) int64 {
	ts := r.From + int64(minutes*60)
	if ts < r.From {
		return r.From
	}
	if ts > r.To {
		return r.To
	}
	return ts
}

// Contains reports whether ts lies inside the window.
func (r TimeRange) Contains(ts int64) bool {
	return ts >= r.From && ts <= r.To
}
