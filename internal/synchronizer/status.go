package synchronizer

import (
	"github.com/fleetsync/playback/pkg/core"
)

// Status is a point-in-time snapshot of playback.
type Status struct {
	VehicleID    string               `json:"vehicleId,omitempty"`
	Mode         string               `json:"mode"`
	VirtualTime  int64                `json:"virtualTime"`
	ClockRunning bool                 `json:"clockRunning"`
	Range        *core.TimeRange      `json:"range,omitempty"`
	Samples      int                  `json:"samples"`
	Index        int                  `json:"index"`
	Finished     bool                 `json:"finished"`
	Current      *core.PositionSample `json:"current,omitempty"`
	Video        map[int]string       `json:"video,omitempty"`
	ETA          *core.ETA            `json:"eta,omitempty"`
	TrailPoints  int                  `json:"trailPoints"`
	SpeedLimit   float64              `json:"speedLimit"`
}

// Status returns the current snapshot.
func (s *Synchronizer) Status() Status {
	st := Status{
		Mode:         s.mode.Mode().String(),
		VirtualTime:  s.clock.Now(),
		ClockRunning: s.clock.Running(),
		Index:        -1,
		TrailPoints:  len(s.animator.Points()),
		SpeedLimit:   s.animator.SpeedLimit(),
	}
	sess := s.session
	if sess == nil {
		return st
	}
	st.VehicleID = sess.VehicleID
	st.Finished = sess.Finished
	st.Index = sess.LastAnimatedIndex
	st.ETA = sess.ETA
	if sess.Current != nil {
		cur := *sess.Current
		st.Current = &cur
	}
	if sess.Replay != nil {
		r := sess.Range
		st.Range = &r
		st.Samples = sess.Replay.Len()
	}
	if len(s.videos) > 0 {
		st.Video = make(map[int]string, len(s.videos))
		for _, v := range s.videos {
			st.Video[v.Camera()] = v.State().String()
		}
	}
	return st
}
