// Package replay resolves historical samples against virtual time.
package replay

import (
	"time"

	"github.com/fleetsync/playback/pkg/core"
)

// NearestAtOrBefore returns the index of the last sample whose timestamp is
// at or before vt. It returns 0 when vt precedes all data.
func NearestAtOrBefore(set *core.ReplaySet, vt int64) int {
	idx := 0
	for i, s := range set.Samples {
		if s.Timestamp > vt {
			break
		}
		idx = i
	}
	return idx
}

// ExactOrCurrent looks for a sample whose timestamp equals vt. Forward
// scrubs scan from current onward; backward scrubs (fromStart) scan from
// index 0. Without an exact match current is returned unchanged, which can
// leave a stale position on screen for a few seconds of scrubbing.
func ExactOrCurrent(set *core.ReplaySet, vt int64, current int, fromStart bool) int {
	start := current
	if fromStart || start < 0 {
		start = 0
	}
	for i := start; i < set.Len(); i++ {
		if set.Samples[i].Timestamp == vt {
			return i
		}
	}
	return current
}

// Interpolate returns a position linearly interpolated between the two
// samples bracketing vt. It reports false when vt lies outside the set.
func Interpolate(set *core.ReplaySet, vt int64) (core.PositionSample, bool) {
	n := set.Len()
	if n == 0 || vt < set.Samples[0].Timestamp || vt > set.Samples[n-1].Timestamp {
		return core.PositionSample{}, false
	}
	i := NearestAtOrBefore(set, vt)
	cur := set.Samples[i]
	if cur.Timestamp == vt || i == n-1 {
		return cur, true
	}
	next := set.Samples[i+1]
	span := next.Timestamp - cur.Timestamp
	if span <= 0 {
		return cur, true
	}
	dt := float64(vt-cur.Timestamp) / float64(span)
	out := cur
	out.Timestamp = vt
	out.Latitude = core.RoundCoord(cur.Latitude + dt*(next.Latitude-cur.Latitude))
	out.Longitude = core.RoundCoord(cur.Longitude + dt*(next.Longitude-cur.Longitude))
	if cur.Speed != nil && next.Speed != nil {
		speed := *cur.Speed + dt*(*next.Speed-*cur.Speed)
		out.Speed = &speed
	}
	return out, true
}

// Pacer computes the marker animation interval between consecutive
// displayed samples.
type Pacer struct {
	packetWindow   time.Duration
	driftThreshold time.Duration
	prev           int64
	hasPrev        bool
}

// NewPacer creates a pacer with no previous timestamp.
func NewPacer(packetWindow, driftThreshold time.Duration) *Pacer {
	return &Pacer{packetWindow: packetWindow, driftThreshold: driftThreshold}
}

// Interval returns how long the marker should take to reach the sample at
// ts and records ts as the previous timestamp. The first sample uses the
// packet window. A gap beyond the drift threshold resyncs the tracker and
// uses the packet window instead of an animation backlog.
func (p *Pacer) Interval(ts int64) time.Duration {
	if !p.hasPrev {
		p.prev, p.hasPrev = ts, true
		return p.packetWindow
	}
	gap := ts - p.prev
	p.prev = ts
	if gap < 0 {
		gap = 0
	}
	d := time.Duration(gap) * time.Second
	if p.driftThreshold > 0 && d > p.driftThreshold {
		return p.packetWindow
	}
	return d
}

// Reset forgets the previous timestamp.
func (p *Pacer) Reset() {
	p.prev, p.hasPrev = 0, false
}

// Previous returns the tracked timestamp and whether one is set.
func (p *Pacer) Previous() (int64, bool) {
	return p.prev, p.hasPrev
}
