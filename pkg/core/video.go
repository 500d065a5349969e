// pkg/core/video.go
package core

import "sort"

// Camera identifiers.
const (
	CameraFront = 1
	CameraCabin = 2
)

// Cameras lists every camera a vehicle can carry.
var Cameras = []int{CameraFront, CameraCabin}

// VideoSegmentDescriptor is one recorded segment in the camera catalog.
// Link is opaque and resolved lazily.
type VideoSegmentDescriptor struct {
	CameraID  int    `json:"cameraId"`
	Timestamp int64  `json:"timestamp"`
	Link      string `json:"link"`
}

// VideoTimeline is the segment catalog for one vehicle and camera.
type VideoTimeline struct {
	VehicleID string
	CameraID  int
	Segments  []VideoSegmentDescriptor
}

// Empty reports whether the catalog has no segments.
func (t *VideoTimeline) Empty() bool {
	return t == nil || len(t.Segments) == 0
}

// Ascending returns the segments sorted by start timestamp.
// The catalog arrives most recent first.
func (t *VideoTimeline) Ascending() []VideoSegmentDescriptor {
	if t.Empty() {
		return nil
	}
	out := make([]VideoSegmentDescriptor, len(t.Segments))
	copy(out, t.Segments)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// CatalogSlack widens a catalog query before the window start so a segment
// that began just before it can still be matched.
const CatalogSlack = int64(20)

// CatalogRange returns the segment start range to query for r.
func CatalogRange(r TimeRange) TimeRange {
	return TimeRange{From: r.From - CatalogSlack, To: r.To}
}
