package synchronizer

import (
	"context"

	"github.com/fleetsync/playback/internal/adapter/live"
	"github.com/fleetsync/playback/internal/adapter/video"
	"github.com/fleetsync/playback/internal/animator"
	"github.com/fleetsync/playback/pkg/core"
)

// Repository is the historical data source. Methods return nil or empty
// values when there is no data.
type Repository interface {
	FetchReplaySet(ctx context.Context, vehicleID string, r core.TimeRange) (*core.ReplaySet, error)
	FetchVideoTimeline(ctx context.Context, vehicleID string, cameraIDs []int, r core.TimeRange) ([]core.VideoTimeline, error)
	FetchLatestPosition(ctx context.Context, vehicleID string) (*core.PositionSample, error)
	FetchVehicleProfile(ctx context.Context, vehicleID string) (*core.VehicleProfile, error)
}

type (
	Feed         = live.Feed
	Surface      = animator.Surface
	LinkResolver = video.LinkResolver
	Player       = video.Player
)

// ETAService estimates arrival at the vehicle's next waypoint.
type ETAService interface {
	Estimate(ctx context.Context, profile core.VehicleProfile, at core.PositionSample) (core.ETA, error)
}

// NoticeKind classifies user-visible notices.
type NoticeKind string

const (
	NoticeNoData         NoticeKind = "no_data"
	NoticeFetchFailed    NoticeKind = "fetch_failed"
	NoticeLiveFailed     NoticeKind = "live_failed"
	NoticeReplayFinished NoticeKind = "replay_finished"
	NoticeNoVideo        NoticeKind = "no_video"
	NoticeVideoError     NoticeKind = "video_error"
)

// Notice is a message for the user. Camera is zero unless the notice is
// about video.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	VehicleID string     `json:"vehicleId"`
	Camera    int        `json:"camera,omitempty"`
	Message   string     `json:"message"`
}

// Notifier delivers notices.
type Notifier interface {
	Notify(n Notice)
}

// Observer receives playback telemetry.
type Observer interface {
	MarkerUpdated(vehicleID string, mode core.Mode, s core.PositionSample)
	ModeChanged(vehicleID string, from, to core.Mode)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

type nopObserver struct{}

func (nopObserver) MarkerUpdated(string, core.Mode, core.PositionSample) {}
func (nopObserver) ModeChanged(string, core.Mode, core.Mode)            {}
