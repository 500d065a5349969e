// Package storage holds the historical data behind playback: position
// samples, the dashcam segment catalog and per-vehicle settings.
package storage

import (
	"context"

	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/pkg/core"
)

// Writer ingests fleet data.
type Writer interface {
	UpsertVehicle(ctx context.Context, p core.VehicleProfile) error
	RecordSamples(ctx context.Context, vehicleID string, samples []core.PositionSample) error
	AddVideoSegments(ctx context.Context, vehicleID string, segments []core.VideoSegmentDescriptor) error
}

// Backend is the interface all storage implementations must satisfy.
type Backend interface {
	Init() error
	Close() error

	synchronizer.Repository
	Writer
}

// Flusher is implemented by backends that batch writes.
type Flusher interface {
	Flush(ctx context.Context) error
}
