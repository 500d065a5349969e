package gormstorage

import (
	"context"
	"testing"
	"time"

	"github.com/fleetsync/playback/internal/database"
	"github.com/fleetsync/playback/internal/model"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBackend creates a Backend on a migrated in-memory SQLite DB. The
// flush interval is long so tests control when rows are written.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	m := database.NewManager(zerolog.Nop())
	require.NoError(t, m.ConnectSQLite(""))
	require.NoError(t, m.Setup(false))
	t.Cleanup(func() { _ = m.Close() })

	b := New(Dependencies{DB: m.DB}, Config{FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func speed(v float64) *float64 { return &v }

func TestInit_RequiresDB(t *testing.T) {
	b := New(Dependencies{}, Config{})
	assert.ErrorIs(t, b.Init(), ErrNotInitialized)
	assert.NoError(t, b.Close())

	_, err := b.FetchReplaySet(context.Background(), "v", core.TimeRange{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, b.Flush(context.Background()), ErrNotInitialized)
}

func TestRecordSamples_QueuedUntilFlush(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.RecordSamples(ctx, "truck-7", []core.PositionSample{
		{Timestamp: 20, Latitude: 12.91, Longitude: 77.51, Speed: speed(30)},
		{Timestamp: 10, Latitude: 12.9, Longitude: 77.5, Flags: core.SampleFlags{Halted: true}},
	}))
	assert.Equal(t, 2, b.Pending())

	set, err := b.FetchReplaySet(ctx, "truck-7", core.TimeRange{From: 0, To: 100})
	require.NoError(t, err)
	assert.Empty(t, set.Samples)

	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 0, b.Pending())

	set, err = b.FetchReplaySet(ctx, "truck-7", core.TimeRange{From: 0, To: 100})
	require.NoError(t, err)
	require.Len(t, set.Samples, 2)
	assert.Equal(t, int64(10), set.Samples[0].Timestamp)
	assert.True(t, set.Samples[0].Flags.Halted)
	assert.Equal(t, 12.9, set.Samples[0].Latitude)
	assert.Equal(t, 30.0, set.Samples[1].SpeedKmh())
	assert.Equal(t, core.Status(""), set.Samples[1].Status)
}

func TestRecordSamples_DuplicateTimestampReplaces(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	require.NoError(t, b.RecordSamples(ctx, "v", []core.PositionSample{{Timestamp: 10, Latitude: 1, Longitude: 1}}))
	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.RecordSamples(ctx, "v", []core.PositionSample{{Timestamp: 10, Latitude: 2, Longitude: 2}}))
	require.NoError(t, b.Flush(ctx))

	var count int64
	require.NoError(t, b.DB().Model(&model.PositionSample{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	p, err := b.FetchLatestPosition(ctx, "v")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2.0, p.Latitude)
}

func TestFetchReplaySet_Window(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	var samples []core.PositionSample
	for ts := int64(10); ts <= 50; ts += 10 {
		samples = append(samples, core.PositionSample{Timestamp: ts, Latitude: 1, Longitude: 1})
	}
	require.NoError(t, b.RecordSamples(ctx, "v", samples))
	require.NoError(t, b.RecordSamples(ctx, "other", samples))
	require.NoError(t, b.Flush(ctx))

	set, err := b.FetchReplaySet(ctx, "v", core.TimeRange{From: 20, To: 40})
	require.NoError(t, err)
	assert.Equal(t, "v", set.VehicleID)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, int64(20), set.First())
	assert.Equal(t, int64(40), set.Last())
}

func TestFetchVideoTimeline(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.AddVideoSegments(ctx, "v", []core.VideoSegmentDescriptor{
		{CameraID: core.CameraFront, Timestamp: 90, Link: "f90"},
		{CameraID: core.CameraFront, Timestamp: 120, Link: "f120"},
		{CameraID: core.CameraFront, Timestamp: 50, Link: "f50"},
		{CameraID: core.CameraCabin, Timestamp: 150, Link: "c150"},
	}))
	require.NoError(t, b.Flush(ctx))

	tls, err := b.FetchVideoTimeline(ctx, "v", []int{core.CameraFront, core.CameraCabin}, core.TimeRange{From: 100, To: 200})
	require.NoError(t, err)
	require.Len(t, tls, 2)

	require.Len(t, tls[0].Segments, 2)
	assert.Equal(t, "f120", tls[0].Segments[0].Link)
	assert.Equal(t, "f90", tls[0].Segments[1].Link)
	require.Len(t, tls[1].Segments, 1)
	assert.Equal(t, core.CameraCabin, tls[1].Segments[0].CameraID)

	tls, err = b.FetchVideoTimeline(ctx, "v", []int{core.CameraCabin}, core.TimeRange{From: 0, To: 10})
	require.NoError(t, err)
	assert.True(t, tls[0].Empty())
}

func TestVehicleProfile(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	p, err := b.FetchVehicleProfile(ctx, "truck-7")
	require.NoError(t, err)
	assert.Nil(t, p)

	wp := core.LatLng{Lat: 12.5, Lng: 77.25}
	require.NoError(t, b.UpsertVehicle(ctx, core.VehicleProfile{VehicleID: "truck-7", Name: "T7", SpeedLimit: 60}))
	require.NoError(t, b.UpsertVehicle(ctx, core.VehicleProfile{VehicleID: "truck-7", Name: "Truck 7", SpeedLimit: 45, NextWaypoint: &wp}))

	p, err = b.FetchVehicleProfile(ctx, "truck-7")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Truck 7", p.Name)
	assert.Equal(t, 45.0, p.SpeedLimit)
	require.NotNil(t, p.NextWaypoint)
	assert.Equal(t, wp, *p.NextWaypoint)

	var count int64
	require.NoError(t, b.DB().Model(&model.Vehicle{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestFetchLatestPosition_None(t *testing.T) {
	p, err := newTestBackend(t).FetchLatestPosition(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestClose_FlushesQueue(t *testing.T) {
	ctx := context.Background()
	m := database.NewManager(zerolog.Nop())
	require.NoError(t, m.ConnectSQLite(""))
	require.NoError(t, m.Setup(false))
	defer m.Close()

	b := New(Dependencies{DB: m.DB}, Config{FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	require.NoError(t, b.RecordSamples(ctx, "v", []core.PositionSample{{Timestamp: 1, Latitude: 1, Longitude: 1}}))
	require.NoError(t, b.Close())

	var count int64
	require.NoError(t, m.DB.Model(&model.PositionSample{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWriteLoop_FlushesOnTick(t *testing.T) {
	ctx := context.Background()
	m := database.NewManager(zerolog.Nop())
	require.NoError(t, m.ConnectSQLite(""))
	require.NoError(t, m.Setup(false))
	defer m.Close()

	b := New(Dependencies{DB: m.DB}, Config{FlushInterval: 10 * time.Millisecond})
	require.NoError(t, b.Init())
	defer b.Close()
	require.NoError(t, b.RecordSamples(ctx, "v", []core.PositionSample{{Timestamp: 1, Latitude: 1, Longitude: 1}}))

	assert.Eventually(t, func() bool { return b.Pending() == 0 }, time.Second, 10*time.Millisecond)
}

func TestFlush_FailureRequeues(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.DB().Migrator().DropTable(&model.PositionSample{}))

	require.NoError(t, b.RecordSamples(ctx, "v", []core.PositionSample{{Timestamp: 1}, {Timestamp: 2}}))
	assert.Error(t, b.Flush(ctx))
	assert.Equal(t, 2, b.Pending())

	require.NoError(t, b.DB().AutoMigrate(&model.PositionSample{}))
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 0, b.Pending())
}
