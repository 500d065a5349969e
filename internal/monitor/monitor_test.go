package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fleetsync/playback/internal/synchronizer"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInflux struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
}

func (f *fakeInflux) WritePoint(_ string, p *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
	return nil
}

func (f *fakeInflux) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func timelineStatus() (synchronizer.Status, error) {
	return synchronizer.Status{VehicleID: "truck-7", Mode: "TIMELINE", VirtualTime: 1700000000, Samples: 12, Index: 3}, nil
}

func TestCollect_WritesStatusFileAndPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	fi := &fakeInflux{}
	s := NewService(Dependencies{
		Snapshot:   timelineStatus,
		Pending:    func() int { return 4 },
		Influx:     fi,
		StatusPath: path,
	})

	r, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, 4, r.PendingWrites)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "truck-7", got.Playback.VehicleID)
	assert.Equal(t, 12, got.Playback.Samples)

	require.Equal(t, 1, fi.count())
	line := influxdb2_write.PointToLineProtocol(fi.points[0], time.Nanosecond)
	assert.Contains(t, line, "playbackd_status,")
	assert.Contains(t, line, "vehicle=truck-7")
	assert.Contains(t, line, "pending_writes=4i")

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, r, last)
}

func TestCollect_SnapshotError(t *testing.T) {
	s := NewService(Dependencies{Snapshot: func() (synchronizer.Status, error) {
		return synchronizer.Status{}, errors.New("loop closed")
	}})
	_, err := s.Collect()
	assert.ErrorContains(t, err, "loop closed")
	_, ok := s.Last()
	assert.False(t, ok)
}

func TestLogAttrs(t *testing.T) {
	s := NewService(Dependencies{Snapshot: func() (synchronizer.Status, error) {
		return synchronizer.Status{Mode: "STABLE"}, nil
	}})
	assert.Nil(t, s.LogAttrs())

	_, err := s.Collect()
	require.NoError(t, err)
	assert.Nil(t, s.LogAttrs(), "no vehicle selected")

	s.deps.Snapshot = timelineStatus
	_, err = s.Collect()
	require.NoError(t, err)
	attrs := s.LogAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "truck-7", attrs[0].Value.String())
	assert.Equal(t, "TIMELINE", attrs[1].Value.String())
}

func TestStartStop(t *testing.T) {
	fi := &fakeInflux{}
	s := NewService(Dependencies{Snapshot: timelineStatus, Influx: fi, Interval: 5 * time.Millisecond})

	s.Start()
	s.Start()
	assert.True(t, s.IsRunning())
	assert.Eventually(t, func() bool { return fi.count() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
	n := fi.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, fi.count())
}
