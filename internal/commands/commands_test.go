package commands

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fleetsync/playback/internal/dispatcher"
	"github.com/fleetsync/playback/internal/eventloop"
	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// fakeEngine records calls. The mutex only guards reads from the test
// goroutine; writes happen on the loop.
type fakeEngine struct {
	mu       sync.Mutex
	calls    []string
	vehicle  string
	rng      core.TimeRange
	minutes  float64
	progress []float64
	ended    []int
	err      error
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) SelectVehicle(_ context.Context, id string) error {
	f.record(Select)
	f.mu.Lock()
	f.vehicle = id
	f.mu.Unlock()
	return f.err
}

func (f *fakeEngine) Deselect() { f.record(Deselect) }

func (f *fakeEngine) GoLive(context.Context) error {
	f.record(GoLive)
	return f.err
}

func (f *fakeEngine) EnterTimeline(_ context.Context, r core.TimeRange) error {
	f.record(EnterTimeline)
	f.mu.Lock()
	f.rng = r
	f.mu.Unlock()
	return f.err
}

func (f *fakeEngine) BeginScrub() error {
	f.record(BeginScrub)
	return f.err
}

func (f *fakeEngine) CommitScrub(_ context.Context, minutes float64) error {
	f.record(CommitScrub)
	f.mu.Lock()
	f.minutes = minutes
	f.mu.Unlock()
	return f.err
}

func (f *fakeEngine) VideoProgress(camera int, fraction float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, fraction)
}

func (f *fakeEngine) VideoEnded(camera int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, camera)
}

func (f *fakeEngine) Status() synchronizer.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return synchronizer.Status{VehicleID: f.vehicle, Mode: core.ModeStable.String(), Index: -1}
}

func newHarness(t *testing.T) (*dispatcher.Dispatcher, *fakeEngine) {
	t.Helper()
	loop, err := eventloop.New(64, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)

	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)

	engine := &fakeEngine{}
	NewManager(engine).RegisterHandlers(d, loop)
	return d, engine
}

func dispatch(t *testing.T, d *dispatcher.Dispatcher, cmd string, payload string) (any, error) {
	t.Helper()
	e := dispatcher.Event{Command: cmd}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	return d.Dispatch(context.Background(), e)
}

func TestRegisterHandlers_AllCommands(t *testing.T) {
	d, _ := newHarness(t)
	assert.ElementsMatch(t, []string{
		Select, Deselect, GoLive, EnterTimeline, BeginScrub,
		CommitScrub, Status, VideoProgress, VideoEnded,
	}, d.Commands())
}

func TestSelect(t *testing.T) {
	d, engine := newHarness(t)

	result, err := dispatch(t, d, Select, `{"vehicleId":"truck-7"}`)
	require.NoError(t, err)

	status, ok := result.(synchronizer.Status)
	require.True(t, ok)
	assert.Equal(t, "truck-7", status.VehicleID)
	assert.Equal(t, "truck-7", engine.vehicle)
}

func TestSelect_RequiresVehicle(t *testing.T) {
	d, engine := newHarness(t)

	_, err := dispatch(t, d, Select, `{}`)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, engine.calls)
}

func TestEnterTimeline(t *testing.T) {
	d, engine := newHarness(t)

	_, err := dispatch(t, d, EnterTimeline, `{"from":1700000000,"to":1700003600}`)
	require.NoError(t, err)
	assert.Equal(t, core.TimeRange{From: 1_700_000_000, To: 1_700_003_600}, engine.rng)
}

func TestEnterTimeline_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing to":    `{"from":1700000000}`,
		"inverted":      `{"from":1700003600,"to":1700000000}`,
		"empty window":  `{"from":1700000000,"to":1700000000}`,
		"not json":      `{"from":`,
		"wrong type":    `{"from":"yesterday","to":1700000000}`,
		"negative from": `{"from":-5,"to":1700000000}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			d, engine := newHarness(t)
			_, err := dispatch(t, d, EnterTimeline, payload)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Empty(t, engine.calls)
		})
	}
}

func TestCommitScrub(t *testing.T) {
	d, engine := newHarness(t)

	_, err := dispatch(t, d, CommitScrub, `{"minutes":4.5}`)
	require.NoError(t, err)
	assert.Equal(t, 4.5, engine.minutes)

	_, err = dispatch(t, d, CommitScrub, `{"minutes":-1}`)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEngineErrorsPropagate(t *testing.T) {
	d, engine := newHarness(t)
	engine.err = synchronizer.ErrNoVehicle

	for _, cmd := range []string{GoLive, BeginScrub} {
		_, err := dispatch(t, d, cmd, "")
		assert.ErrorIs(t, err, synchronizer.ErrNoVehicle, cmd)
	}
}

func TestDeselectAndStatus(t *testing.T) {
	d, engine := newHarness(t)

	_, err := dispatch(t, d, Deselect, "")
	require.NoError(t, err)

	result, err := dispatch(t, d, Status, "")
	require.NoError(t, err)
	assert.Equal(t, -1, result.(synchronizer.Status).Index)
	assert.Equal(t, []string{Deselect}, engine.calls)
}

func TestVideoReportsAreQueued(t *testing.T) {
	d, engine := newHarness(t)

	result, err := dispatch(t, d, VideoProgress, `{"camera":1,"fraction":0.7}`)
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	_, err = dispatch(t, d, VideoEnded, `{"camera":1}`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.progress) == 1 && len(engine.ended) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0.7}, engine.progress)
	assert.Equal(t, []int{1}, engine.ended)
}

func TestVideoProgress_RejectsOutOfRange(t *testing.T) {
	d, engine := newHarness(t)

	// Buffered handlers validate after queueing; the report is logged and dropped.
	_, err := dispatch(t, d, VideoProgress, `{"camera":1,"fraction":1.5}`)
	require.NoError(t, err)
	_, err = dispatch(t, d, VideoProgress, `{"camera":1,"fraction":0.2}`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return len(engine.progress) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{0.2}, engine.progress)
}

func TestUnknownCommand(t *testing.T) {
	d, _ := newHarness(t)
	_, err := dispatch(t, d, "teleport", "")
	assert.True(t, errors.Is(err, dispatcher.ErrUnknownCommand))
}
