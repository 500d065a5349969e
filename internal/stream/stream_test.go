package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/playback/internal/animator"
	"github.com/fleetsync/playback/internal/geo"
	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/fleetsync/playback/pkg/streaming"
)

// Compile-time interface checks.
var (
	_ synchronizer.Surface  = (*Surface)(nil)
	_ synchronizer.Notifier = (*Surface)(nil)
	_ synchronizer.Player   = (*Surface)(nil)
	_ synchronizer.Feed     = (*Feed)(nil)
)

// testServer upgrades to WebSocket, records received envelopes, acks
// hello/subscribe and exposes the latest connection for pushes.
type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	messages []streaming.Envelope
	conns    []*ws.Conn
	secrets  []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		ts.mu.Lock()
		ts.conns = append(ts.conns, c)
		ts.secrets = append(ts.secrets, r.URL.Query().Get("secret"))
		ts.mu.Unlock()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ts.mu.Lock()
			ts.messages = append(ts.messages, env)
			ts.mu.Unlock()

			if env.Type == streaming.TypeHello || env.Type == streaming.TypeSubscribe {
				data, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: env.Type})
				ts.write(data)
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// write sends to the latest connection. Writes are serialized by mu.
func (ts *testServer) write(data []byte) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		return
	}
	_ = ts.conns[len(ts.conns)-1].WriteMessage(ws.TextMessage, data)
}

func (ts *testServer) push(t *testing.T, vehicleID string, samples ...core.PositionSample) {
	t.Helper()
	data, err := marshalEnvelope(streaming.TypePositions, streaming.PositionsPayload{VehicleID: vehicleID, Samples: samples})
	require.NoError(t, err)
	ts.write(data)
}

func (ts *testServer) dropConnection() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) > 0 {
		_ = ts.conns[len(ts.conns)-1].Close()
	}
}

func (ts *testServer) count(msgType string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := 0
	for _, m := range ts.messages {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (ts *testServer) last(msgType string) (streaming.Envelope, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i := len(ts.messages) - 1; i >= 0; i-- {
		if ts.messages[i].Type == msgType {
			return ts.messages[i], true
		}
	}
	return streaming.Envelope{}, false
}

func TestSurface_ConnectSendsHello(t *testing.T) {
	ts := newTestServer(t)

	s := NewSurface(SurfaceConfig{URL: ts.url(), Secret: "s3cret"}, nil)
	require.NoError(t, s.Connect())
	defer s.Close()

	env, ok := ts.last(streaming.TypeHello)
	require.True(t, ok)
	var hello streaming.HelloPayload
	require.NoError(t, json.Unmarshal(env.Payload, &hello))
	assert.Equal(t, streaming.HelloPayload{Client: "playbackd", SRID: streaming.SRIDWGS84}, hello)
	assert.Equal(t, []string{"s3cret"}, ts.secrets)
}

func TestSurface_DrawCalls(t *testing.T) {
	ts := newTestServer(t)

	s := NewSurface(SurfaceConfig{URL: ts.url()}, nil)
	require.NoError(t, s.Connect())
	defer s.Close()

	a := core.LatLng{Lat: 12.97, Lng: 77.59}
	b := core.LatLng{Lat: 12.98, Lng: 77.60}
	style := animator.MarkerStyle{Status: core.StatusRunning, Mode: core.ModeTimeline, Timestamp: 100, SpeedKmh: 42}

	s.DrawMarker(a, style)
	s.UpdateMarkerPosition(b, style, 2500*time.Millisecond)
	s.DrawPolylineSegment(a, b, "#2e7d32")
	s.DrawFlag(a, animator.FlagStart)
	s.FitBoundsToPoints(a, b)
	s.Notify(synchronizer.Notice{Kind: synchronizer.NoticeNoVideo, VehicleID: "truck-7", Camera: 1, Message: "no video"})
	s.RemoveAllArtifacts()

	require.Eventually(t, func() bool { return ts.count(streaming.TypeClearArtifacts) == 1 }, time.Second, 5*time.Millisecond)

	for _, typ := range []string{
		streaming.TypeDrawMarker, streaming.TypeUpdateMarker, streaming.TypeDrawSegment,
		streaming.TypeDrawFlag, streaming.TypeFitBounds, streaming.TypeNotice,
	} {
		assert.Equal(t, 1, ts.count(typ), typ)
	}

	env, _ := ts.last(streaming.TypeUpdateMarker)
	var m streaming.MarkerPayload
	require.NoError(t, json.Unmarshal(env.Payload, &m))
	assert.Equal(t, streaming.Coordinate{X: 77.60, Y: 12.98}, m.Position)
	assert.Equal(t, "TIMELINE", m.Mode)
	assert.Equal(t, "RUNNING", m.Status)
	assert.Equal(t, int64(2500), m.DurationMs)

	env, _ = ts.last(streaming.TypeNotice)
	var n streaming.NoticePayload
	require.NoError(t, json.Unmarshal(env.Payload, &n))
	assert.Equal(t, "no_video", n.Kind)
	assert.Equal(t, 1, n.Camera)
}

func TestSurface_PlayAndStopVideo(t *testing.T) {
	ts := newTestServer(t)

	s := NewSurface(SurfaceConfig{URL: ts.url()}, nil)
	require.NoError(t, s.Connect())
	defer s.Close()

	seg := core.VideoSegmentDescriptor{Timestamp: 1700000000, Link: "cam2/0001.mp4"}
	s.Play(2, "https://cdn.example.com/cam2/0001.mp4", seg)
	s.Stop(2)

	require.Eventually(t, func() bool { return ts.count(streaming.TypeStopVideo) == 1 }, time.Second, 5*time.Millisecond)

	env, ok := ts.last(streaming.TypePlayVideo)
	require.True(t, ok)
	var play streaming.VideoPayload
	require.NoError(t, json.Unmarshal(env.Payload, &play))
	assert.Equal(t, streaming.VideoPayload{Camera: 2, URL: "https://cdn.example.com/cam2/0001.mp4", Timestamp: 1700000000}, play)

	env, _ = ts.last(streaming.TypeStopVideo)
	var stop streaming.VideoPayload
	require.NoError(t, json.Unmarshal(env.Payload, &stop))
	assert.Equal(t, streaming.VideoPayload{Camera: 2}, stop)
}

func TestSurface_OnMessageReceivesPlayerEvents(t *testing.T) {
	ts := newTestServer(t)

	got := make(chan streaming.Envelope, 4)
	s := NewSurface(SurfaceConfig{URL: ts.url()}, nil)
	s.OnMessage(func(env streaming.Envelope) { got <- env })
	require.NoError(t, s.Connect())
	defer s.Close()

	data, err := marshalEnvelope(streaming.TypeVideoProgress, streaming.VideoEventPayload{Camera: 1, Fraction: 0.95})
	require.NoError(t, err)
	ts.write(data)

	select {
	case env := <-got:
		assert.Equal(t, streaming.TypeVideoProgress, env.Type)
		var ev streaming.VideoEventPayload
		require.NoError(t, json.Unmarshal(env.Payload, &ev))
		assert.Equal(t, 1, ev.Camera)
		assert.InDelta(t, 0.95, ev.Fraction, 1e-9)
	case <-time.After(time.Second):
		t.Fatal("player event not delivered")
	}
}

func TestSurface_WebMercator(t *testing.T) {
	ts := newTestServer(t)

	s := NewSurface(SurfaceConfig{URL: ts.url(), SRID: streaming.SRIDWebMercator}, nil)
	require.NoError(t, s.Connect())
	defer s.Close()

	pos := core.LatLng{Lat: 12.97, Lng: 77.59}
	s.DrawFlag(pos, animator.FlagEnd)
	require.Eventually(t, func() bool { return ts.count(streaming.TypeDrawFlag) == 1 }, time.Second, 5*time.Millisecond)

	env, _ := ts.last(streaming.TypeDrawFlag)
	var f streaming.FlagPayload
	require.NoError(t, json.Unmarshal(env.Payload, &f))
	x, y := geo.Project(pos)
	assert.InDelta(t, x, f.Position.X, 1e-6)
	assert.InDelta(t, y, f.Position.Y, 1e-6)
	assert.Equal(t, "end", f.Kind)
}

func TestFeed_SubscribeReceiveCancel(t *testing.T) {
	ts := newTestServer(t)

	f := NewFeed(FeedConfig{URL: ts.url()}, nil)
	require.NoError(t, f.Connect())
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.Subscribe(ctx, "truck-7")
	require.NoError(t, err)
	assert.Equal(t, 1, f.Subscriptions())

	ts.push(t, "other", core.PositionSample{Timestamp: 1})
	ts.push(t, "truck-7", core.PositionSample{Timestamp: 100}, core.PositionSample{Timestamp: 101})

	select {
	case batch := <-ch:
		require.Len(t, batch, 2)
		assert.Equal(t, int64(100), batch[0].Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no batch received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	require.Eventually(t, func() bool { return ts.count(streaming.TypeUnsubscribe) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.Subscriptions())
}

func TestFeed_NewerSubscriptionReplacesOlder(t *testing.T) {
	ts := newTestServer(t)

	f := NewFeed(FeedConfig{URL: ts.url()}, nil)
	require.NoError(t, f.Connect())
	defer f.Close()

	ctx1, cancel1 := context.WithCancel(context.Background())
	first, err := f.Subscribe(ctx1, "truck-7")
	require.NoError(t, err)

	second, err := f.Subscribe(context.Background(), "truck-7")
	require.NoError(t, err)

	_, ok := <-first
	assert.False(t, ok)

	// Cancelling the replaced subscription must not tear down the new one.
	cancel1()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.Subscriptions())
	assert.Equal(t, 0, ts.count(streaming.TypeUnsubscribe))

	ts.push(t, "truck-7", core.PositionSample{Timestamp: 5})
	select {
	case batch := <-second:
		assert.Equal(t, int64(5), batch[0].Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no batch on the new subscription")
	}
}

func TestFeed_ResubscribesAfterReconnect(t *testing.T) {
	ts := newTestServer(t)

	f := NewFeed(FeedConfig{URL: ts.url()}, nil)
	f.conn.retry.initial = 10 * time.Millisecond
	require.NoError(t, f.Connect())
	defer f.Close()

	ch, err := f.Subscribe(context.Background(), "truck-7")
	require.NoError(t, err)

	ts.dropConnection()
	require.Eventually(t, func() bool { return ts.count(streaming.TypeSubscribe) == 2 }, 2*time.Second, 10*time.Millisecond)

	ts.push(t, "truck-7", core.PositionSample{Timestamp: 9})
	select {
	case batch := <-ch:
		assert.Equal(t, int64(9), batch[0].Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no batch after reconnect")
	}
}

func TestFeed_ConnectFails(t *testing.T) {
	f := NewFeed(FeedConfig{URL: "ws://127.0.0.1:1"}, nil)
	assert.Error(t, f.Connect())
}

func TestReconnectDelayConfiguresBackoff(t *testing.T) {
	f := NewFeed(FeedConfig{ReconnectDelay: 3 * time.Second}, nil)
	assert.Equal(t, 3*time.Second, f.conn.retry.initial)

	s := NewSurface(SurfaceConfig{}, nil)
	assert.Equal(t, time.Second, s.conn.retry.initial)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := retryPolicy{initial: time.Second, max: 5 * time.Second, attempts: 10}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{9, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestSendAndWait_TimesOutAndForgetsWaiter(t *testing.T) {
	c := newConnection(nil)
	err := c.sendAndWait(context.Background(), []byte(`{}`), streaming.TypeHello, 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Empty(t, c.waiters[streaming.TypeHello])
	assert.Equal(t, 1, c.outbox.Len())
}

func TestSendAndWait_ReturnsOnCancelAndForgetsWaiter(t *testing.T) {
	c := newConnection(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := c.sendAndWait(ctx, []byte(`{}`), streaming.TypeSubscribe, time.Minute)

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.waiters[streaming.TypeSubscribe])
}
