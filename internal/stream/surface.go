// Package stream connects the engine to its websocket peers: the map
// surface that renders markers and the gateway that pushes live positions.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsync/playback/internal/animator"
	"github.com/fleetsync/playback/internal/geo"
	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/fleetsync/playback/pkg/streaming"
)

// SurfaceConfig holds map surface connection settings.
type SurfaceConfig struct {
	URL            string
	Secret         string
	SRID           int // streaming.SRIDWGS84 or streaming.SRIDWebMercator
	ReconnectDelay time.Duration
}

// Surface renders playback on a remote map. Draw calls are fire-and-forget
// and never block the event loop.
type Surface struct {
	conn   *connection
	cfg    SurfaceConfig
	hello  []byte
	logger *slog.Logger
}

// NewSurface creates an unconnected surface.
func NewSurface(cfg SurfaceConfig, logger *slog.Logger) *Surface {
	if cfg.SRID == 0 {
		cfg.SRID = streaming.SRIDWGS84
	}
	s := &Surface{conn: newConnection(logger), cfg: cfg, logger: logger}
	if cfg.ReconnectDelay > 0 {
		s.conn.retry.initial = cfg.ReconnectDelay
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.conn.replay = func() [][]byte {
		if s.hello == nil {
			return nil
		}
		return [][]byte{s.hello}
	}
	return s
}

// OnMessage registers fn for inbound envelopes such as player events. It
// must be called before Connect. fn runs on the read goroutine.
func (s *Surface) OnMessage(fn func(streaming.Envelope)) {
	s.conn.onMessage = fn
}

// Connect dials the surface and waits for it to accept the session.
func (s *Surface) Connect() error {
	hello, err := marshalEnvelope(streaming.TypeHello, streaming.HelloPayload{Client: "playbackd", SRID: s.cfg.SRID})
	if err != nil {
		return err
	}
	s.conn.mu.Lock()
	s.hello = hello
	s.conn.mu.Unlock()

	if err := s.conn.dial(s.cfg.URL, s.cfg.Secret); err != nil {
		return fmt.Errorf("surface: %w", err)
	}
	return s.conn.sendAndWait(context.Background(), hello, streaming.TypeHello, ackTimeout)
}

// Close disconnects from the surface.
func (s *Surface) Close() error {
	return s.conn.close()
}

// coord converts a WGS84 position to the session SRID.
func (s *Surface) coord(ll core.LatLng) streaming.Coordinate {
	if s.cfg.SRID == streaming.SRIDWebMercator {
		x, y := geo.Project(ll)
		return streaming.Coordinate{X: x, Y: y}
	}
	return streaming.Coordinate{X: ll.Lng, Y: ll.Lat}
}

func (s *Surface) emit(msgType string, payload any) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		s.logger.Error("surface message dropped", "type", msgType, "error", err)
		return
	}
	s.conn.send(data)
}

func (s *Surface) marker(pos core.LatLng, style animator.MarkerStyle, d time.Duration) streaming.MarkerPayload {
	return streaming.MarkerPayload{
		Position:   s.coord(pos),
		Status:     string(style.Status),
		Mode:       style.Mode.String(),
		Timestamp:  style.Timestamp,
		SpeedKmh:   style.SpeedKmh,
		Overspeed:  style.Overspeed,
		DurationMs: d.Milliseconds(),
	}
}

func (s *Surface) DrawMarker(pos core.LatLng, style animator.MarkerStyle) {
	s.emit(streaming.TypeDrawMarker, s.marker(pos, style, 0))
}

func (s *Surface) UpdateMarkerPosition(pos core.LatLng, style animator.MarkerStyle, d time.Duration) {
	s.emit(streaming.TypeUpdateMarker, s.marker(pos, style, d))
}

func (s *Surface) DrawPolylineSegment(from, to core.LatLng, color string) {
	s.emit(streaming.TypeDrawSegment, streaming.SegmentPayload{From: s.coord(from), To: s.coord(to), Color: color})
}

func (s *Surface) DrawFlag(pos core.LatLng, kind animator.FlagKind) {
	s.emit(streaming.TypeDrawFlag, streaming.FlagPayload{Position: s.coord(pos), Kind: string(kind)})
}

func (s *Surface) RemoveAllArtifacts() {
	s.emit(streaming.TypeClearArtifacts, struct{}{})
}

func (s *Surface) FitBoundsToPoints(sw, ne core.LatLng) {
	s.emit(streaming.TypeFitBounds, streaming.BoundsPayload{SouthWest: s.coord(sw), NorthEast: s.coord(ne)})
}

// Notify shows a notice on the surface.
func (s *Surface) Notify(n synchronizer.Notice) {
	s.emit(streaming.TypeNotice, streaming.NoticePayload{
		Kind:      string(n.Kind),
		VehicleID: n.VehicleID,
		Camera:    n.Camera,
		Message:   n.Message,
	})
}

// Play starts a camera's player on the surface.
func (s *Surface) Play(cameraID int, url string, segment core.VideoSegmentDescriptor) {
	s.emit(streaming.TypePlayVideo, streaming.VideoPayload{Camera: cameraID, URL: url, Timestamp: segment.Timestamp})
}

// Stop stops a camera's player on the surface.
func (s *Surface) Stop(cameraID int) {
	s.emit(streaming.TypeStopVideo, streaming.VideoPayload{Camera: cameraID})
}
