// Package streaming defines the websocket protocol spoken with the map
// surface and the live position gateway.
package streaming

import (
	"encoding/json"

	"github.com/fleetsync/playback/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	// Session
	TypeHello = "hello"

	// Map surface (outbound)
	TypeDrawMarker     = "draw_marker"
	TypeUpdateMarker   = "update_marker"
	TypeDrawSegment    = "draw_segment"
	TypeDrawFlag       = "draw_flag"
	TypeClearArtifacts = "clear_artifacts"
	TypeFitBounds      = "fit_bounds"
	TypeNotice         = "notice"
	TypePlayVideo      = "play_video"
	TypeStopVideo      = "stop_video"

	// Map surface (inbound player events)
	TypeVideoProgress = "video_progress"
	TypeVideoEnded    = "video_ended"

	// Live feed
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePositions   = "positions"
)

// SRIDs a surface can ask coordinates in.
const (
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// HelloPayload opens a session. It is replayed after every reconnect.
type HelloPayload struct {
	Client string `json:"client"`
	SRID   int    `json:"srid"`
}

// Coordinate is x/y in the session SRID: longitude/latitude for 4326,
// meters for 3857.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MarkerPayload draws or moves the vehicle marker.
type MarkerPayload struct {
	Position   Coordinate `json:"position"`
	Status     string     `json:"status"`
	Mode       string     `json:"mode"`
	Timestamp  int64      `json:"timestamp"`
	SpeedKmh   float64    `json:"speedKmh"`
	Overspeed  bool       `json:"overspeed"`
	DurationMs int64      `json:"durationMs,omitempty"`
}

// SegmentPayload draws one trail segment.
type SegmentPayload struct {
	From  Coordinate `json:"from"`
	To    Coordinate `json:"to"`
	Color string     `json:"color"`
}

// FlagPayload draws a start or end flag.
type FlagPayload struct {
	Position Coordinate `json:"position"`
	Kind     string     `json:"kind"`
}

// BoundsPayload fits the viewport.
type BoundsPayload struct {
	SouthWest Coordinate `json:"southWest"`
	NorthEast Coordinate `json:"northEast"`
}

// NoticePayload is a user-visible message.
type NoticePayload struct {
	Kind      string `json:"kind"`
	VehicleID string `json:"vehicleId"`
	Camera    int    `json:"camera,omitempty"`
	Message   string `json:"message"`
}

// SubscribePayload starts or stops the live feed for a vehicle.
type SubscribePayload struct {
	VehicleID string `json:"vehicleId"`
}

// PositionsPayload is one pushed batch of live samples.
type PositionsPayload struct {
	VehicleID string                `json:"vehicleId"`
	Samples   []core.PositionSample `json:"samples"`
}

// VideoPayload starts or stops a camera's player. URL and Timestamp are
// empty on stop.
type VideoPayload struct {
	Camera    int    `json:"camera"`
	URL       string `json:"url,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// VideoEventPayload is reported by the surface's player. Fraction is only
// set for progress.
type VideoEventPayload struct {
	Camera   int     `json:"camera"`
	Fraction float64 `json:"fraction,omitempty"`
}
