// Package commands maps user commands onto the synchronizer.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetsync/playback/internal/dispatcher"
	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/pkg/core"
	"github.com/go-playground/validator/v10"
)

// Command names accepted by the dispatcher.
const (
	Select        = "select"
	Deselect      = "deselect"
	GoLive        = "goLive"
	EnterTimeline = "enterTimeline"
	BeginScrub    = "beginScrub"
	CommitScrub   = "commitScrub"
	Status        = "status"
	VideoProgress = "videoProgress"
	VideoEnded    = "videoEnded"
)

// ErrInvalidRequest wraps payload decoding and validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Engine is the playback surface driven by commands. *synchronizer.Synchronizer
// implements it; every method must run on the event loop.
type Engine interface {
	SelectVehicle(ctx context.Context, vehicleID string) error
	Deselect()
	GoLive(ctx context.Context) error
	EnterTimeline(ctx context.Context, r core.TimeRange) error
	BeginScrub() error
	CommitScrub(ctx context.Context, minutes float64) error
	VideoProgress(camera int, fraction float64)
	VideoEnded(camera int)
	Status() synchronizer.Status
}

// SelectRequest is the select payload.
type SelectRequest struct {
	VehicleID string `json:"vehicleId" validate:"required"`
}

// TimelineRequest is the enterTimeline payload, in epoch seconds.
type TimelineRequest struct {
	From int64 `json:"from" validate:"required,gt=0"`
	To   int64 `json:"to" validate:"required,gtfield=From"`
}

// ScrubRequest is the commitScrub payload: minutes past the window start.
type ScrubRequest struct {
	Minutes float64 `json:"minutes" validate:"gte=0"`
}

// VideoProgressRequest reports player progress through the current segment.
type VideoProgressRequest struct {
	Camera   int     `json:"camera" validate:"gte=0"`
	Fraction float64 `json:"fraction" validate:"gte=0,lte=1"`
}

// VideoEndedRequest reports that the current segment finished playing.
type VideoEndedRequest struct {
	Camera int `json:"camera" validate:"gte=0"`
}

// Manager owns the command handlers.
type Manager struct {
	engine   Engine
	validate *validator.Validate
}

// NewManager creates a command manager for engine.
func NewManager(engine Engine) *Manager {
	return &Manager{engine: engine, validate: validator.New()}
}

// RegisterHandlers registers every command with d. All handlers run on
// loop; player reports are queued so a slow loop never stalls the player.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher, loop dispatcher.Caller) {
	// Session control - sync, caller waits for the outcome
	d.Register(Select, m.handleSelect, dispatcher.OnLoop(loop), dispatcher.Logged())
	d.Register(Deselect, m.handleDeselect, dispatcher.OnLoop(loop), dispatcher.Logged())
	d.Register(GoLive, m.handleGoLive, dispatcher.OnLoop(loop), dispatcher.Logged())
	d.Register(EnterTimeline, m.handleEnterTimeline, dispatcher.OnLoop(loop), dispatcher.Logged())
	d.Register(BeginScrub, m.handleBeginScrub, dispatcher.OnLoop(loop), dispatcher.Logged())
	d.Register(CommitScrub, m.handleCommitScrub, dispatcher.OnLoop(loop), dispatcher.Logged())
	d.Register(Status, m.handleStatus, dispatcher.OnLoop(loop))

	// Progress is superseded by the next report, so drops are fine
	d.Register(VideoProgress, m.handleVideoProgress, dispatcher.OnLoop(loop), dispatcher.Buffered(256))
	// An end event drives the next segment and must not be lost
	d.Register(VideoEnded, m.handleVideoEnded, dispatcher.OnLoop(loop), dispatcher.Buffered(64), dispatcher.Blocking(), dispatcher.Logged())
}

// bind decodes and validates the event payload into v.
func (m *Manager) bind(e dispatcher.Event, v any) error {
	if err := e.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := m.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, e.Command, err)
	}
	return nil
}

func (m *Manager) handleSelect(ctx context.Context, e dispatcher.Event) (any, error) {
	var req SelectRequest
	if err := m.bind(e, &req); err != nil {
		return nil, err
	}
	if err := m.engine.SelectVehicle(ctx, req.VehicleID); err != nil {
		return nil, err
	}
	return m.engine.Status(), nil
}

func (m *Manager) handleDeselect(_ context.Context, _ dispatcher.Event) (any, error) {
	m.engine.Deselect()
	return m.engine.Status(), nil
}

func (m *Manager) handleGoLive(ctx context.Context, _ dispatcher.Event) (any, error) {
	if err := m.engine.GoLive(ctx); err != nil {
		return nil, err
	}
	return m.engine.Status(), nil
}

func (m *Manager) handleEnterTimeline(ctx context.Context, e dispatcher.Event) (any, error) {
	var req TimelineRequest
	if err := m.bind(e, &req); err != nil {
		return nil, err
	}
	if err := m.engine.EnterTimeline(ctx, core.TimeRange{From: req.From, To: req.To}); err != nil {
		return nil, err
	}
	return m.engine.Status(), nil
}

func (m *Manager) handleBeginScrub(_ context.Context, _ dispatcher.Event) (any, error) {
	if err := m.engine.BeginScrub(); err != nil {
		return nil, err
	}
	return m.engine.Status(), nil
}

func (m *Manager) handleCommitScrub(ctx context.Context, e dispatcher.Event) (any, error) {
	var req ScrubRequest
	if err := m.bind(e, &req); err != nil {
		return nil, err
	}
	if err := m.engine.CommitScrub(ctx, req.Minutes); err != nil {
		return nil, err
	}
	return m.engine.Status(), nil
}

func (m *Manager) handleStatus(_ context.Context, _ dispatcher.Event) (any, error) {
	return m.engine.Status(), nil
}

func (m *Manager) handleVideoProgress(_ context.Context, e dispatcher.Event) (any, error) {
	var req VideoProgressRequest
	if err := m.bind(e, &req); err != nil {
		return nil, err
	}
	m.engine.VideoProgress(req.Camera, req.Fraction)
	return nil, nil
}

func (m *Manager) handleVideoEnded(_ context.Context, e dispatcher.Event) (any, error) {
	var req VideoEndedRequest
	if err := m.bind(e, &req); err != nil {
		return nil, err
	}
	m.engine.VideoEnded(req.Camera)
	return nil, nil
}
