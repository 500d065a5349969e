package commands

import (
	"context"
	"log/slog"

	"github.com/fleetsync/playback/internal/dispatcher"
	"github.com/fleetsync/playback/pkg/streaming"
)

// Dispatcher routes an event to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, e dispatcher.Event) (any, error)
}

// playerCommands maps surface player events to their commands. The payloads
// share the camera/fraction shape.
var playerCommands = map[string]string{
	streaming.TypeVideoProgress: VideoProgress,
	streaming.TypeVideoEnded:    VideoEnded,
}

// PlayerEvents returns a surface message handler that forwards player
// progress and end events to d. Other message types are ignored.
func PlayerEvents(ctx context.Context, d Dispatcher, logger *slog.Logger) func(streaming.Envelope) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(env streaming.Envelope) {
		cmd, ok := playerCommands[env.Type]
		if !ok {
			return
		}
		if _, err := d.Dispatch(ctx, dispatcher.Event{Command: cmd, Payload: env.Payload}); err != nil {
			logger.Warn("player event rejected", "type", env.Type, "error", err)
		}
	}
}
