package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// zerologLevel converts a string log level to zerolog.Level.
func zerologLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewZerolog builds the logger used by the storage and telemetry layers.
// Each output gets a console-format writer without colors; provider, when
// set, adds the current playback context to every event.
func NewZerolog(level string, provider ContextProvider, outs ...io.Writer) zerolog.Logger {
	writers := make([]io.Writer, 0, len(outs))
	for _, out := range outs {
		if out == nil {
			continue
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerologLevel(level)).
		With().Timestamp().Logger()

	if provider != nil {
		logger = logger.Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
			for _, a := range provider() {
				e.Interface(a.Key, a.Value.Any())
			}
		}))
	}
	return logger
}

// Sampled limits a high-frequency logger to 5 entries per 10 seconds, then
// 1 in 100.
func Sampled(logger zerolog.Logger) zerolog.Logger {
	return logger.With().Bool("sampled", true).Logger().Sample(&zerolog.BurstSampler{
		Burst:       5,
		Period:      10 * time.Second,
		NextSampler: &zerolog.BasicSampler{N: 100},
	})
}
