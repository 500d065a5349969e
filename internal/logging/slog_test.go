package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// captureStdout points the console handler at a buffer and returns a
// function that restores it and returns what was captured.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	return func() string {
		stdout = orig
		return buf.String()
	}
}

func TestSetup_Destination(t *testing.T) {
	t.Run("file only", func(t *testing.T) {
		restore := captureStdout(t)
		var file bytes.Buffer
		m := NewSlogManager()
		m.Setup(&file, "info", nil)
		m.Logger().Info("marker drawn")

		assert.Contains(t, file.String(), "marker drawn")
		assert.Empty(t, restore())
	})
	t.Run("stdout without file", func(t *testing.T) {
		restore := captureStdout(t)
		m := NewSlogManager()
		m.Setup(nil, "info", nil)
		m.Logger().Info("marker drawn")

		assert.Contains(t, restore(), "marker drawn")
	})
}

func TestSetup_Level(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
	}{
		{"debug", true},
		{"info", false},
		{"warn", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			m := NewSlogManager()
			m.Setup(&buf, tt.level, nil)
			m.Logger().Debug("tick")
			m.Logger().Error("fetch failed")

			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("tick")))
			assert.Contains(t, buf.String(), "fetch failed")
		})
	}
}

func TestSetup_ReplacesLogger(t *testing.T) {
	var first, second bytes.Buffer
	m := NewSlogManager()

	m.Setup(&first, "info", nil)
	m.Logger().Info("first run")
	m.Setup(&second, "info", nil)
	m.Logger().Info("second run")

	assert.NotContains(t, first.String(), "second run")
	assert.Contains(t, second.String(), "second run")
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	assert.Equal(t, slog.Default(), NewSlogManager().Logger())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug, "DEBUG": slog.LevelDebug,
		"info": slog.LevelInfo, "WARN": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestSetup_WithOTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(&buf, "info", provider)

	m.Logger().Info("replay finished")
	assert.Contains(t, buf.String(), "replay finished")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestFlush_NilProvider(t *testing.T) {
	assert.NoError(t, NewSlogManager().Flush(context.Background()))
}

func TestSetup_ContextProvider(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.SetContextProvider(func() []slog.Attr {
		return []slog.Attr{slog.String("vehicle", "truck-7"), slog.String("mode", "TIMELINE")}
	})
	m.Setup(&buf, "info", nil)

	m.Logger().Info("tick")

	assert.Contains(t, buf.String(), "playback.vehicle=truck-7")
	assert.Contains(t, buf.String(), "playback.mode=TIMELINE")
}

func TestSetup_ExtraHandlers(t *testing.T) {
	var file, extra bytes.Buffer
	m := NewSlogManager()
	m.Setup(&file, "warn", nil, slog.NewJSONHandler(&extra, nil))

	m.Logger().Warn("replay finished", "vehicle", "truck-7")

	assert.Contains(t, file.String(), "replay finished")
	assert.Contains(t, extra.String(), `"vehicle":"truck-7"`)
	assert.Equal(t, slog.LevelWarn, m.Level())
}
