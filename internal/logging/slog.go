package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// otelScope names the instrumentation scope of bridged records.
const otelScope = "playbackd"

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

// SlogManager builds the daemon's slog.Logger: a text sink, the OTel bridge
// and any extra handlers behind one MultiHandler.
type SlogManager struct {
	logger   *slog.Logger
	level    slog.Level
	context  ContextProvider
	otelLogs *sdklog.LoggerProvider
}

// NewSlogManager returns a manager at INFO that logs through slog.Default
// until Setup runs.
func NewSlogManager() *SlogManager {
	return &SlogManager{level: slog.LevelInfo}
}

// parseLevel accepts slog level names in any case. Unknown names mean INFO.
func parseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// utcTime renders record times as UTC RFC3339.
func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

func handlerOptions(lvl slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{Level: lvl, ReplaceAttr: utcTime}
}

// SetContextProvider adds p's attributes to every record of loggers built
// by later Setup calls.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.context = p
}

// Setup rebuilds the logger. Text goes to file, or to stdout when file is
// nil. A non-nil provider bridges records into OTel.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extra ...slog.Handler) {
	m.level = parseLevel(level)
	m.otelLogs = provider

	text := file
	if text == nil {
		text = stdout
	}
	sinks := []slog.Handler{slog.NewTextHandler(text, handlerOptions(m.level))}
	if provider != nil {
		sinks = append(sinks, otelslog.NewHandler(otelScope, otelslog.WithLoggerProvider(provider)))
	}
	sinks = append(sinks, extra...)

	var h slog.Handler = NewMultiHandler(sinks...)
	if m.context != nil {
		h = NewContextHandler(h, m.context)
	}
	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", m.level.String())
}

// Level is the level set by the last Setup.
func (m *SlogManager) Level() slog.Level { return m.level }

// Logger returns the built logger, or slog.Default before Setup.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush pushes buffered OTel records to their exporters.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.otelLogs == nil {
		return nil
	}
	return m.otelLogs.ForceFlush(ctx)
}
