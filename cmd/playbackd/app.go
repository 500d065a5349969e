package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/fleetsync/playback/internal/api"
	"github.com/fleetsync/playback/internal/cache"
	"github.com/fleetsync/playback/internal/clock"
	"github.com/fleetsync/playback/internal/commands"
	"github.com/fleetsync/playback/internal/config"
	"github.com/fleetsync/playback/internal/database"
	"github.com/fleetsync/playback/internal/dispatcher"
	"github.com/fleetsync/playback/internal/eta"
	"github.com/fleetsync/playback/internal/eventloop"
	"github.com/fleetsync/playback/internal/influx"
	"github.com/fleetsync/playback/internal/logging"
	"github.com/fleetsync/playback/internal/monitor"
	intOtel "github.com/fleetsync/playback/internal/otel"
	"github.com/fleetsync/playback/internal/storage"
	"github.com/fleetsync/playback/internal/storage/memory"
	"github.com/fleetsync/playback/internal/stream"
	"github.com/fleetsync/playback/internal/synchronizer"
	"github.com/fleetsync/playback/internal/transport"
)

// app holds the daemon's long-lived services.
type app struct {
	startedAt time.Time

	slogManager *logging.SlogManager
	logger      *slog.Logger
	zlog        zerolog.Logger
	logFile     *os.File
	otel        *intOtel.Provider

	db      *database.Manager
	backend storage.Backend
	influx  *influx.Manager

	loop    *eventloop.Loop
	feed    *stream.Feed
	surface *stream.Surface
	gateway *api.Client
	sync    *synchronizer.Synchronizer
	monitor *monitor.Service
	server  *transport.Server
}

// pendingWriter is implemented by the batched database backends.
type pendingWriter interface {
	Pending() int
}

// setupLogging opens the per-run log file and builds the slog and zerolog
// loggers. OTel and Graylog are optional.
func (a *app) setupLogging() error {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}
	path := logging.LogFilePath(logsDir, appName, a.startedAt)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = f

	otelCfg := config.GetOTelConfig()
	a.otel, err = intOtel.New(intOtel.Config{
		Enabled:      otelCfg.Enabled,
		ServiceName:  otelCfg.ServiceName,
		BatchTimeout: otelCfg.BatchTimeout,
		LogWriter:    f,
		MetricWriter: f,
		Endpoint:     otelCfg.Endpoint,
		Insecure:     otelCfg.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize OTel provider: %w", err)
	}
	var logProvider *sdklog.LoggerProvider
	if a.otel != nil {
		logProvider = a.otel.LoggerProvider()
	}

	level := config.GetString("logLevel")
	var extra []slog.Handler
	zouts := []io.Writer{f}
	if config.GetBool("graylog.enabled") {
		gw, err := logging.NewGraylogWriter(config.GetString("graylog.address"), appName)
		if err != nil {
			return err
		}
		extra = append(extra, logging.NewGraylogHandler(gw, level))
		zouts = append(zouts, gw)
	}

	a.slogManager.SetContextProvider(a.logContext)
	a.slogManager.Setup(f, level, logProvider, extra...)
	a.logger = a.slogManager.Logger()
	a.zlog = logging.NewZerolog(level, a.logContext, zouts...)
	a.logger.Info("Logging to file", "path", path)
	return nil
}

// logContext adds the selected vehicle and mode once the monitor has a report.
func (a *app) logContext() []slog.Attr {
	if a.monitor == nil {
		return nil
	}
	return a.monitor.LogAttrs()
}

// setupStorage connects the configured backend and applies the seed file.
func (a *app) setupStorage(ctx context.Context) error {
	cfg := config.GetStorageConfig()
	a.db = database.NewManager(a.zlog.With().Str("component", "database").Logger())

	backend, err := storage.NewBackend(cfg, a.db, a.logger.With("component", "storage"))
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("storage %s: %w", cfg.Type, err)
	}
	a.backend = backend
	a.logger.Info("Storage initialized", "type", cfg.Type)

	if cfg.SeedFile != "" {
		vehicles, samples, err := storage.ImportFile(ctx, backend, cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("seed %s: %w", cfg.SeedFile, err)
		}
		a.logger.Info("Seed imported", "file", cfg.SeedFile, "vehicles", vehicles, "samples", samples)
	}
	return nil
}

// setupInflux connects the telemetry sink. A failure disables telemetry
// without stopping the daemon.
func (a *app) setupInflux(ctx context.Context) {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return
	}
	m := influx.NewManager(a.zlog.With().Str("component", "influx").Logger(), cfg)
	if err := m.Connect(ctx); err != nil {
		a.logger.Warn("InfluxDB unavailable, telemetry disabled", "error", err)
		return
	}
	a.influx = m
}

// setupPlayback builds the event loop, streams and synchronizer.
func (a *app) setupPlayback(ctx context.Context) error {
	var err error
	a.loop, err = eventloop.New(config.GetInt("eventloop.queueSize"), a.logger.With("component", "eventloop"))
	if err != nil {
		return err
	}

	feedCfg := config.GetFeedConfig()
	a.feed = stream.NewFeed(stream.FeedConfig{
		URL:            feedCfg.URL,
		Secret:         feedCfg.Secret,
		ReconnectDelay: feedCfg.ReconnectDelay,
	}, a.logger.With("component", "feed"))

	surfCfg := config.GetSurfaceConfig()
	a.surface = stream.NewSurface(stream.SurfaceConfig{
		URL:            surfCfg.URL,
		Secret:         surfCfg.Secret,
		SRID:           surfCfg.Projection,
		ReconnectDelay: surfCfg.ReconnectDelay,
	}, a.logger.With("component", "surface"))

	apiCfg := config.GetAPIConfig()
	a.gateway = api.New(apiCfg.ServerURL, apiCfg.APIKey)

	pb := config.GetPlaybackConfig()
	deps := synchronizer.Deps{
		Repository: a.backend,
		Feed:       a.feed,
		Surface:    a.surface,
		Resolver:   a.gateway,
		Player:     a.surface,
		Notifier:   a.surface,
		ETA:        eta.New(eta.Config{}),
		Profiles:   cache.NewProfileCache(),
	}
	if pb.CacheWindows > 0 {
		deps.Cache = cache.NewPlaybackCache(pb.CacheWindows)
	}
	if a.influx != nil {
		deps.Observer = influx.NewSink(a.influx, logging.Sampled(a.zlog))
	}

	a.sync = synchronizer.New(deps, synchronizer.Config{
		PacketWindow:   pb.PacketWindow,
		GapThreshold:   pb.GapThreshold,
		OfflineAfter:   pb.OfflineAfter,
		DriftThreshold: pb.DriftThreshold,
		PrefetchRatio:  pb.PrefetchRatio,
		SpeedLimitKmh:  pb.OverspeedKmh,
		ETAPollTicks:   pb.ETAPollTicks,
	}, a.loop, clock.NewWallScheduler(a.loop), a.logger.With("component", "synchronizer"))

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.logger))
	if err != nil {
		return err
	}
	commands.NewManager(a.sync).RegisterHandlers(d, a.loop)
	a.surface.OnMessage(commands.PlayerEvents(ctx, d, a.logger))

	a.server = transport.NewServer(config.GetString("http.addr"), transport.NewRouter(d, a.logger), a.logger)

	var pointWriter influx.PointWriter
	if a.influx != nil {
		pointWriter = a.influx
	}
	mdeps := monitor.Dependencies{
		Snapshot: func() (synchronizer.Status, error) {
			v, err := a.loop.Call(func() (any, error) { return a.sync.Status(), nil })
			if err != nil {
				return synchronizer.Status{}, err
			}
			return v.(synchronizer.Status), nil
		},
		Influx:     pointWriter,
		StatusPath: logging.StatusFilePath(config.GetString("logsDir"), appName),
		Logger:     a.logger.With("component", "monitor"),
	}
	if pw, ok := a.backend.(pendingWriter); ok {
		mdeps.Pending = pw.Pending
	}
	a.monitor = monitor.NewService(mdeps)
	return nil
}

// connectStreams dials the map surface and live gateway. Unconfigured
// endpoints are skipped.
func (a *app) connectStreams(ctx context.Context) {
	if config.GetSurfaceConfig().URL != "" {
		if err := a.surface.Connect(); err != nil {
			a.logger.Error("Map surface unavailable", "error", err)
		}
	}
	if config.GetFeedConfig().URL != "" {
		if err := a.feed.Connect(); err != nil {
			a.logger.Error("Live feed unavailable", "error", err)
		}
	}
	if config.GetAPIConfig().ServerURL != "" {
		if err := a.gateway.Healthcheck(ctx); err != nil {
			a.logger.Warn("Video gateway not reachable", "error", err)
		} else {
			a.logger.Info("Video gateway reachable")
		}
	}
}

// run serves until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	go a.loop.Run(ctx)
	a.connectStreams(ctx)
	a.monitor.Start()
	return a.server.Run(ctx)
}

// shutdown stops every service in reverse start order. The memory backend
// exports on close; that file is uploaded when configured.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), config.GetDuration("shutdownTimeout"))
	defer cancel()

	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.loop != nil {
		a.loop.Close()
	}
	if a.surface != nil {
		_ = a.surface.Close()
	}
	if a.feed != nil {
		_ = a.feed.Close()
	}

	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Error("Storage close failed", "error", err)
		}
	}
	if mem, ok := a.backend.(*memory.Backend); ok && config.GetAPIConfig().UploadExports {
		if path := mem.LastExport(); path != "" {
			if err := a.gateway.UploadExport(ctx, path); err != nil {
				a.logger.Error("Export upload failed", "path", path, "error", err)
			} else {
				a.logger.Info("Export uploaded", "path", path)
			}
		}
	}
	if a.influx != nil {
		_ = a.influx.Close()
	}
	if a.otel != nil {
		_ = a.otel.Shutdown(ctx)
	}
	_ = a.slogManager.Flush(ctx)
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
