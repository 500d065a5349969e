// Package otel sets up OpenTelemetry log and metric export for the daemon.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultMetricInterval is how often metric snapshots are written.
const DefaultMetricInterval = time.Minute

// ErrNoOutput is returned when OTel is enabled with nowhere to export.
var ErrNoOutput = errors.New("otel enabled without a log writer, metric writer or endpoint")

// Config selects the exporters. Writers are usually the daemon's log file.
type Config struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	LogWriter      io.Writer
	MetricWriter   io.Writer
	Endpoint       string // OTLP/HTTP logs, skipped when empty
	Insecure       bool
}

// Provider owns the SDK providers built from a Config. A disabled Provider
// is valid and does nothing.
type Provider struct {
	enabled bool
	logs    *sdklog.LoggerProvider
	metrics *sdkmetric.MeterProvider
}

// New builds the providers. The meter provider, when present, is installed
// globally so the event loop and dispatcher instruments report through it.
func New(cfg Config) (*Provider, error) {
	p := &Provider{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return p, nil
	}

	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	processors, err := logProcessors(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(processors) == 0 && cfg.MetricWriter == nil {
		return nil, ErrNoOutput
	}

	if len(processors) > 0 {
		opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
		for _, proc := range processors {
			opts = append(opts, sdklog.WithProcessor(proc))
		}
		p.logs = sdklog.NewLoggerProvider(opts...)
	}

	if cfg.MetricWriter != nil {
		if p.metrics, err = meterProvider(cfg, res); err != nil {
			return nil, err
		}
		otel.SetMeterProvider(p.metrics)
	}
	return p, nil
}

// logProcessors batches logs to the writer and the OTLP endpoint.
func logProcessors(ctx context.Context, cfg Config) ([]sdklog.Processor, error) {
	batch := func(e sdklog.Exporter) sdklog.Processor {
		return sdklog.NewBatchProcessor(e, sdklog.WithExportTimeout(cfg.BatchTimeout))
	}

	var out []sdklog.Processor
	if cfg.LogWriter != nil {
		e, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("otel file log exporter: %w", err)
		}
		out = append(out, batch(e))
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		e, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otel OTLP log exporter: %w", err)
		}
		out = append(out, batch(e))
	}
	return out, nil
}

func meterProvider(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	e, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.MetricWriter))
	if err != nil {
		return nil, fmt.Errorf("otel metric exporter: %w", err)
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = DefaultMetricInterval
	}
	reader := sdkmetric.NewPeriodicReader(e, sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

// Enabled reports whether OTel was turned on.
func (p *Provider) Enabled() bool { return p.enabled }

// LoggerProvider is the otelslog bridge target; nil when logs are not exported.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider { return p.logs }

// Meter returns a named meter, or a no-op meter when metrics are not exported.
func (p *Provider) Meter(name string) metric.Meter {
	if p.metrics == nil {
		return noop.Meter{}
	}
	return p.metrics.Meter(name)
}

// Flush exports everything buffered so far.
func (p *Provider) Flush(ctx context.Context) error {
	return p.each(func(name string, flush, _ func(context.Context) error) error {
		if err := flush(ctx); err != nil {
			return fmt.Errorf("%s flush: %w", name, err)
		}
		return nil
	})
}

// Shutdown flushes and stops every provider. Errors are joined.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.each(func(name string, _, shutdown func(context.Context) error) error {
		if err := shutdown(ctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		return nil
	})
}

// each applies fn to the log and metric providers that exist, joining errors.
func (p *Provider) each(fn func(name string, flush, shutdown func(context.Context) error) error) error {
	var errs []error
	if p.logs != nil {
		errs = append(errs, fn("log", p.logs.ForceFlush, p.logs.Shutdown))
	}
	if p.metrics != nil {
		errs = append(errs, fn("metric", p.metrics.ForceFlush, p.metrics.Shutdown))
	}
	return errors.Join(errs...)
}
