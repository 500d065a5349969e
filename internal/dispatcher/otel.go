package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fleetsync/playback/internal/dispatcher"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// instruments counts queued command traffic per command name.
type instruments struct {
	processedTotal metric.Int64Counter
	droppedTotal   metric.Int64Counter
}

func newInstruments(m metric.Meter, depths func() map[string]int) (*instruments, error) {
	gauge, err := m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Events waiting in a command queue"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher.queue.size: %w", err)
	}
	if _, err := m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for cmd, n := range depths() {
			o.ObserveInt64(gauge, int64(n), metric.WithAttributes(attribute.String("command", cmd)))
		}
		return nil
	}, gauge); err != nil {
		return nil, fmt.Errorf("dispatcher.queue.size callback: %w", err)
	}

	in := &instruments{}
	if in.processedTotal, err = m.Int64Counter("dispatcher.events.processed",
		metric.WithDescription("Queued events handled")); err != nil {
		return nil, fmt.Errorf("dispatcher.events.processed: %w", err)
	}
	if in.droppedTotal, err = m.Int64Counter("dispatcher.events.dropped",
		metric.WithDescription("Events rejected by a full queue")); err != nil {
		return nil, fmt.Errorf("dispatcher.events.dropped: %w", err)
	}
	return in, nil
}

func (in *instruments) processed(command string) {
	in.processedTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", command)))
}

func (in *instruments) dropped(command string) {
	in.droppedTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", command)))
}
