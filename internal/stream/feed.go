package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetsync/playback/pkg/core"
	"github.com/fleetsync/playback/pkg/streaming"
)

const batchChSize = 16

// FeedConfig holds live gateway connection settings.
type FeedConfig struct {
	URL            string
	Secret         string
	ReconnectDelay time.Duration // first reconnect backoff, default 1s
}

type subscription struct {
	vehicleID string
	ch        chan []core.PositionSample
}

// Feed receives live position batches from the gateway. Subscriptions are
// replayed after a reconnect.
type Feed struct {
	conn   *connection
	cfg    FeedConfig
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewFeed creates an unconnected feed.
func NewFeed(cfg FeedConfig, logger *slog.Logger) *Feed {
	f := &Feed{
		conn:   newConnection(logger),
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]*subscription),
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if cfg.ReconnectDelay > 0 {
		f.conn.retry.initial = cfg.ReconnectDelay
	}
	f.conn.onMessage = f.route
	f.conn.replay = f.resubscribe
	return f
}

// Connect dials the gateway.
func (f *Feed) Connect() error {
	if err := f.conn.dial(f.cfg.URL, f.cfg.Secret); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (f *Feed) Close() error {
	return f.conn.close()
}

// Subscribe asks the gateway for vehicleID's positions. The returned channel
// is closed once ctx is cancelled. A newer subscription for the same
// vehicle replaces this one.
func (f *Feed) Subscribe(ctx context.Context, vehicleID string) (<-chan []core.PositionSample, error) {
	data, err := marshalEnvelope(streaming.TypeSubscribe, streaming.SubscribePayload{VehicleID: vehicleID})
	if err != nil {
		return nil, err
	}

	sub := &subscription{vehicleID: vehicleID, ch: make(chan []core.PositionSample, batchChSize)}
	f.mu.Lock()
	if old, ok := f.subs[vehicleID]; ok {
		close(old.ch)
	}
	f.subs[vehicleID] = sub
	f.mu.Unlock()

	if err := f.conn.sendAndWait(ctx, data, streaming.TypeSubscribe, ackTimeout); err != nil {
		f.release(sub)
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if f.release(sub) {
			if msg, err := marshalEnvelope(streaming.TypeUnsubscribe, streaming.SubscribePayload{VehicleID: vehicleID}); err == nil {
				f.conn.send(msg)
			}
		}
	}()
	return sub.ch, nil
}

// release removes sub if it is still current and reports whether it was.
func (f *Feed) release(sub *subscription) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[sub.vehicleID] != sub {
		return false
	}
	delete(f.subs, sub.vehicleID)
	close(sub.ch)
	return true
}

// Subscriptions returns the number of active subscriptions.
func (f *Feed) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) route(env streaming.Envelope) {
	if env.Type != streaming.TypePositions {
		f.logger.Debug("feed ignored message", "type", env.Type)
		return
	}
	var p streaming.PositionsPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		f.logger.Warn("malformed positions payload", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[p.VehicleID]
	if !ok {
		return
	}
	select {
	case sub.ch <- p.Samples:
	default:
		f.logger.Warn("live batch dropped, consumer is behind", "vehicle", p.VehicleID)
	}
}

func (f *Feed) resubscribe() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, 0, len(f.subs))
	for id := range f.subs {
		msg, err := marshalEnvelope(streaming.TypeSubscribe, streaming.SubscribePayload{VehicleID: id})
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out
}
