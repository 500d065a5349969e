// Package live turns bursty live GPS pushes into evenly paced marker moves.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsync/playback/internal/clock"
	"github.com/fleetsync/playback/internal/eventloop"
	"github.com/fleetsync/playback/internal/queue"
	"github.com/fleetsync/playback/pkg/core"
)

// Defaults for Config.
const (
	DefaultPacketWindow = 10 * time.Second
	DefaultOfflineAfter = 1800 * time.Second
)

// Feed is the live push boundary.
type Feed interface {
	// Subscribe streams sample batches for a vehicle until ctx is cancelled.
	Subscribe(ctx context.Context, vehicleID string) (<-chan []core.PositionSample, error)
}

// EmitFunc receives each paced sample with its animation interval.
type EmitFunc func(sample core.PositionSample, interval time.Duration)

// Config tunes the adapter.
type Config struct {
	PacketWindow time.Duration
	OfflineAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.PacketWindow <= 0 {
		c.PacketWindow = DefaultPacketWindow
	}
	if c.OfflineAfter <= 0 {
		c.OfflineAfter = DefaultOfflineAfter
	}
	return c
}

// Classify derives a sample's status. OFFLINE wins when the fix is older
// than offlineAfter; then NOGPS, HALT, IDLE and RUNNING in that order.
// A sample without a timestamp cannot be placed in time and is DEFAULT.
func Classify(s core.PositionSample, now time.Time, offlineAfter time.Duration) core.Status {
	if s.Timestamp <= 0 {
		return core.StatusDefault
	}
	age := now.Unix() - s.Timestamp
	switch {
	case age > int64(offlineAfter/time.Second):
		return core.StatusOffline
	case s.Flags.NoGPS:
		return core.StatusNoGPS
	case s.Flags.Halted:
		return core.StatusHalt
	case s.Flags.Idling:
		return core.StatusIdle
	default:
		return core.StatusRunning
	}
}

// Adapter consumes a live subscription and replays each batch at
// PacketWindow/N per sample. It runs on the event loop.
type Adapter struct {
	feed   Feed
	exec   eventloop.Executor
	sched  clock.Scheduler
	cfg    Config
	emit   EmitFunc
	logger *slog.Logger

	pending  *queue.Queue[core.PositionSample]
	interval time.Duration
	timer    clock.Timer
	cancel   context.CancelFunc
	gen      uint64
	current  *core.PositionSample
}

// New creates an idle adapter.
func New(feed Feed, exec eventloop.Executor, sched clock.Scheduler, cfg Config, emit EmitFunc, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		feed:    feed,
		exec:    exec,
		sched:   sched,
		cfg:     cfg.withDefaults(),
		emit:    emit,
		logger:  logger,
		pending: queue.New[core.PositionSample](),
	}
}

// Start subscribes to the vehicle's feed without blocking the caller. The
// subscription handshake and every batch are posted back to the event loop;
// results from a stopped subscription are discarded. onFail runs on the loop
// when the subscription cannot be opened.
func (a *Adapter) Start(ctx context.Context, vehicleID string, onFail func(error)) {
	a.Stop()

	subCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	gen := a.gen

	go func() {
		batches, err := a.feed.Subscribe(subCtx, vehicleID)
		if err != nil {
			err = core.NewFetchError("subscribeLivePosition", fmt.Errorf("vehicle %s: %w", vehicleID, err))
			a.exec.Post(func() {
				if gen != a.gen {
					return
				}
				a.Stop()
				if onFail != nil {
					onFail(err)
				}
			})
			return
		}
		for {
			select {
			case <-subCtx.Done():
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				a.exec.Post(func() {
					if gen != a.gen {
						return
					}
					a.Push(batch)
				})
			}
		}
	}()
}

// Push replays a batch. Any batch still animating is abandoned and the new
// batch starts from its first sample.
func (a *Adapter) Push(batch []core.PositionSample) {
	if len(batch) == 0 {
		return
	}
	a.stopTimer()
	if !a.pending.Empty() {
		a.logger.Debug("live batch superseded", "dropped", a.pending.Len())
	}
	a.pending.Clear()

	now := a.sched.Now()
	for _, s := range batch {
		s.Normalize()
		s.Status = Classify(s, now, a.cfg.OfflineAfter)
		a.pending.Push(s)
	}
	a.interval = a.cfg.PacketWindow / time.Duration(len(batch))
	a.playNext()
}

func (a *Adapter) playNext() {
	a.timer = nil
	s, ok := a.pending.Pop()
	if !ok {
		return
	}
	a.current = &s
	a.emit(s, a.interval)
	if !a.pending.Empty() {
		a.timer = a.sched.AfterFunc(a.interval, a.playNext)
	}
}

func (a *Adapter) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Current returns the last emitted sample.
func (a *Adapter) Current() (core.PositionSample, bool) {
	if a.current == nil {
		return core.PositionSample{}, false
	}
	return *a.current, true
}

// Pending returns the number of samples not yet emitted from the batch.
func (a *Adapter) Pending() int {
	return a.pending.Len()
}

// Stop cancels the subscription and any in-flight batch.
func (a *Adapter) Stop() {
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.stopTimer()
	a.pending.Clear()
	a.current = nil
}
