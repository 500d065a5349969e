// Package eventloop runs every playback callback on a single goroutine.
//
// Clock ticks, live pushes, video events, fetch completions and user
// commands are all posted here and execute to completion one at a time, so
// playback state needs no locking.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fleetsync/playback/internal/channel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fleetsync/playback/internal/eventloop"

// ErrClosed is returned when posting to a stopped loop.
var ErrClosed = errors.New("event loop closed")

// Executor accepts callbacks for serialized execution.
type Executor interface {
	// Post schedules fn and reports whether it was accepted.
	Post(fn func()) bool
}

// Immediate runs callbacks inline on the caller's goroutine.
type Immediate struct{}

// Post runs fn before returning.
func (Immediate) Post(fn func()) bool {
	fn()
	return true
}

// Loop is the goroutine-backed Executor.
type Loop struct {
	jobs   channel.Channel[func()]
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	panics    metric.Int64Counter
}

// New creates a loop with the given queue size.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(size int, logger *slog.Logger) (*Loop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		jobs:   channel.New[func()](size),
		done:   make(chan struct{}),
		logger: logger,
	}

	m := otel.Meter(instrumentationName)

	var err error
	l.queueSize, err = m.Int64ObservableGauge(
		"eventloop.queue.size",
		metric.WithDescription("Callbacks waiting to run on the event loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(l.queueSize, int64(l.jobs.Len()))
			return nil
		},
		l.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	l.processed, err = m.Int64Counter(
		"eventloop.callbacks.processed",
		metric.WithDescription("Total callbacks executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	l.panics, err = m.Int64Counter(
		"eventloop.callbacks.panicked",
		metric.WithDescription("Callbacks that panicked and were recovered"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating panic counter: %w", err)
	}

	return l, nil
}

// Run executes posted callbacks until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case fn := <-l.jobs.Receive():
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(context.Background(), 1)
			l.logger.Error("event loop callback panicked", "panic", r)
		}
	}()
	fn()
	l.processed.Add(context.Background(), 1)
}

// Post queues fn. It blocks while the queue is full and returns false once
// the loop is closed. Never call Post from a callback while the queue may be
// full.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	return l.jobs.SendUntil(l.done, fn)
}

// Call runs fn on the loop and waits for its result.
// It must not be called from a loop callback.
func (l *Loop) Call(fn func() (any, error)) (any, error) {
	type result struct {
		v   any
		err error
	}
	out := make(chan result, 1)
	if !l.Post(func() {
		v, err := fn()
		out <- result{v, err}
	}) {
		return nil, ErrClosed
	}
	select {
	case r := <-out:
		return r.v, r.err
	case <-l.done:
		return nil, ErrClosed
	}
}

// Len returns the number of queued callbacks.
func (l *Loop) Len() int {
	return l.jobs.Len()
}

// Close stops the loop. Queued callbacks are abandoned.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}

// Queue holds posted callbacks until Drain runs them on the caller's
// goroutine. Post is safe from any goroutine.
type Queue struct {
	mu  sync.Mutex
	fns []func()
}

// Post appends fn.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
	return true
}

// Len returns the number of pending callbacks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

// Drain runs callbacks until the queue is empty, including ones posted while
// draining, and returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.fns) == 0 {
			q.mu.Unlock()
			return n
		}
		fn := q.fns[0]
		q.fns = q.fns[1:]
		q.mu.Unlock()
		fn()
		n++
	}
}
