package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fleetsync/playback/internal/channel"
)

// Event is a user command addressed to the playback engine.
type Event struct {
	Command   string
	Payload   json.RawMessage
	Timestamp time.Time
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%s: decoding payload: %w", e.Command, err)
	}
	return nil
}

// Queued is the result of an event accepted by a buffered handler.
const Queued = "queued"

var (
	// ErrUnknownCommand is returned by Dispatch for an unregistered command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrQueueFull is returned when a non-blocking buffered handler is saturated.
	ErrQueueFull = errors.New("command queue full")
)

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(context.Context, Event) (any, error)

// Caller runs fn on another goroutine and waits for its result. The
// playback event loop implements it.
type Caller interface {
	Call(fn func() (any, error)) (any, error)
}

// Logger is the subset of a structured logger the dispatcher writes to.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*route)

// route collects the wrappers requested for one command.
type route struct {
	loop     Caller
	depth    int
	blocking bool
	logged   bool
}

// OnLoop serializes the handler onto c. Handlers that touch playback state
// must use it.
func OnLoop(c Caller) Option {
	return func(r *route) { r.loop = c }
}

// Buffered runs the handler asynchronously behind a queue of the given depth.
func Buffered(depth int) Option {
	return func(r *route) { r.depth = depth }
}

// Blocking makes a buffered handler wait for room instead of dropping.
func Blocking() Option {
	return func(r *route) { r.blocking = true }
}

// Logged logs each event with its duration and outcome.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	logger  Logger
	metrics *instruments

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	lanes    map[string]*lane
}

// New creates a Dispatcher. Metrics go to the global OTel meter, which is a
// no-op until a provider is installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		lanes:    make(map[string]*lane),
	}
	m, err := newInstruments(meter(), d.depths)
	if err != nil {
		return nil, err
	}
	d.metrics = m
	return d, nil
}

// Register installs h for command, replacing any earlier handler. Wrappers
// apply inside out: loop, then queue, then logging.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	var r route
	for _, opt := range opts {
		opt(&r)
	}

	if r.loop != nil {
		h = onLoop(r.loop, h)
	}
	if r.depth > 0 {
		h = d.enqueue(command, r.depth, r.blocking, h)
	}
	if r.logged {
		h = d.logged(command, h)
	}

	d.mu.Lock()
	d.handlers[command] = h
	d.mu.Unlock()
}

// Dispatch routes an event to its registered handler. A zero Timestamp is
// set to the dispatch time.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) (any, error) {
	d.mu.RLock()
	h, ok := d.handlers[e.Command]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, e.Command)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return h(ctx, e)
}

// HasHandler reports whether command is registered.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

// Commands lists the registered command names in order.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for cmd := range d.handlers {
		out = append(out, cmd)
	}
	slices.Sort(out)
	return out
}

// depths reports the backlog of every buffered command.
func (d *Dispatcher) depths() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.lanes))
	for cmd, l := range d.lanes {
		out[cmd] = l.jobs.Len()
	}
	return out
}

func onLoop(c Caller, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) (any, error) {
		return c.Call(func() (any, error) { return h(ctx, e) })
	}
}

// lane is the queue and worker behind one buffered command.
type lane struct {
	jobs channel.Channel[job]
}

type job struct {
	ctx context.Context
	e   Event
}

func (d *Dispatcher) enqueue(command string, depth int, blocking bool, h HandlerFunc) HandlerFunc {
	l := &lane{jobs: channel.NewBuffered[job](depth)}
	d.mu.Lock()
	d.lanes[command] = l
	d.mu.Unlock()

	go func() {
		for j := range l.jobs.Receive() {
			if _, err := h(j.ctx, j.e); err != nil {
				d.logger.Error("queued event failed", "command", command, "error", err)
			}
			d.metrics.processed(command)
		}
	}()

	return func(ctx context.Context, e Event) (any, error) {
		j := job{ctx: context.WithoutCancel(ctx), e: e}
		if blocking {
			l.jobs.Send(j)
			return Queued, nil
		}
		if !l.jobs.TrySend(j) {
			d.metrics.dropped(command)
			return nil, fmt.Errorf("%w: %s", ErrQueueFull, command)
		}
		return Queued, nil
	}
}

func (d *Dispatcher) logged(command string, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "payload", len(e.Payload))
		result, err := h(ctx, e)
		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
			return result, err
		}
		d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		return result, nil
	}
}
