// Package clock provides the virtual playback clock.
//
// The clock emits one tick per wall-clock second while running and is the
// single timer authority for playback animation. It is not safe for
// concurrent use; drive it from the event loop.
package clock

import "time"

// TickInterval is the wall-clock time between ticks.
const TickInterval = time.Second

type listener struct {
	fn      func(int64)
	removed bool
}

// Clock is a pausable, seekable virtual-time source in epoch seconds.
type Clock struct {
	sched       Scheduler
	virtualTime int64
	running     bool
	timer       Timer

	listeners []*listener
}

// New creates a paused clock at virtual time 0.
func New(s Scheduler) *Clock {
	return &Clock{sched: s}
}

// Start resumes ticking, optionally from a new virtual time.
func (c *Clock) Start(from *int64) {
	if from != nil {
		c.virtualTime = *from
	}
	if c.running {
		return
	}
	c.running = true
	c.schedule()
}

// Pause stops ticking and keeps the virtual time. Idempotent.
func (c *Clock) Pause() {
	if !c.running {
		return
	}
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Seek jumps to an arbitrary virtual time. A running clock keeps ticking
// from the new value.
func (c *Clock) Seek(to int64) {
	c.virtualTime = to
}

// OnTick registers fn for every tick and returns its unsubscribe func.
func (c *Clock) OnTick(fn func(int64)) (unsubscribe func()) {
	l := &listener{fn: fn}
	c.listeners = append(c.listeners, l)
	return func() {
		l.removed = true
		for i, p := range c.listeners {
			if p == l {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Now returns the virtual time.
func (c *Clock) Now() int64 {
	return c.virtualTime
}

// Running reports whether the clock is ticking.
func (c *Clock) Running() bool {
	return c.running
}

// Listeners returns the number of registered tick listeners.
func (c *Clock) Listeners() int {
	return len(c.listeners)
}

// Reset pauses the clock, zeroes virtual time and drops every listener.
func (c *Clock) Reset() {
	c.Pause()
	c.virtualTime = 0
	for _, l := range c.listeners {
		l.removed = true
	}
	c.listeners = nil
}

func (c *Clock) schedule() {
	c.timer = c.sched.AfterFunc(TickInterval, c.tick)
}

func (c *Clock) tick() {
	if !c.running {
		return
	}
	c.virtualTime++
	c.schedule()

	vt := c.virtualTime
	snapshot := make([]*listener, len(c.listeners))
	copy(snapshot, c.listeners)
	for _, l := range snapshot {
		// A listener may pause or seek; later listeners still see this tick,
		// but one unsubscribed mid-tick does not.
		if l.removed {
			continue
		}
		l.fn(vt)
	}
}
