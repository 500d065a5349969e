package clock

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fleetsync/playback/internal/eventloop"
)

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped it
	// before it ran.
	Stop() bool
}

// Scheduler is the only source of delayed callbacks in playback.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// WallScheduler schedules on wall-clock time and runs callbacks on an executor.
type WallScheduler struct {
	exec eventloop.Executor
}

// NewWallScheduler creates a scheduler posting to exec.
func NewWallScheduler(exec eventloop.Executor) *WallScheduler {
	return &WallScheduler{exec: exec}
}

type wallTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (w *wallTimer) Stop() bool {
	w.stopped.Store(true)
	return w.t.Stop()
}

// AfterFunc runs fn on the executor after d. A timer stopped after firing
// but before its callback reached the executor does not run.
func (s *WallScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	w := &wallTimer{}
	w.t = time.AfterFunc(d, func() {
		s.exec.Post(func() {
			if w.stopped.Load() {
				return
			}
			fn()
		})
	})
	return w
}

// Now returns the current wall-clock time.
func (s *WallScheduler) Now() time.Time {
	return time.Now()
}

// ManualScheduler is a deterministic Scheduler driven by Advance.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	s   *ManualScheduler
	at  time.Time
	seq uint64
	fn  func()
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, p := range t.s.timers {
		if p == t {
			t.s.timers = append(t.s.timers[:i], t.s.timers[i+1:]...)
			return true
		}
	}
	return false
}

// NewManualScheduler creates a scheduler whose clock reads start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// AfterFunc registers fn to run when the scheduler is advanced past d.
func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Now returns the scheduler's current time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves time forward by d, running due callbacks in time order.
// Callbacks scheduled while advancing run too if they fall due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		sort.Slice(s.timers, func(i, j int) bool {
			if s.timers[i].at.Equal(s.timers[j].at) {
				return s.timers[i].seq < s.timers[j].seq
			}
			return s.timers[i].at.Before(s.timers[j].at)
		})
		if len(s.timers) == 0 || s.timers[0].at.After(target) {
			s.now = target
			s.mu.Unlock()
			return
		}
		next := s.timers[0]
		s.timers = s.timers[1:]
		s.now = next.at
		s.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of scheduled callbacks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
