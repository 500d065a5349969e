// Package mode implements the LIVE / STABLE / TIMELINE state machine.
package mode

import (
	"errors"
	"fmt"

	"github.com/fleetsync/playback/internal/clock"
	"github.com/fleetsync/playback/pkg/core"
)

// ErrInvalidTransition is returned for a transition the machine does not allow.
var ErrInvalidTransition = errors.New("invalid mode transition")

// TransitionFunc observes a completed transition.
type TransitionFunc func(from, to core.Mode)

// Controller owns the operating mode and the clock's run state.
type Controller struct {
	mode      core.Mode
	clock     *clock.Clock
	listeners []TransitionFunc
}

// NewController creates a controller in STABLE mode.
func NewController(c *clock.Clock) *Controller {
	return &Controller{mode: core.ModeStable, clock: c}
}

// Mode returns the current mode.
func (c *Controller) Mode() core.Mode {
	return c.mode
}

// OnTransition registers fn for every transition. Listeners run after the
// mode has changed, in registration order.
func (c *Controller) OnTransition(fn TransitionFunc) {
	c.listeners = append(c.listeners, fn)
}

// GoLive enters LIVE from any mode. The clock free-runs from wall-clock
// time for display only.
func (c *Controller) GoLive(now int64) {
	c.clock.Pause()
	c.clock.Start(&now)
	c.transition(core.ModeLive)
}

// EnterTimeline enters TIMELINE from STABLE with the clock at from.
// The caller must have validated the replay set first; thin data is
// rejected with core.ErrNoData and the mode is unchanged.
func (c *Controller) EnterTimeline(set *core.ReplaySet, from int64) error {
	if c.mode != core.ModeStable {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, c.mode, core.ModeTimeline)
	}
	if err := set.Validate(); err != nil {
		return err
	}
	c.clock.Pause()
	c.clock.Seek(from)
	c.transition(core.ModeTimeline)
	c.clock.Start(nil)
	return nil
}

// BeginScrub drops from TIMELINE to STABLE and pauses the clock.
func (c *Controller) BeginScrub() error {
	if c.mode != core.ModeTimeline {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, c.mode, core.ModeStable)
	}
	c.clock.Pause()
	c.transition(core.ModeStable)
	return nil
}

// Stop returns to STABLE from any mode and pauses the clock.
func (c *Controller) Stop() {
	c.clock.Pause()
	if c.mode == core.ModeStable {
		return
	}
	c.transition(core.ModeStable)
}

func (c *Controller) transition(to core.Mode) {
	from := c.mode
	c.mode = to
	for _, fn := range c.listeners {
		fn(from, to)
	}
}
