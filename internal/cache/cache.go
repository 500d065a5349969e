package cache

import (
	"sync"

	"github.com/fleetsync/playback/pkg/core"
)

// DefaultCapacity bounds the number of windows kept by NewPlaybackCache.
const DefaultCapacity = 16

// Key identifies a fetched playback window.
type Key struct {
	VehicleID string
	From      int64
	To        int64
}

// KeyFor builds the key for a vehicle and window.
func KeyFor(vehicleID string, r core.TimeRange) Key {
	return Key{VehicleID: vehicleID, From: r.From, To: r.To}
}

// Entry is one fetched window.
type Entry struct {
	Replay *core.ReplaySet
	Videos []core.VideoTimeline
}

// PlaybackCache keeps recently fetched windows so re-entering a window after
// a scrub or reselect does not hit storage again. Oldest windows are evicted
// first.
type PlaybackCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]Entry
	order    []Key
}

// NewPlaybackCache creates a cache holding at most capacity windows.
func NewPlaybackCache(capacity int) *PlaybackCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &PlaybackCache{
		capacity: capacity,
		entries:  make(map[Key]Entry),
	}
}

func (c *PlaybackCache) Get(k Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k]
	return e, ok
}

func (c *PlaybackCache) Put(k Key, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; !ok {
		c.order = append(c.order, k)
	}
	c.entries[k] = e
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// DeleteVehicle drops every window of a vehicle.
func (c *PlaybackCache) DeleteVehicle(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.order[:0]
	for _, k := range c.order {
		if k.VehicleID == vehicleID {
			delete(c.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
}

func (c *PlaybackCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *PlaybackCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]Entry)
	c.order = nil
}
