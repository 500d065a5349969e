package cache

import (
	"sync"

	"github.com/fleetsync/playback/pkg/core"
)

// ProfileCache maps vehicle ids to their loaded profiles.
type ProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]core.VehicleProfile
}

// NewProfileCache creates a new ProfileCache
func NewProfileCache() *ProfileCache {
	return &ProfileCache{
		profiles: make(map[string]core.VehicleProfile),
	}
}

// Get retrieves a profile by vehicle id
func (c *ProfileCache) Get(vehicleID string) (core.VehicleProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[vehicleID]
	return p, ok
}

// Set stores a profile
func (c *ProfileCache) Set(p core.VehicleProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.VehicleID] = p
}

// Delete removes a profile by vehicle id
func (c *ProfileCache) Delete(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, vehicleID)
}

// Reset clears all profiles from the cache
func (c *ProfileCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles = make(map[string]core.VehicleProfile)
}
