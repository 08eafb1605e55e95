package env

import "sync"

// Capabilities is a CapabilityProbe backed by a set of registered names.
type Capabilities struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewCapabilities registers the given names.
func NewCapabilities(names ...string) *Capabilities {
	c := &Capabilities{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		c.names[n] = struct{}{}
	}
	return c
}

// Register marks names as available.
func (c *Capabilities) Register(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.names == nil {
		c.names = make(map[string]struct{}, len(names))
	}
	for _, n := range names {
		c.names[n] = struct{}{}
	}
}

// Unregister marks names as unavailable.
func (c *Capabilities) Unregister(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		delete(c.names, n)
	}
}

// IsAvailable implements condition.CapabilityProbe.
func (c *Capabilities) IsAvailable(name string) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[name]
	return ok
}
