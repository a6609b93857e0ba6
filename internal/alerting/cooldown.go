package alerting

import (
	"sync"
	"time"
)

// DefaultCooldownWindow is the minimum time between two alerts for the same identity.
const DefaultCooldownWindow = 30 * time.Second

// State is the cooldown state of one identity.
type State int

const (
	StateIdle State = iota
	StateSuppressing
)

func (s State) String() string {
	if s == StateSuppressing {
		return "suppressing"
	}
	return "idle"
}

// CooldownTracker remembers when each identity last alerted. Entries expire lazily on
// query; Sweep removes expired entries to bound memory.
type CooldownTracker struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

// NewCooldownTracker creates a tracker with the given window.
func NewCooldownTracker(window time.Duration) *CooldownTracker {
	return &CooldownTracker{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Window returns the cooldown window.
func (c *CooldownTracker) Window() time.Duration {
	return c.window
}

// ShouldAlert reports whether identityID may alert at now. When it returns true the
// alert is recorded and later calls within the window return false.
func (c *CooldownTracker) ShouldAlert(identityID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suppressing(identityID, now) {
		return false
	}
	c.last[identityID] = now
	return true
}

// State returns the state of identityID at now without changing it.
func (c *CooldownTracker) State(identityID string, now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.suppressing(identityID, now) {
		return StateSuppressing
	}
	return StateIdle
}

// Sweep drops every entry whose window has elapsed at now and returns how many were removed.
func (c *CooldownTracker) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id := range c.last {
		if !c.suppressing(id, now) {
			delete(c.last, id)
			removed++
		}
	}
	return removed
}

// Forget drops the state of identityID.
func (c *CooldownTracker) Forget(identityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, identityID)
}

// Len returns the number of tracked identities, expired or not.
func (c *CooldownTracker) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

// suppressing must be called with mu held. Timestamps earlier than the last alert
// count as inside the window.
func (c *CooldownTracker) suppressing(identityID string, now time.Time) bool {
	last, ok := c.last[identityID]
	if !ok {
		return false
	}
	return now.Sub(last) < c.window
}
