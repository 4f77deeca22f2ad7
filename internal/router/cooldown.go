package router

import (
	"sort"
	"sync"
	"time"
)

// CooldownTracker remembers when each requested model was last rate limited.
// It is bookkeeping only; the orchestrator never skips a provider because of it.
type CooldownTracker struct {
	mu    sync.Mutex
	marks map[string]time.Time
	now   func() time.Time
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{
		marks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// MarkLimited records the current time for model.
func (c *CooldownTracker) MarkLimited(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[model] = c.now()
}

// IsLimited reports whether model was marked less than window ago.
func (c *CooldownTracker) IsLimited(model string, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.marks[model]
	if !ok {
		return false
	}
	return c.now().Sub(at) < window
}

// CooldownState is one model's entry as reported by Snapshot.
type CooldownState struct {
	Model         string    `json:"model"`
	LastLimitedAt time.Time `json:"last_limited_at"`
	Limited       bool      `json:"limited"`
}

// Snapshot returns every recorded model sorted by name.
func (c *CooldownTracker) Snapshot(window time.Duration) []CooldownState {
	c.mu.Lock()
	now := c.now()
	out := make([]CooldownState, 0, len(c.marks))
	for model, at := range c.marks {
		out = append(out, CooldownState{
			Model:         model,
			LastLimitedAt: at,
			Limited:       now.Sub(at) < window,
		})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
