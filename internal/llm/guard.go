package llm

import (
	"sync"
	"time"
)

// Guard trips after maxFailures consecutive failures and keeps a provider
// disabled for cooldown.
type Guard struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu            sync.Mutex
	failures      int
	disabledUntil time.Time
}

func NewGuard(maxFailures int, cooldown time.Duration) *Guard {
	return &Guard{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

func (g *Guard) Allow() bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.disabledUntil.IsZero() {
		return true
	}
	return g.now().After(g.disabledUntil)
}

func (g *Guard) RecordFailure() {
	if g == nil || g.maxFailures <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
	if g.failures >= g.maxFailures {
		g.disabledUntil = g.now().Add(g.cooldown)
	}
}

func (g *Guard) RecordSuccess() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.disabledUntil = time.Time{}
}

func (g *Guard) Failures() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}
