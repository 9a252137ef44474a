package zone

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/models"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// requestWindow is the sliding window for request counting.
const requestWindow = time.Minute

// Limits are per-zone quotas.
type Limits struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requestsPerMinute"`
	MaxConcurrent     int `yaml:"max_concurrent" json:"maxConcurrent"`
}

func DefaultLimits() Limits {
	return Limits{RequestsPerMinute: 120, MaxConcurrent: 4}
}

// RateLimiter enforces Limits per zone. It also implements the safe mode
// tuner: Throttle scales the base limits, Restore resets them.
type RateLimiter struct {
	base Limits
	now  func() time.Time

	mu       sync.Mutex
	factor   float64
	requests map[string][]time.Time
	running  map[string]map[string]struct{}
}

func NewRateLimiter(base Limits) *RateLimiter {
	return &RateLimiter{
		base:     base,
		now:      time.Now,
		factor:   1,
		requests: make(map[string][]time.Time),
		running:  make(map[string]map[string]struct{}),
	}
}

func scale(n int, factor float64) int {
	if n <= 0 {
		return 0
	}
	return max(1, int(math.Floor(float64(n)*factor)))
}

// Limits returns the effective, possibly throttled, limits.
func (r *RateLimiter) Limits() Limits {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveLocked()
}

func (r *RateLimiter) effectiveLocked() Limits {
	return Limits{
		RequestsPerMinute: scale(r.base.RequestsPerMinute, r.factor),
		MaxConcurrent:     scale(r.base.MaxConcurrent, r.factor),
	}
}

// Throttle sets the effective limits to factor times the base limits.
func (r *RateLimiter) Throttle(factor float64) {
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factor = factor
}

func (r *RateLimiter) Restore() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factor = 1
}

func (r *RateLimiter) pruneLocked(zoneID string, now time.Time) []time.Time {
	cutoff := now.Add(-requestWindow)
	reqs := r.requests[zoneID]
	i := 0
	for i < len(reqs) && !reqs[i].After(cutoff) {
		i++
	}
	reqs = reqs[i:]
	if len(reqs) == 0 {
		delete(r.requests, zoneID)
	} else {
		r.requests[zoneID] = reqs
	}
	return reqs
}

func (r *RateLimiter) checkLocked(zoneID string, reqs []time.Time) error {
	lim := r.effectiveLocked()
	if lim.RequestsPerMinute > 0 && len(reqs) >= lim.RequestsPerMinute {
		return &models.DenialError{
			Category: models.DenialRateLimit,
			Reason:   fmt.Sprintf("zone %s exceeded %d requests per minute", zoneID, lim.RequestsPerMinute),
			Err:      ErrRateLimited,
		}
	}
	if lim.MaxConcurrent > 0 && len(r.running[zoneID]) >= lim.MaxConcurrent {
		return &models.DenialError{
			Category: models.DenialRateLimit,
			Reason:   fmt.Sprintf("zone %s has %d executions running (max %d)", zoneID, len(r.running[zoneID]), lim.MaxConcurrent),
			Err:      ErrRateLimited,
		}
	}
	return nil
}

// Acquire checks the zone's request and concurrency limits and, when both
// allow it, counts the request and takes a slot for execID in one step.
// A zero limit is unlimited. The slot is held until RecordExecutionEnd.
func (r *RateLimiter) Acquire(zoneID, execID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if err := r.checkLocked(zoneID, r.pruneLocked(zoneID, now)); err != nil {
		return err
	}
	r.requests[zoneID] = append(r.requests[zoneID], now)
	set, ok := r.running[zoneID]
	if !ok {
		set = make(map[string]struct{})
		r.running[zoneID] = set
	}
	set[execID] = struct{}{}
	return nil
}

// RecordExecutionEnd releases execID's slot. Releasing an execution that
// never started, or releasing twice, is a no-op that returns false.
func (r *RateLimiter) RecordExecutionEnd(zoneID, execID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.running[zoneID]
	if _, ok := set[execID]; !ok {
		return false
	}
	delete(set, execID)
	if len(set) == 0 {
		delete(r.running, zoneID)
	}
	return true
}

// Running returns the number of executions in flight for the zone.
func (r *RateLimiter) Running(zoneID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running[zoneID])
}
