// Package lockdown holds the two kernel lockdown state machines: Sovereign
// Mode, an explicit operation allow-list, and Safe Mode, a graded
// throttle that can force Sovereign Mode on.
package lockdown

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "lockdown"

// OpHealth is the only operation an emergency lockdown lets through.
const OpHealth = "health"

// DefaultSovereignConfig is used for any field Enable leaves unset.
func DefaultSovereignConfig() models.SovereignConfig {
	return models.SovereignConfig{
		AllowedOperations: []string{OpHealth, "read", "status"},
		RequiredApprovers: 1,
		LockdownLevel:     "standard",
	}
}

// Sovereign is the process-wide Sovereign Mode gate.
type Sovereign struct {
	defaults models.SovereignConfig
	emitter  *eventbus.Emitter
	log      logging.Logger
	now      func() time.Time

	mu    sync.Mutex
	state models.SovereignState
}

// NewSovereign builds a disabled gate. Empty fields of defaults fall back
// to DefaultSovereignConfig.
func NewSovereign(defaults models.SovereignConfig, emitter *eventbus.Emitter, log logging.Logger) *Sovereign {
	return &Sovereign{
		defaults: merge(DefaultSovereignConfig(), defaults),
		emitter:  emitter,
		log:      logging.OrNop(log),
		now:      time.Now,
	}
}

// merge overlays the non-zero fields of partial on base.
func merge(base, partial models.SovereignConfig) models.SovereignConfig {
	out := base.Clone()
	if partial.AllowedOperations != nil {
		out.AllowedOperations = append([]string(nil), partial.AllowedOperations...)
	}
	if partial.RequiredApprovers > 0 {
		out.RequiredApprovers = partial.RequiredApprovers
	}
	if partial.LockdownLevel != "" {
		out.LockdownLevel = partial.LockdownLevel
	}
	if partial.BypassToken != "" {
		out.BypassToken = partial.BypassToken
	}
	return out
}

// Enable turns the gate on, merging partial (may be nil) over the
// defaults and resetting the blocked-attempt counter.
func (s *Sovereign) Enable(ctx context.Context, by string, partial *models.SovereignConfig) models.SovereignState {
	cfg := s.defaults.Clone()
	if partial != nil {
		cfg = merge(cfg, *partial)
	}

	s.mu.Lock()
	s.state = models.SovereignState{
		Enabled:   true,
		EnabledAt: s.now().UTC(),
		EnabledBy: by,
		Config:    cfg,
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Warn(component, "sovereign mode enabled", "by", by, "allowed", cfg.AllowedOperations, "level", cfg.LockdownLevel)
	s.emitter.Emit(ctx, eventbus.TypeSovereignEnabled, map[string]any{
		"by":                by,
		"allowedOperations": cfg.AllowedOperations,
		"lockdownLevel":     cfg.LockdownLevel,
	})
	return snap
}

// EmergencyLockdown enables the gate with only health allowed.
func (s *Sovereign) EmergencyLockdown(ctx context.Context, by, reason string) models.SovereignState {
	s.log.Error(component, "emergency lockdown", "by", by, "reason", reason)
	return s.Enable(ctx, by, &models.SovereignConfig{
		AllowedOperations: []string{OpHealth},
		LockdownLevel:     "emergency",
	})
}

// Disable turns the gate off. When a bypass token is configured and the
// supplied one does not match, it fails closed: the gate stays on, the
// attempt is counted and false is returned.
func (s *Sovereign) Disable(ctx context.Context, by, bypassToken string) bool {
	s.mu.Lock()
	if !s.state.Enabled {
		s.mu.Unlock()
		return true
	}
	if want := s.state.Config.BypassToken; want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(bypassToken)) != 1 {
		s.state.BlockedAttempts++
		attempts := s.state.BlockedAttempts
		s.mu.Unlock()

		s.log.Warn(component, "sovereign disable rejected", "by", by, "blocked_attempts", attempts)
		s.emitter.Emit(ctx, eventbus.TypeSovereignBlocked, map[string]any{
			"operation": "disable",
			"by":        by,
			"reason":    "bypass token mismatch",
		})
		return false
	}
	s.mu.Unlock()
	s.release(ctx, by)
	return true
}

// release disables without a token check.
func (s *Sovereign) release(ctx context.Context, by string) {
	s.mu.Lock()
	wasEnabled := s.state.Enabled
	blocked := s.state.BlockedAttempts
	s.state = models.SovereignState{Config: s.defaults.Clone(), BlockedAttempts: blocked}
	s.mu.Unlock()

	if !wasEnabled {
		return
	}
	s.log.Info(component, "sovereign mode disabled", "by", by)
	s.emitter.Emit(ctx, eventbus.TypeSovereignDisabled, map[string]any{"by": by})
}

// Guard returns a sovereign denial if the gate is on and operation is not
// allowed. With the gate off every operation passes.
func (s *Sovereign) Guard(ctx context.Context, operation string) error {
	s.mu.Lock()
	if !s.state.Enabled || slices.Contains(s.state.Config.AllowedOperations, operation) {
		s.mu.Unlock()
		return nil
	}
	s.state.BlockedAttempts++
	attempts := s.state.BlockedAttempts
	allowed := append([]string(nil), s.state.Config.AllowedOperations...)
	s.mu.Unlock()

	s.emitter.Emit(ctx, eventbus.TypeSovereignBlocked, map[string]any{
		"operation":       operation,
		"blockedAttempts": attempts,
	})
	return &models.DenialError{
		Category: models.DenialSovereign,
		Reason:   fmt.Sprintf("operation %q blocked by sovereign mode", operation),
		Details:  map[string]any{"allowedOperations": allowed},
	}
}

// Permits is Guard without side effects.
func (s *Sovereign) Permits(operation string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Enabled || slices.Contains(s.state.Config.AllowedOperations, operation)
}

// Enabled reports whether the gate is on.
func (s *Sovereign) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Enabled
}

// State returns a snapshot.
func (s *Sovereign) State() models.SovereignState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Sovereign) snapshotLocked() models.SovereignState {
	snap := s.state
	snap.Config = s.state.Config.Clone()
	return snap
}
