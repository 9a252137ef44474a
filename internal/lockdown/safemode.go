package lockdown

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

// Tuner scales shared rate-limit parameters. Throttle is always relative
// to the tuner's configured base, never compounding.
type Tuner interface {
	Throttle(factor float64)
	Restore()
}

// SafeModeConfig holds the throttle factors and recovery hysteresis.
type SafeModeConfig struct {
	CautiousFactor    float64       `yaml:"cautious_factor"`
	RestrictedFactor  float64       `yaml:"restricted_factor"`
	EmergencyFactor   float64       `yaml:"emergency_factor"`
	RecoverBelow      int           `yaml:"recover_below"`
	StableFor         time.Duration `yaml:"stable_for"`
	EscalateCautious  int           `yaml:"escalate_cautious"`
	EscalateRestrict  int           `yaml:"escalate_restricted"`
	EscalateEmergency int           `yaml:"escalate_emergency"`
}

func DefaultSafeModeConfig() SafeModeConfig {
	return SafeModeConfig{
		CautiousFactor:    0.75,
		RestrictedFactor:  0.5,
		EmergencyFactor:   0.1,
		RecoverBelow:      30,
		StableFor:         60 * time.Second,
		EscalateCautious:  50,
		EscalateRestrict:  70,
		EscalateEmergency: 90,
	}
}

func (c SafeModeConfig) factor(level models.SafeModeLevel) float64 {
	switch level {
	case models.SafeModeCautious:
		return c.CautiousFactor
	case models.SafeModeRestricted:
		return c.RestrictedFactor
	case models.SafeModeEmergency:
		return c.EmergencyFactor
	default:
		return 1
	}
}

var destructiveVerbs = []string{
	"delete", "drop", "remove", "destroy", "truncate", "purge",
	"wipe", "kill", "terminate", "reset", "overwrite",
}

var readVerbs = []string{
	"read", "get", "list", "status", "health", "query",
	"view", "describe", "search", "inspect",
}

func containsAny(op string, verbs []string) bool {
	for _, v := range verbs {
		if strings.Contains(op, v) {
			return true
		}
	}
	return false
}

// SafeMode is the process-wide graded lockdown.
type SafeMode struct {
	cfg       SafeModeConfig
	sovereign *Sovereign
	tuners    []Tuner
	emitter   *eventbus.Emitter
	log       logging.Logger
	now       func() time.Time

	mu              sync.Mutex
	state           models.SafeModeState
	forcedSovereign bool
}

func NewSafeMode(cfg SafeModeConfig, sovereign *Sovereign, emitter *eventbus.Emitter, log logging.Logger, tuners ...Tuner) *SafeMode {
	return &SafeMode{
		cfg:       cfg,
		sovereign: sovereign,
		tuners:    tuners,
		emitter:   emitter,
		log:       logging.OrNop(log),
		now:       time.Now,
		state:     models.SafeModeState{Level: models.SafeModeNormal, AutoRecovery: true},
	}
}

// Activate moves to level. Emergency force-enables Sovereign Mode with
// only health allowed and disables auto recovery. Moving from emergency to
// a lower level releases the forced lockdown.
func (s *SafeMode) Activate(ctx context.Context, level models.SafeModeLevel, reason, by string) error {
	if !level.Valid() {
		return fmt.Errorf("unknown safe mode level %q", level)
	}
	if level == models.SafeModeNormal {
		s.Deactivate(ctx, by)
		return nil
	}

	s.mu.Lock()
	prev := s.state.Level
	s.state = models.SafeModeState{
		Level:        level,
		ActivatedAt:  s.now().UTC(),
		ActivatedBy:  by,
		Reason:       reason,
		AutoRecovery: level != models.SafeModeEmergency,
	}
	force := level == models.SafeModeEmergency
	release := !force && s.forcedSovereign
	s.forcedSovereign = force
	s.mu.Unlock()

	factor := s.cfg.factor(level)
	for _, t := range s.tuners {
		t.Throttle(factor)
	}
	if s.sovereign != nil {
		switch {
		case force:
			s.sovereign.EmergencyLockdown(ctx, by, "safe mode emergency: "+reason)
		case release:
			s.sovereign.release(ctx, by)
		}
	}

	s.log.Warn(component, "safe mode activated", "level", string(level), "previous", string(prev), "reason", reason, "by", by, "throttle", factor)
	s.emitter.Emit(ctx, eventbus.TypeSafeModeActivated, map[string]any{
		"level":    string(level),
		"previous": string(prev),
		"reason":   reason,
		"by":       by,
		"throttle": factor,
	})
	return nil
}

// Deactivate returns to normal, restores throttled parameters and
// releases Sovereign Mode if Safe Mode forced it on.
func (s *SafeMode) Deactivate(ctx context.Context, by string) {
	s.mu.Lock()
	prev := s.state.Level
	forced := s.forcedSovereign
	s.state = models.SafeModeState{Level: models.SafeModeNormal, AutoRecovery: true}
	s.forcedSovereign = false
	s.mu.Unlock()

	if prev == models.SafeModeNormal {
		return
	}
	for _, t := range s.tuners {
		t.Restore()
	}
	if forced && s.sovereign != nil {
		s.sovereign.release(ctx, by)
	}
	s.log.Info(component, "safe mode deactivated", "previous", string(prev), "by", by)
	s.emitter.Emit(ctx, eventbus.TypeSafeModeDeactivate, map[string]any{
		"previous": string(prev),
		"by":       by,
	})
}

// State returns a snapshot.
func (s *SafeMode) State() models.SafeModeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsOperationAllowed classifies op by substring: cautious blocks
// destructive verbs, restricted admits only read verbs, emergency admits
// only health.
func (s *SafeMode) IsOperationAllowed(op string) bool {
	level := s.State().Level
	return operationAllowed(level, strings.ToLower(op))
}

func operationAllowed(level models.SafeModeLevel, op string) bool {
	switch level {
	case models.SafeModeCautious:
		return !containsAny(op, destructiveVerbs)
	case models.SafeModeRestricted:
		return !containsAny(op, destructiveVerbs) && containsAny(op, readVerbs)
	case models.SafeModeEmergency:
		return op == OpHealth
	default:
		return true
	}
}

// Check is IsOperationAllowed as a denial error.
func (s *SafeMode) Check(op string) error {
	level := s.State().Level
	if operationAllowed(level, strings.ToLower(op)) {
		return nil
	}
	return &models.DenialError{
		Category: models.DenialSafeMode,
		Reason:   fmt.Sprintf("operation %q not allowed in safe mode level %s", op, level),
		Details:  map[string]any{"level": string(level)},
	}
}

// AutoEscalate raises the level for a risk score. It never lowers it and
// reports whether the level changed.
func (s *SafeMode) AutoEscalate(ctx context.Context, riskScore int) bool {
	var target models.SafeModeLevel
	switch {
	case riskScore >= s.cfg.EscalateEmergency:
		target = models.SafeModeEmergency
	case riskScore >= s.cfg.EscalateRestrict:
		target = models.SafeModeRestricted
	case riskScore >= s.cfg.EscalateCautious:
		target = models.SafeModeCautious
	default:
		return false
	}
	if target.Rank() <= s.State().Level.Rank() {
		return false
	}
	_ = s.Activate(ctx, target, fmt.Sprintf("risk score %d", riskScore), "auto-escalate")
	return true
}

// AutoRecover returns to normal when the score is below the recovery
// threshold, the current level has held for StableFor, and auto recovery
// is enabled.
func (s *SafeMode) AutoRecover(ctx context.Context, riskScore int) bool {
	st := s.State()
	if st.Level == models.SafeModeNormal || !st.AutoRecovery {
		return false
	}
	if riskScore >= s.cfg.RecoverBelow {
		return false
	}
	if s.now().Sub(st.ActivatedAt) < s.cfg.StableFor {
		return false
	}
	s.Deactivate(ctx, "auto-recover")
	return true
}
