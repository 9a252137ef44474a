// Package supervisor is the kernel's watchdog: on a fixed interval it
// samples health, checks integrity, scores risk and lets safe mode
// escalate or recover.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/firewall"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "supervisor"

// DefaultInterval between ticks.
const DefaultInterval = 30 * time.Second

var ErrAlreadyRunning = errors.New("supervisor already running")

type HealthRecorder interface {
	Record() models.HealthSnapshot
}

type IntegrityInspector interface {
	Inspect(ctx context.Context) []models.IntegrityViolation
}

type RiskScorer interface {
	Score(ctx context.Context) models.RiskScore
}

type SafeModeController interface {
	AutoEscalate(ctx context.Context, riskScore int) bool
	AutoRecover(ctx context.Context, riskScore int) bool
	State() models.SafeModeState
	Check(op string) error
}

type Lockdown interface {
	EmergencyLockdown(ctx context.Context, by, reason string) models.SovereignState
	Enabled() bool
}

type Enforcer interface {
	Enforce(ctx context.Context, code, execContext string) (firewall.Decision, error)
}

// Config for the supervisor.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	// LockdownOnTamper triggers an emergency sovereign lockdown when the
	// integrity check finds violations.
	LockdownOnTamper bool `yaml:"lockdown_on_tamper"`
}

// Deps are the supervised components. Any of them may be nil.
type Deps struct {
	Health    HealthRecorder
	Integrity IntegrityInspector
	Risk      RiskScorer
	SafeMode  SafeModeController
	Sovereign Lockdown
	Firewall  Enforcer
}

// Status is a snapshot of the last tick.
type Status struct {
	Running        bool                 `json:"running"`
	Ticks          int                  `json:"ticks"`
	LastTick       time.Time            `json:"lastTick,omitempty"`
	LastRisk       *models.RiskScore    `json:"lastRisk,omitempty"`
	Violations     int                  `json:"violations"`
	SafeModeLevel  models.SafeModeLevel `json:"safeModeLevel,omitempty"`
	Escalations    int                  `json:"escalations"`
	Recoveries     int                  `json:"recoveries"`
	TamperLockdown bool                 `json:"tamperLockdown,omitempty"`
}

// Supervisor runs Tick in the background between Start and Stop.
type Supervisor struct {
	cfg     Config
	deps    Deps
	emitter *eventbus.Emitter
	log     logging.Logger
	now     func() time.Time

	tickMu sync.Mutex

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, deps Deps, emitter *eventbus.Emitter, log logging.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Supervisor{cfg: cfg, deps: deps, emitter: emitter, log: logging.OrNop(log), now: time.Now}
}

// Tick runs one supervision pass and returns the resulting status.
// Concurrent calls are serialized.
func (s *Supervisor) Tick(ctx context.Context) Status {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.deps.Health != nil {
		s.deps.Health.Record()
	}

	var violations []models.IntegrityViolation
	tamperLockdown := false
	if s.deps.Integrity != nil {
		violations = s.deps.Integrity.Inspect(ctx)
		if len(violations) > 0 {
			tamperLockdown = s.onTamper(ctx, violations)
		}
	}

	var score *models.RiskScore
	escalated, recovered := false, false
	if s.deps.Risk != nil {
		rs := s.deps.Risk.Score(ctx)
		score = &rs
		if s.deps.SafeMode != nil {
			escalated = s.deps.SafeMode.AutoEscalate(ctx, rs.Score)
			if !escalated {
				recovered = s.deps.SafeMode.AutoRecover(ctx, rs.Score)
			}
		}
	}

	s.mu.Lock()
	s.status.Ticks++
	s.status.LastTick = s.now().UTC()
	s.status.LastRisk = score
	s.status.Violations = len(violations)
	s.status.TamperLockdown = s.status.TamperLockdown || tamperLockdown
	if escalated {
		s.status.Escalations++
	}
	if recovered {
		s.status.Recoveries++
	}
	if s.deps.SafeMode != nil {
		s.status.SafeModeLevel = s.deps.SafeMode.State().Level
	}
	st := s.status
	s.mu.Unlock()

	payload := map[string]any{
		"tick":       st.Ticks,
		"violations": st.Violations,
	}
	if score != nil {
		payload["riskScore"] = score.Score
		payload["riskLevel"] = string(score.Level)
	}
	if st.SafeModeLevel != "" {
		payload["safeModeLevel"] = string(st.SafeModeLevel)
	}
	s.emitter.Emit(ctx, eventbus.TypeGuardianTick, payload)
	if escalated {
		s.log.Warn(component, "safe mode escalated", "risk_score", score.Score, "level", string(st.SafeModeLevel))
		s.emitter.Emit(ctx, eventbus.TypeGuardianEscalated, map[string]any{
			"riskScore": score.Score,
			"level":     string(st.SafeModeLevel),
		})
	}
	if recovered {
		s.log.Info(component, "safe mode recovered", "risk_score", score.Score)
	}
	return st
}

func (s *Supervisor) onTamper(ctx context.Context, violations []models.IntegrityViolation) bool {
	paths := make([]string, 0, len(violations))
	for _, v := range violations {
		paths = append(paths, v.Path)
	}
	s.log.Error(component, "integrity violations detected", "count", len(violations), "paths", paths)
	s.emitter.Emit(ctx, eventbus.TypeGuardianTamper, map[string]any{
		"count": len(violations),
		"paths": paths,
	})
	if !s.cfg.LockdownOnTamper || s.deps.Sovereign == nil || s.deps.Sovereign.Enabled() {
		return false
	}
	s.deps.Sovereign.EmergencyLockdown(ctx, component, fmt.Sprintf("%d integrity violation(s)", len(violations)))
	return true
}

// Start runs Tick every interval until ctx is cancelled or Stop is called.
// The first tick runs immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.status.Running = true
	s.mu.Unlock()

	s.log.Info(component, "supervisor started", "interval", s.cfg.Interval.String())
	go s.loop(ctx, done)
	return nil
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.status.Running = false
		s.cancel = nil
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.safeTick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeTick keeps a panicking collaborator from killing the loop.
func (s *Supervisor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(component, "tick panicked", "panic", fmt.Sprint(r))
		}
	}()
	s.Tick(ctx)
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info(component, "supervisor stopped")
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ProtectExecution applies the safe mode gate and then the firewall.
func (s *Supervisor) ProtectExecution(ctx context.Context, code, execContext string) (firewall.Decision, error) {
	if s.deps.SafeMode != nil {
		if err := s.deps.SafeMode.Check(firewall.OpExecute); err != nil {
			return firewall.Decision{Context: execContext, Reason: err.Error()}, err
		}
	}
	if s.deps.Firewall == nil {
		return firewall.Decision{Allowed: true, Context: execContext}, nil
	}
	return s.deps.Firewall.Enforce(ctx, code, execContext)
}
