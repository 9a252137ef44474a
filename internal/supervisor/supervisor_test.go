package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/firewall"
	"github.com/mcptrust/execgate/internal/lockdown"
	"github.com/mcptrust/execgate/internal/models"
)

type fakeRisk struct{ score atomic.Int64 }

func (f *fakeRisk) Score(ctx context.Context) models.RiskScore {
	s := int(f.score.Load())
	return models.RiskScore{Score: s, Level: models.RiskLevelLow, Timestamp: time.Now()}
}

type fakeIntegrity struct{ violations []models.IntegrityViolation }

func (f *fakeIntegrity) Inspect(ctx context.Context) []models.IntegrityViolation { return f.violations }

type fakeHealth struct{ records atomic.Int64 }

func (f *fakeHealth) Record() models.HealthSnapshot {
	f.records.Add(1)
	return models.HealthSnapshot{Timestamp: time.Now()}
}

type fakeEnforcer struct{ calls int }

func (f *fakeEnforcer) Enforce(ctx context.Context, code, execContext string) (firewall.Decision, error) {
	f.calls++
	return firewall.Decision{Allowed: true, Context: execContext}, nil
}

type fixture struct {
	sup       *Supervisor
	bus       *eventbus.MemoryBus
	risk      *fakeRisk
	integrity *fakeIntegrity
	health    *fakeHealth
	safe      *lockdown.SafeMode
	sovereign *lockdown.Sovereign
	enforcer  *fakeEnforcer
}

func newFixture(cfg Config) fixture {
	bus := eventbus.NewMemoryBus(0)
	em := eventbus.NewEmitter(nil, bus)
	sov := lockdown.NewSovereign(models.SovereignConfig{}, em, nil)
	safe := lockdown.NewSafeMode(lockdown.DefaultSafeModeConfig(), sov, em, nil)
	fx := fixture{
		bus:       bus,
		risk:      &fakeRisk{},
		integrity: &fakeIntegrity{},
		health:    &fakeHealth{},
		safe:      safe,
		sovereign: sov,
		enforcer:  &fakeEnforcer{},
	}
	fx.sup = New(cfg, Deps{
		Health:    fx.health,
		Integrity: fx.integrity,
		Risk:      fx.risk,
		SafeMode:  safe,
		Sovereign: sov,
		Firewall:  fx.enforcer,
	}, em, nil)
	return fx
}

func TestTick_EscalatesOnRisk(t *testing.T) {
	tests := []struct {
		score int
		want  models.SafeModeLevel
	}{
		{10, models.SafeModeNormal},
		{55, models.SafeModeCautious},
		{75, models.SafeModeRestricted},
		{95, models.SafeModeEmergency},
	}
	for _, tt := range tests {
		fx := newFixture(Config{})
		fx.risk.score.Store(int64(tt.score))
		st := fx.sup.Tick(context.Background())
		if st.SafeModeLevel != tt.want {
			t.Errorf("score %d: level = %s, want %s", tt.score, st.SafeModeLevel, tt.want)
		}
		if st.LastRisk == nil || st.LastRisk.Score != tt.score {
			t.Errorf("score %d: last risk = %+v", tt.score, st.LastRisk)
		}
		wantEsc := 0
		if tt.want != models.SafeModeNormal {
			wantEsc = 1
		}
		if st.Escalations != wantEsc || fx.bus.Count(eventbus.TypeGuardianEscalated) != wantEsc {
			t.Errorf("score %d: escalations = %d", tt.score, st.Escalations)
		}
		if fx.bus.Count(eventbus.TypeGuardianTick) != 1 || fx.health.records.Load() != 1 {
			t.Errorf("score %d: tick side effects missing", tt.score)
		}
	}
}

func TestTick_TamperLockdown(t *testing.T) {
	for _, lock := range []bool{false, true} {
		fx := newFixture(Config{LockdownOnTamper: lock})
		fx.integrity.violations = []models.IntegrityViolation{{Path: "/etc/app.conf", Type: models.ViolationModified}}
		st := fx.sup.Tick(context.Background())
		if st.Violations != 1 || fx.bus.Count(eventbus.TypeGuardianTamper) != 1 {
			t.Errorf("lock=%v: status = %+v", lock, st)
		}
		if fx.sovereign.Enabled() != lock || st.TamperLockdown != lock {
			t.Errorf("lock=%v: sovereign enabled = %v", lock, fx.sovereign.Enabled())
		}
	}
}

func TestTick_NoDeps(t *testing.T) {
	s := New(Config{}, Deps{}, nil, nil)
	st := s.Tick(context.Background())
	if st.Ticks != 1 || st.LastRisk != nil {
		t.Errorf("status = %+v", st)
	}
}

func TestStartStop(t *testing.T) {
	fx := newFixture(Config{Interval: 5 * time.Millisecond})
	ctx := context.Background()
	if err := fx.sup.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := fx.sup.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fx.sup.Status().Ticks < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	fx.sup.Stop()
	st := fx.sup.Status()
	if st.Ticks < 3 {
		t.Errorf("ticks = %d", st.Ticks)
	}
	if st.Running {
		t.Error("still running after Stop")
	}
	fx.sup.Stop()

	if err := fx.sup.Start(ctx); err != nil {
		t.Errorf("restart: %v", err)
	}
	fx.sup.Stop()
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	fx := newFixture(Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	if err := fx.sup.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for fx.sup.Status().Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fx.sup.Status().Running {
		t.Error("loop did not exit on cancel")
	}
}

func TestProtectExecution(t *testing.T) {
	fx := newFixture(Config{})
	ctx := context.Background()

	if _, err := fx.sup.ProtectExecution(ctx, "1+1", "default"); err != nil {
		t.Fatalf("normal: %v", err)
	}
	if fx.enforcer.calls != 1 {
		t.Errorf("enforcer calls = %d", fx.enforcer.calls)
	}

	if err := fx.safe.Activate(ctx, models.SafeModeRestricted, "test", "ops"); err != nil {
		t.Fatal(err)
	}
	_, err := fx.sup.ProtectExecution(ctx, "1+1", "default")
	if cat, _ := models.DenialCategoryOf(err); cat != models.DenialSafeMode {
		t.Fatalf("restricted err = %v", err)
	}
	if fx.enforcer.calls != 1 {
		t.Error("firewall consulted after safe mode denial")
	}
}
