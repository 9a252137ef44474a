package lockdown

import (
	"context"
	"testing"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
)

func newSovereign(t *testing.T, defaults models.SovereignConfig) (*Sovereign, *eventbus.MemoryBus) {
	t.Helper()
	bus := eventbus.NewMemoryBus(0)
	return NewSovereign(defaults, eventbus.NewEmitter(nil, bus), nil), bus
}

func TestSovereign_GuardDisabledAllowsEverything(t *testing.T) {
	s, _ := newSovereign(t, models.SovereignConfig{})
	for _, op := range []string{"write", "execute", "delete", "", "health"} {
		if err := s.Guard(context.Background(), op); err != nil {
			t.Errorf("Guard(%q) = %v while disabled", op, err)
		}
	}
}

func TestSovereign_GuardEnabled(t *testing.T) {
	s, bus := newSovereign(t, models.SovereignConfig{})
	ctx := context.Background()
	s.Enable(ctx, "ops", &models.SovereignConfig{AllowedOperations: []string{"read"}})

	if err := s.Guard(ctx, "read"); err != nil {
		t.Errorf("Guard(read) = %v", err)
	}
	err := s.Guard(ctx, "write")
	if err == nil {
		t.Fatal("Guard(write) should fail")
	}
	if cat, ok := models.DenialCategoryOf(err); !ok || cat != models.DenialSovereign {
		t.Errorf("category = %v", cat)
	}
	// exact membership, not substring
	if err := s.Guard(ctx, "readwrite"); err == nil {
		t.Error("Guard(readwrite) should fail")
	}
	if st := s.State(); st.BlockedAttempts != 2 {
		t.Errorf("blocked attempts = %d, want 2", st.BlockedAttempts)
	}
	if bus.Count(eventbus.TypeSovereignBlocked) != 2 || bus.Count(eventbus.TypeSovereignEnabled) != 1 {
		t.Errorf("events: blocked=%d enabled=%d", bus.Count(eventbus.TypeSovereignBlocked), bus.Count(eventbus.TypeSovereignEnabled))
	}
}

func TestSovereign_EnableMergesAndResets(t *testing.T) {
	s, _ := newSovereign(t, models.SovereignConfig{RequiredApprovers: 2})
	ctx := context.Background()
	s.Enable(ctx, "a", nil)
	s.Guard(ctx, "execute")

	st := s.Enable(ctx, "b", &models.SovereignConfig{LockdownLevel: "strict"})
	if st.BlockedAttempts != 0 {
		t.Errorf("blocked attempts not reset: %d", st.BlockedAttempts)
	}
	if st.Config.RequiredApprovers != 2 || st.Config.LockdownLevel != "strict" || len(st.Config.AllowedOperations) != 3 {
		t.Errorf("config = %+v", st.Config)
	}
	if st.EnabledBy != "b" || st.EnabledAt.IsZero() {
		t.Errorf("state = %+v", st)
	}
}

func TestSovereign_DisableBypassToken(t *testing.T) {
	s, bus := newSovereign(t, models.SovereignConfig{BypassToken: "s3cret"})
	ctx := context.Background()
	s.Enable(ctx, "ops", nil)

	if s.Disable(ctx, "mallory", "guess") {
		t.Fatal("Disable with wrong token succeeded")
	}
	if !s.Enabled() || s.State().BlockedAttempts != 1 {
		t.Errorf("state after rejected disable = %+v", s.State())
	}
	if !s.Disable(ctx, "ops", "s3cret") {
		t.Fatal("Disable with right token failed")
	}
	if s.Enabled() {
		t.Error("still enabled")
	}
	if bus.Count(eventbus.TypeSovereignDisabled) != 1 {
		t.Error("missing disabled event")
	}
}

func TestSovereign_EmergencyLockdown(t *testing.T) {
	s, _ := newSovereign(t, models.SovereignConfig{})
	ctx := context.Background()
	s.EmergencyLockdown(ctx, "guardian", "tamper")
	if err := s.Guard(ctx, OpHealth); err != nil {
		t.Errorf("health blocked: %v", err)
	}
	if err := s.Guard(ctx, "read"); err == nil {
		t.Error("read allowed during emergency lockdown")
	}
}

type recordingTuner struct {
	factors  []float64
	restored int
}

func (r *recordingTuner) Throttle(f float64) { r.factors = append(r.factors, f) }
func (r *recordingTuner) Restore()           { r.restored++ }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newSafeMode(t *testing.T) (*SafeMode, *Sovereign, *recordingTuner, *clock) {
	t.Helper()
	sov, _ := newSovereign(t, models.SovereignConfig{})
	tuner := &recordingTuner{}
	sm := NewSafeMode(DefaultSafeModeConfig(), sov, nil, nil, tuner)
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	sm.now = c.now
	return sm, sov, tuner, c
}

func TestSafeMode_ThrottleFactors(t *testing.T) {
	sm, _, tuner, _ := newSafeMode(t)
	ctx := context.Background()
	for _, level := range []models.SafeModeLevel{models.SafeModeCautious, models.SafeModeRestricted, models.SafeModeEmergency} {
		if err := sm.Activate(ctx, level, "test", "ops"); err != nil {
			t.Fatal(err)
		}
	}
	want := []float64{0.75, 0.5, 0.1}
	for i, f := range want {
		if tuner.factors[i] != f {
			t.Errorf("factor[%d] = %v, want %v", i, tuner.factors[i], f)
		}
	}
	if err := sm.Activate(ctx, "panic", "x", "y"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestSafeMode_EmergencyForcesSovereign(t *testing.T) {
	sm, sov, tuner, _ := newSafeMode(t)
	ctx := context.Background()
	sm.Activate(ctx, models.SafeModeEmergency, "risk", "ops")

	if !sov.Enabled() {
		t.Fatal("sovereign not enabled")
	}
	if ops := sov.State().Config.AllowedOperations; len(ops) != 1 || ops[0] != OpHealth {
		t.Errorf("allowed = %v", ops)
	}
	if sm.State().AutoRecovery {
		t.Error("emergency must disable auto recovery")
	}

	sm.Deactivate(ctx, "ops")
	if sov.Enabled() {
		t.Error("sovereign still enabled after deactivate")
	}
	if tuner.restored != 1 {
		t.Errorf("restored = %d", tuner.restored)
	}
}

func TestSafeMode_StepDownFromEmergencyReleasesSovereign(t *testing.T) {
	for _, level := range []models.SafeModeLevel{models.SafeModeCautious, models.SafeModeRestricted} {
		t.Run(string(level), func(t *testing.T) {
			sm, sov, _, _ := newSafeMode(t)
			ctx := context.Background()
			sm.Activate(ctx, models.SafeModeEmergency, "risk", "ops")
			if err := sm.Activate(ctx, level, "easing", "ops"); err != nil {
				t.Fatal(err)
			}
			if sov.Enabled() {
				t.Fatal("sovereign still locked after leaving emergency")
			}
			if err := sov.Guard(ctx, "execute"); err != nil {
				t.Errorf("execute blocked at %s: %v", level, err)
			}
			if !sm.State().AutoRecovery {
				t.Error("auto recovery not re-enabled")
			}
		})
	}
}

func TestSafeMode_ManualSovereignSurvivesStepDown(t *testing.T) {
	sm, sov, _, _ := newSafeMode(t)
	ctx := context.Background()
	sov.Enable(ctx, "admin", nil)
	sm.Activate(ctx, models.SafeModeRestricted, "risk", "ops")
	sm.Activate(ctx, models.SafeModeCautious, "easing", "ops")
	if !sov.Enabled() {
		t.Error("safe mode released a lockdown it did not force")
	}
}

func TestSafeMode_IsOperationAllowed(t *testing.T) {
	tests := []struct {
		level models.SafeModeLevel
		op    string
		want  bool
	}{
		{models.SafeModeNormal, "delete_table", true},
		{models.SafeModeCautious, "delete_table", false},
		{models.SafeModeCautious, "execute", true},
		{models.SafeModeCautious, "read", true},
		{models.SafeModeRestricted, "execute", false},
		{models.SafeModeRestricted, "list_zones", true},
		{models.SafeModeRestricted, "GetStatus", true},
		{models.SafeModeRestricted, "read_and_delete", false},
		{models.SafeModeEmergency, "read", false},
		{models.SafeModeEmergency, "health", true},
	}
	for _, tt := range tests {
		sm, _, _, _ := newSafeMode(t)
		if tt.level != models.SafeModeNormal {
			sm.Activate(context.Background(), tt.level, "test", "ops")
		}
		if got := sm.IsOperationAllowed(tt.op); got != tt.want {
			t.Errorf("%s/%s = %v, want %v", tt.level, tt.op, got, tt.want)
		}
		if err := sm.Check(tt.op); (err == nil) != tt.want {
			t.Errorf("Check %s/%s = %v", tt.level, tt.op, err)
		}
	}
}

func TestSafeMode_AutoEscalate(t *testing.T) {
	tests := []struct {
		score int
		want  models.SafeModeLevel
	}{
		{10, models.SafeModeNormal},
		{50, models.SafeModeCautious},
		{70, models.SafeModeRestricted},
		{95, models.SafeModeEmergency},
	}
	for _, tt := range tests {
		sm, _, _, _ := newSafeMode(t)
		sm.AutoEscalate(context.Background(), tt.score)
		if got := sm.State().Level; got != tt.want {
			t.Errorf("AutoEscalate(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestSafeMode_AutoEscalateNeverDowngrades(t *testing.T) {
	sm, _, _, _ := newSafeMode(t)
	ctx := context.Background()
	sm.AutoEscalate(ctx, 75)
	if sm.AutoEscalate(ctx, 55) {
		t.Error("escalate to a lower level reported a change")
	}
	if sm.State().Level != models.SafeModeRestricted {
		t.Errorf("level = %s", sm.State().Level)
	}
}

func TestSafeMode_AutoRecoverHysteresis(t *testing.T) {
	sm, _, tuner, c := newSafeMode(t)
	ctx := context.Background()
	sm.AutoEscalate(ctx, 60)

	c.t = c.t.Add(59 * time.Second)
	if sm.AutoRecover(ctx, 0) {
		t.Fatal("recovered before 60s of stability")
	}
	c.t = c.t.Add(time.Second)
	if sm.AutoRecover(ctx, 30) {
		t.Fatal("recovered at score 30")
	}
	if !sm.AutoRecover(ctx, 29) {
		t.Fatal("did not recover")
	}
	if sm.State().Level != models.SafeModeNormal || tuner.restored != 1 {
		t.Errorf("state = %+v, restored = %d", sm.State(), tuner.restored)
	}
}

func TestSafeMode_NoAutoRecoverFromEmergency(t *testing.T) {
	sm, _, _, c := newSafeMode(t)
	ctx := context.Background()
	sm.AutoEscalate(ctx, 95)
	c.t = c.t.Add(time.Hour)
	if sm.AutoRecover(ctx, 0) {
		t.Error("auto-recovered from emergency")
	}
}
