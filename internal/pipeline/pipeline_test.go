package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcptrust/execgate/internal/audit"
	"github.com/mcptrust/execgate/internal/classifier"
	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/firewall"
	"github.com/mcptrust/execgate/internal/health"
	"github.com/mcptrust/execgate/internal/identity"
	"github.com/mcptrust/execgate/internal/llm"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/mcptrust/execgate/internal/rulebook"
	"github.com/mcptrust/execgate/internal/threat"
	"github.com/mcptrust/execgate/internal/zone"
)

// countingLimiter wraps the real limiter and counts slots taken and released.
type countingLimiter struct {
	*zone.RateLimiter
	mu       sync.Mutex
	acquires int
	releases int
}

func (c *countingLimiter) Acquire(zoneID, execID string) error {
	err := c.RateLimiter.Acquire(zoneID, execID)
	if err == nil {
		c.mu.Lock()
		c.acquires++
		c.mu.Unlock()
	}
	return err
}

func (c *countingLimiter) RecordExecutionEnd(zoneID, execID string) bool {
	c.mu.Lock()
	c.releases++
	c.mu.Unlock()
	return c.RateLimiter.RecordExecutionEnd(zoneID, execID)
}

type fixture struct {
	p       *Pipeline
	limiter *countingLimiter
	zones   *zone.Manager
	bus     *eventbus.MemoryBus
	store   *audit.MemoryStore
	monitor *health.Monitor
	issuer  *identity.TokenIssuer
	log     *logging.Recorder
	runs    int
}

// slowProvider stalls intent analysis and then fails, so the adapter
// falls back to the heuristic. It tracks how many calls overlap.
type slowProvider struct {
	delay time.Duration

	mu      sync.Mutex
	active  int
	maxSeen int
}

func (s *slowProvider) Name() string { return "slow" }

func (s *slowProvider) Analyze(ctx context.Context, code, execContext string) (models.IntentAnalysis, error) {
	s.mu.Lock()
	s.active++
	s.maxSeen = max(s.maxSeen, s.active)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
	}
	return models.IntentAnalysis{}, errors.New("backend unavailable")
}

func newFixture(t *testing.T, limits zone.Limits, runtime zone.RuntimeFunc, providers ...llm.Provider) *fixture {
	t.Helper()
	fx := &fixture{}
	if runtime == nil {
		runtime = func(ctx context.Context, code string) (string, error) {
			fx.runs++
			time.Sleep(time.Millisecond)
			return "ok:" + code, nil
		}
	}
	fx.log = logging.NewRecorder()
	fx.bus = eventbus.NewMemoryBus(0)
	em := eventbus.NewEmitter(nil, fx.bus)
	fx.store = audit.NewMemoryStore()
	fx.limiter = &countingLimiter{RateLimiter: zone.NewRateLimiter(limits)}
	fx.zones = zone.NewManager(nil)
	fx.monitor = health.NewMonitor(health.SamplerFunc(func() models.HealthSnapshot {
		return models.HealthSnapshot{Timestamp: time.Now()}
	}), em, nil)

	book, err := rulebook.FromPreset("default", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	analyzer := llm.NewAdapter(time.Second, 3, time.Minute, nil, providers...)
	fw := firewall.New(nil, book, classifier.New(threat.NewMatrix(), analyzer), em, nil)

	fx.issuer, err = identity.NewTokenIssuer(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	fx.p, err = New(Deps{
		Chains:   identity.NewChainManager(),
		Zones:    fx.zones,
		Limiter:  fx.limiter,
		Issuer:   fx.issuer,
		Verifier: identity.NewVerifier(fx.issuer),
		Firewall: fw,
		Executor: zone.NewExecutor(runtime, time.Second, nil),
		Health:   fx.monitor,
		Trail:    audit.NewTrail(audit.NewRecorder(fx.store, nil)),
		Emitter:  em,
	}, fx.log)
	if err != nil {
		t.Fatal(err)
	}
	return fx
}

func TestNew_MissingDeps(t *testing.T) {
	_, err := New(Deps{}, nil)
	if err == nil || !strings.Contains(err.Error(), "executor") {
		t.Errorf("err = %v", err)
	}
}

func TestRun_InfiniteLoopBlocked(t *testing.T) {
	fx := newFixture(t, zone.DefaultLimits(), nil)
	res := fx.p.Run(context.Background(), Request{
		Code:     "while(true){}",
		Context:  "sandbox",
		TenantID: "t1",
		UserID:   "u1",
	})

	if res.Success || !strings.Contains(res.Error, "blocked") {
		t.Fatalf("result = %+v", res)
	}
	if res.Stage != StageFirewall || res.Denial != models.DenialFirewall {
		t.Errorf("stage = %s, denial = %s", res.Stage, res.Denial)
	}
	if fx.limiter.releases != 1 {
		t.Errorf("slot released %d times, want 1", fx.limiter.releases)
	}
	if fx.runs != 0 {
		t.Error("blocked code reached the executor")
	}
	if fx.limiter.Running(res.Audit.ZoneID) != 0 {
		t.Error("slot still held")
	}
	if fx.bus.Count(eventbus.TypePipelineBlocked) != 1 || fx.bus.Count(eventbus.TypeFirewallBlocked) != 1 {
		t.Error("blocked events missing")
	}
	if res.Audit.ProvenanceID == "" || len(fx.store.Entries("provenance.execute")) != 1 {
		t.Error("provenance not recorded")
	}
}

func TestRun_Success(t *testing.T) {
	fx := newFixture(t, zone.DefaultLimits(), nil)
	res := fx.p.Run(context.Background(), Request{
		Code:     "const total = [1, 2, 3].reduce((a, b) => a + b, 0)",
		Context:  "sandbox",
		TenantID: "t1",
		UserID:   "u1",
	})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.HasPrefix(res.Result, "ok:") {
		t.Errorf("result = %q", res.Result)
	}
	if res.Metrics.TotalDurationMs < res.Metrics.ExecutionMs || res.Metrics.ExecutionMs <= 0 {
		t.Errorf("metrics = %+v", res.Metrics)
	}
	if res.Audit.ChainID == "" || res.Audit.ZoneID == "" || res.Audit.ProvenanceID == "" {
		t.Errorf("audit = %+v", res.Audit)
	}
	if fx.limiter.acquires != 1 || fx.limiter.releases != 1 || fx.limiter.Running(res.Audit.ZoneID) != 0 {
		t.Errorf("acquires = %d, releases = %d", fx.limiter.acquires, fx.limiter.releases)
	}
	if b := fx.monitor.Baseline(); b.Count != 1 || b.Failures != 0 {
		t.Errorf("baseline = %+v", b)
	}
	events := fx.bus.Events(eventbus.TypePipelineComplete)
	if len(events) != 1 || events[0].Payload["success"] != true {
		t.Errorf("complete events = %+v", events)
	}
	entries := fx.store.Entries("provenance.execute")
	if len(entries) != 1 || entries[0].Payload["outcome"] != "success" {
		t.Errorf("provenance = %+v", entries)
	}
}

func TestRun_LogsRunEventWithTenant(t *testing.T) {
	fx := newFixture(t, zone.DefaultLimits(), nil)
	fx.p.Run(context.Background(), Request{
		Code:     "const total = [1, 2, 3].reduce((a, b) => a + b, 0)",
		Context:  "sandbox",
		TenantID: "acme",
		UserID:   "u1",
	})

	var found *logging.Entry
	for _, e := range fx.log.Entries(logging.LevelInfo) {
		e := e
		if e.Message == logging.EventPrefix+"pipeline.run" {
			found = &e
		}
	}
	if found == nil {
		t.Fatal("no pipeline.run event logged")
	}
	if found.Fields["tenant_id"] != "acme" || found.Fields["op_id"] == nil {
		t.Errorf("fields = %v", found.Fields)
	}
	if found.Fields["success"] != true {
		t.Errorf("success = %v", found.Fields["success"])
	}
}

func TestRun_RunTrustedSkipsFirewall(t *testing.T) {
	fx := newFixture(t, zone.DefaultLimits(), nil)
	req := Request{Code: "while(true){ break }", Context: "kernel", TenantID: "t1", UserID: "kernel"}
	if res := fx.p.Run(context.Background(), req); res.Success {
		t.Fatal("untrusted run was not blocked")
	}
	res := fx.p.RunTrusted(context.Background(), req)
	if !res.Success {
		t.Fatalf("trusted result = %+v", res)
	}
	if fx.bus.Count(eventbus.TypeFirewallBlocked) != 1 {
		t.Error("trusted run consulted the firewall")
	}
}

func TestRun_ZoneNotActive(t *testing.T) {
	fx := newFixture(t, zone.DefaultLimits(), nil)
	if _, err := fx.zones.EnsureZone("t1"); err != nil {
		t.Fatal(err)
	}
	if err := fx.zones.Suspend("t1", "billing"); err != nil {
		t.Fatal(err)
	}
	res := fx.p.Run(context.Background(), Request{Code: "1", TenantID: "t1", UserID: "u1"})
	if res.Success || res.Stage != StageZone || res.Denial != models.DenialZone {
		t.Fatalf("result = %+v", res)
	}
	if fx.limiter.releases != 1 {
		t.Errorf("releases = %d", fx.limiter.releases)
	}

	res = fx.p.Run(context.Background(), Request{Code: "1", UserID: "u1"})
	if res.Stage != StageZone || !errors.Is(res.Err, zone.ErrNoTenant) {
		t.Errorf("no tenant result = %+v", res)
	}
}

func TestRun_RateLimited(t *testing.T) {
	fx := newFixture(t, zone.Limits{RequestsPerMinute: 1}, nil)
	ctx := context.Background()
	req := Request{Code: "const a = 1", TenantID: "t1", UserID: "u1"}
	if res := fx.p.Run(ctx, req); !res.Success {
		t.Fatalf("first = %+v", res)
	}
	res := fx.p.Run(ctx, req)
	if res.Stage != StageRateLimit || !errors.Is(res.Err, zone.ErrRateLimited) {
		t.Fatalf("second = %+v", res)
	}
	if fx.runs != 1 {
		t.Errorf("runs = %d", fx.runs)
	}
}

func TestRun_Manifest(t *testing.T) {
	fx := newFixture(t, zone.DefaultLimits(), nil)
	m := &identity.Manifest{Name: "engine", Version: "1", TenantID: "t1", Scopes: []string{"execute"}}
	fp, _ := m.Fingerprint()
	ctx := context.Background()

	tests := []struct {
		name    string
		req     Request
		wantOK  bool
		wantErr error
	}{
		{"valid", Request{Manifest: m, ExpectedFingerprint: fp}, true, nil},
		{"fingerprint mismatch", Request{Manifest: m, ExpectedFingerprint: "sha256:bad"}, false, identity.ErrFingerprintMismatch},
		{"scope not granted", Request{Manifest: m, RequiredScopes: []string{"admin"}}, false, identity.ErrMissingScope},
		{"foreign manifest", Request{Manifest: &identity.Manifest{Name: "engine", TenantID: "t2"}}, false, identity.ErrTenantMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Code, req.TenantID, req.UserID = "const a = 1", "t1", "u1"
			before := fx.runs
			res := fx.p.Run(ctx, req)
			if res.Success != tt.wantOK {
				t.Fatalf("result = %+v", res)
			}
			if !tt.wantOK {
				if res.Stage != StageManifest || !errors.Is(res.Err, tt.wantErr) {
					t.Errorf("stage = %s, err = %v", res.Stage, res.Err)
				}
				if fx.runs != before {
					t.Error("executor ran after manifest failure")
				}
			}
		})
	}
}

func TestRun_ExecutionFailures(t *testing.T) {
	tests := []struct {
		name        string
		runtime     zone.RuntimeFunc
		wantTimeout bool
		outcome     string
	}{
		{"runtime error", func(ctx context.Context, code string) (string, error) {
			return "", errors.New("TypeError: x is not a function")
		}, false, "failure"},
		{"timeout", func(ctx context.Context, code string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}, true, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, zone.DefaultLimits(), tt.runtime)
			res := fx.p.Run(context.Background(), Request{
				Code: "const a = 1", TenantID: "t1", UserID: "u1", Timeout: 20 * time.Millisecond,
			})
			if res.Success || res.TimedOut != tt.wantTimeout || res.Stage != StageExecute {
				t.Fatalf("result = %+v", res)
			}
			if res.Denial != "" {
				t.Errorf("execution failure reported as denial %s", res.Denial)
			}
			if fx.limiter.releases != 1 || fx.limiter.Running(res.Audit.ZoneID) != 0 {
				t.Errorf("releases = %d", fx.limiter.releases)
			}
			if b := fx.monitor.Baseline(); b.Failures != 1 {
				t.Errorf("baseline = %+v", b)
			}
			entries := fx.store.Entries("provenance.execute")
			if len(entries) != 1 || entries[0].Payload["outcome"] != tt.outcome {
				t.Errorf("provenance = %+v", entries)
			}
		})
	}
}

func TestRun_ConcurrentSlotsReleased(t *testing.T) {
	fx := newFixture(t, zone.Limits{MaxConcurrent: 64}, func(ctx context.Context, code string) (string, error) {
		return code, nil
	})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx.p.Run(context.Background(), Request{Code: "const a = 1", TenantID: "t1", UserID: "u1"})
		}()
	}
	wg.Wait()
	z, _ := fx.zones.Get("t1")
	if fx.limiter.Running(z.ID) != 0 {
		t.Errorf("running = %d after all runs finished", fx.limiter.Running(z.ID))
	}
	if fx.limiter.releases != 32 {
		t.Errorf("releases = %d", fx.limiter.releases)
	}
}

func TestRun_SlotHeldThroughSlowAnalysis(t *testing.T) {
	slow := &slowProvider{delay: 100 * time.Millisecond}
	fx := newFixture(t, zone.Limits{MaxConcurrent: 1}, func(ctx context.Context, code string) (string, error) {
		return code, nil
	}, slow)

	const n = 8
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = fx.p.Run(context.Background(), Request{Code: "const a = 1", TenantID: "t1", UserID: "u1"})
		}()
	}
	wg.Wait()

	var ok, limited int
	for _, res := range results {
		switch {
		case res.Success:
			ok++
		case res.Stage == StageRateLimit && errors.Is(res.Err, zone.ErrRateLimited):
			limited++
		default:
			t.Errorf("unexpected result %+v", res)
		}
	}
	if ok < 1 || limited < 1 || ok+limited != n {
		t.Errorf("ok = %d, rate limited = %d", ok, limited)
	}
	if slow.maxSeen > 1 {
		t.Errorf("%d analyses overlapped with MaxConcurrent=1", slow.maxSeen)
	}
	if fx.limiter.acquires != ok {
		t.Errorf("acquires = %d, executions = %d", fx.limiter.acquires, ok)
	}
	z, _ := fx.zones.Get("t1")
	if fx.limiter.Running(z.ID) != 0 {
		t.Errorf("running = %d after all runs finished", fx.limiter.Running(z.ID))
	}
}
