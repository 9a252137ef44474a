// Package kernel wires every governance component from one Config. Each
// component is built exactly once and shared by reference.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mcptrust/execgate/internal/audit"
	"github.com/mcptrust/execgate/internal/classifier"
	"github.com/mcptrust/execgate/internal/config"
	"github.com/mcptrust/execgate/internal/crypto"
	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/firewall"
	"github.com/mcptrust/execgate/internal/governance"
	"github.com/mcptrust/execgate/internal/health"
	"github.com/mcptrust/execgate/internal/identity"
	"github.com/mcptrust/execgate/internal/integrity"
	"github.com/mcptrust/execgate/internal/llm"
	"github.com/mcptrust/execgate/internal/lockdown"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/mcptrust/execgate/internal/pipeline"
	"github.com/mcptrust/execgate/internal/risk"
	"github.com/mcptrust/execgate/internal/rulebook"
	"github.com/mcptrust/execgate/internal/supervisor"
	"github.com/mcptrust/execgate/internal/threat"
	"github.com/mcptrust/execgate/internal/zone"
)

const component = "kernel"

// Kernel holds the live component graph.
type Kernel struct {
	Config *config.Config
	Log    logging.Logger

	Bus     *eventbus.MemoryBus
	Emitter *eventbus.Emitter
	Audit   *audit.Recorder
	Trail   *audit.Trail

	Matrix     *threat.Matrix
	Rulebook   *rulebook.Book
	Analyzer   *llm.Adapter
	Classifier *classifier.Classifier
	Health     *health.Monitor
	Integrity  *integrity.Guardian
	Risk       *risk.Engine
	Sovereign  *lockdown.Sovereign
	SafeMode   *lockdown.SafeMode
	Zones      *zone.Manager
	Limiter    *zone.RateLimiter
	Executor   *zone.Executor
	Chains     *identity.ChainManager
	Issuer     *identity.TokenIssuer
	Verifier   *identity.Verifier
	Firewall   *firewall.Firewall
	Pipeline   *pipeline.Pipeline
	Governance *governance.Engine
	Supervisor *supervisor.Supervisor

	closers []func() error
}

type options struct {
	runtime    zone.Runtime
	sampler    health.Sampler
	auditStore audit.Store
	publishers []eventbus.Publisher
}

type Option func(*options)

// WithRuntime replaces the configured interpreter.
func WithRuntime(r zone.Runtime) Option { return func(o *options) { o.runtime = r } }

// WithSampler replaces the process vitals sampler.
func WithSampler(s health.Sampler) Option { return func(o *options) { o.sampler = s } }

// WithAuditStore replaces the configured audit backend.
func WithAuditStore(s audit.Store) Option { return func(o *options) { o.auditStore = s } }

// WithPublisher adds an event publisher next to the in-memory bus.
func WithPublisher(p eventbus.Publisher) Option {
	return func(o *options) { o.publishers = append(o.publishers, p) }
}

// New builds the kernel. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, log logging.Logger, opts ...Option) (*Kernel, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log = logging.OrNop(log)
	k := &Kernel{Config: cfg, Log: log}
	if err := k.build(ctx, o); err != nil {
		_ = k.Close()
		return nil, err
	}
	log.Debug(component, "kernel ready", "llm_providers", k.Analyzer.Providers(), "rules", len(k.Rulebook.Rules()))
	return k, nil
}

func (k *Kernel) build(ctx context.Context, o options) error {
	cfg, log := k.Config, k.Log

	// events
	k.Bus = eventbus.NewMemoryBus(0)
	publishers := append([]eventbus.Publisher{k.Bus}, o.publishers...)
	if cfg.Events.Redis.Addr != "" {
		client := eventbus.DialRedis(cfg.Events.Redis)
		rp := eventbus.NewRedisPublisher(client, cfg.Events.Redis, log)
		publishers = append(publishers, rp)
		k.closers = append(k.closers, rp.Close, client.Close)
	}
	k.Emitter = eventbus.NewEmitter(log, publishers...)

	// audit
	store, err := k.openAudit(ctx, o.auditStore)
	if err != nil {
		return err
	}
	k.Audit = audit.NewRecorder(store, log)
	k.Trail = audit.NewTrail(k.Audit)

	// static analysis
	k.Matrix = threat.NewMatrix()
	if err := k.Matrix.Register(cfg.Threat.Patterns...); err != nil {
		return fmt.Errorf("invalid threat patterns: %w", err)
	}
	k.Rulebook, err = rulebook.FromPreset(cfg.Rulebook.Preset, cfg.Rulebook.Rules, cfg.Rulebook.Allowlist)
	if err != nil {
		return fmt.Errorf("invalid rulebook: %w", err)
	}
	k.Analyzer, err = llm.FromConfig(cfg.LLM, log)
	if err != nil {
		return err
	}
	k.Classifier = classifier.New(k.Matrix, k.Analyzer)

	// health and integrity
	sampler := o.sampler
	if sampler == nil {
		sampler = health.NewRuntimeSampler()
	}
	k.Health = health.NewMonitor(sampler, k.Emitter, log)
	k.Integrity = integrity.NewGuardian(k.Emitter, log)
	if err := k.loadIntegrity(ctx); err != nil {
		return err
	}

	// lockdown and zones
	k.Sovereign = lockdown.NewSovereign(cfg.Sovereign.Resolved(), k.Emitter, log)
	k.Zones = zone.NewManager(log)
	k.Limiter = zone.NewRateLimiter(cfg.Zone.Limits)
	k.SafeMode = lockdown.NewSafeMode(cfg.SafeMode, k.Sovereign, k.Emitter, log, k.Limiter)
	runtime := o.runtime
	if runtime == nil {
		runtime = zone.NewProcessRuntime(cfg.Runtime.Argv...)
	}
	k.Executor = zone.NewExecutor(runtime, cfg.Zone.DefaultTimeout, log)

	// firewall, identity, pipeline
	k.Firewall = firewall.New(k.Sovereign, k.Rulebook, k.Classifier, k.Emitter, log)
	k.Risk = risk.NewEngine(k.Health, k.Integrity, cfg.Risk.Weights, log, k.Integrity, k.Firewall)
	k.Chains = identity.NewChainManager()
	k.Issuer, err = identity.NewTokenIssuer(0)
	if err != nil {
		return err
	}
	k.Verifier = identity.NewVerifier(k.Issuer)
	k.Pipeline, err = pipeline.New(pipeline.Deps{
		Chains:   k.Chains,
		Zones:    k.Zones,
		Limiter:  k.Limiter,
		Issuer:   k.Issuer,
		Verifier: k.Verifier,
		Firewall: k.Firewall,
		Executor: k.Executor,
		Health:   k.Health,
		Trail:    k.Trail,
		Emitter:  k.Emitter,
	}, log)
	if err != nil {
		return err
	}

	// governance
	gc := cfg.Governance
	k.Governance = governance.NewEngine(governance.Options{
		Guardians: governance.DefaultGuardians(gc.Schemas, gc.Performance, gc.Compliance, gc.Drift),
		Emitter:   k.Emitter,
		Recorder:  k.Audit,
		Log:       log,
	})

	k.Supervisor = supervisor.New(cfg.Guardian, supervisor.Deps{
		Health:    k.Health,
		Integrity: k.Integrity,
		Risk:      k.Risk,
		SafeMode:  k.SafeMode,
		Sovereign: k.Sovereign,
		Firewall:  k.Firewall,
	}, k.Emitter, log)

	return nil
}

func (k *Kernel) openAudit(ctx context.Context, override audit.Store) (audit.Store, error) {
	var (
		store audit.Store
		err   error
	)
	switch {
	case override != nil:
		store = override
	case k.Config.Audit.PostgresDSN != "":
		store, err = audit.NewPostgresStore(ctx, k.Config.Audit.PostgresDSN)
	case k.Config.Audit.Path != "":
		store, err = audit.NewFileStore(k.Config.Audit.Path)
	default:
		store = audit.NewMemoryStore()
	}
	if err != nil {
		return nil, err
	}
	k.closers = append(k.closers, store.Close)
	return store, nil
}

// loadIntegrity restores saved baselines, or records fresh ones for the
// configured paths when no store exists yet.
func (k *Kernel) loadIntegrity(ctx context.Context) error {
	path := k.Config.Integrity.BaselineStore
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if pub := k.Config.Integrity.PublicKey; pub != "" {
				if err := crypto.VerifyFile(path, pub); err != nil {
					return &models.DenialError{
						Category: models.DenialIntegrity,
						Reason:   "baseline store signature check failed",
						Err:      err,
					}
				}
			}
			return k.Integrity.LoadBaselines(path)
		}
	}
	if len(k.Config.Integrity.Paths) == 0 {
		return nil
	}
	if _, err := k.Integrity.RecordBaseline(ctx, k.Config.Integrity.Paths...); err != nil {
		return fmt.Errorf("failed to record integrity baselines: %w", err)
	}
	return nil
}

// Close stops the supervisor and releases stores and connections.
func (k *Kernel) Close() error {
	if k.Supervisor != nil {
		k.Supervisor.Stop()
	}
	var errs []error
	for i := len(k.closers) - 1; i >= 0; i-- {
		if err := k.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	k.closers = nil
	return errors.Join(errs...)
}
