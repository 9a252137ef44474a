// Package pipeline runs code through the full governance sequence:
// identity, zone, rate limit, manifest verification, firewall, isolated
// execution and audit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mcptrust/execgate/internal/audit"
	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/firewall"
	"github.com/mcptrust/execgate/internal/identity"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability"
	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/mcptrust/execgate/internal/observability/otel"
	"github.com/mcptrust/execgate/internal/zone"
)

const component = "pipeline"

// ScopeExecute is required of every manifest token unless the request
// names its own scopes.
const ScopeExecute = "execute"

// Request is one execution request.
type Request struct {
	Code                string             `json:"code"`
	Context             string             `json:"context"`
	TenantID            string             `json:"tenantId"`
	UserID              string             `json:"userId"`
	Engine              string             `json:"engine,omitempty"`
	Manifest            *identity.Manifest `json:"manifest,omitempty"`
	ExpectedFingerprint string             `json:"expectedFingerprint,omitempty"`
	RequiredScopes      []string           `json:"requiredScopes,omitempty"`
	Timeout             time.Duration      `json:"timeout,omitempty"`
	// Trusted skips the firewall. Only the kernel sets it.
	Trusted bool `json:"-"`
}

// Metrics are wall-clock milliseconds.
type Metrics struct {
	TotalDurationMs float64 `json:"totalDurationMs"`
	VerificationMs  float64 `json:"verificationMs"`
	ExecutionMs     float64 `json:"executionMs"`
}

// AuditInfo correlates a result with its audit records.
type AuditInfo struct {
	ChainID      string `json:"chainId,omitempty"`
	ZoneID       string `json:"zoneId,omitempty"`
	ProvenanceID string `json:"provenanceId,omitempty"`
}

// Result of Run. Err carries the underlying error, a *models.DenialError
// for policy rejections.
type Result struct {
	Success  bool                  `json:"success"`
	Result   string                `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
	Denial   models.DenialCategory `json:"denial,omitempty"`
	TimedOut bool                  `json:"timedOut,omitempty"`
	Stage    string                `json:"stage,omitempty"`
	Metrics  Metrics               `json:"metrics"`
	Audit    AuditInfo             `json:"audit"`
	Err      error                 `json:"-"`
}

// Stage names, reported on failures.
const (
	StageIdentity  = "identity"
	StageZone      = "zone"
	StageRateLimit = "rate_limit"
	StageManifest  = "manifest"
	StageFirewall  = "firewall"
	StageExecute   = "execute"
)

type Limiter interface {
	Acquire(zoneID, execID string) error
	RecordExecutionEnd(zoneID, execID string) bool
}

type Executor interface {
	Execute(ctx context.Context, req zone.ExecRequest) zone.ExecResult
}

type Enforcer interface {
	Enforce(ctx context.Context, code, execContext string) (firewall.Decision, error)
}

type ExecutionObserver interface {
	ObserveExecution(d time.Duration, ok bool)
}

// Deps are the pipeline's collaborators. Health, Trail and Emitter may be
// nil.
type Deps struct {
	Chains   *identity.ChainManager
	Zones    *zone.Manager
	Limiter  Limiter
	Issuer   *identity.TokenIssuer
	Verifier *identity.Verifier
	Firewall Enforcer
	Executor Executor
	Health   ExecutionObserver
	Trail    *audit.Trail
	Emitter  *eventbus.Emitter
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	deps Deps
	log  logging.Logger
	now  func() time.Time
}

func New(deps Deps, log logging.Logger) (*Pipeline, error) {
	var missing []error
	if deps.Chains == nil {
		missing = append(missing, errors.New("chain manager"))
	}
	if deps.Zones == nil {
		missing = append(missing, errors.New("zone manager"))
	}
	if deps.Limiter == nil {
		missing = append(missing, errors.New("rate limiter"))
	}
	if deps.Firewall == nil {
		missing = append(missing, errors.New("firewall"))
	}
	if deps.Executor == nil {
		missing = append(missing, errors.New("executor"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: missing dependencies: %w", errors.Join(missing...))
	}
	return &Pipeline{deps: deps, log: logging.OrNop(log), now: time.Now}, nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RunTrusted runs a kernel-originated request without the firewall.
func (p *Pipeline) RunTrusted(ctx context.Context, req Request) Result {
	req.Trusted = true
	return p.Run(ctx, req)
}

// Run executes req. Stage order is fixed; any failure stops the sequence.
// The rate limiter's execution slot is always released on return.
func (p *Pipeline) Run(ctx context.Context, req Request) (res Result) {
	ctx = observability.WithTenant(observability.EnsureOpID(ctx), req.TenantID)
	ctx, span := otel.StartSpan(ctx, "execgate.pipeline.run",
		attribute.String("execgate.tenant_id", req.TenantID),
		attribute.String("execgate.context", req.Context),
		attribute.Bool("execgate.trusted", req.Trusted),
	)
	start := p.now()
	execID := uuid.NewString()
	var zoneID string
	defer func() {
		if zoneID != "" {
			p.deps.Limiter.RecordExecutionEnd(zoneID, execID)
		}
		res.Metrics.TotalDurationMs = ms(p.now().Sub(start))
		span.SetAttributes(
			attribute.Bool("execgate.success", res.Success),
			attribute.String("execgate.stage", res.Stage),
		)
		otel.EndSpan(span, res.Err)
		p.log.Event(ctx, "pipeline.run", map[string]any{
			"success":     res.Success,
			"stage":       res.Stage,
			"chain_id":    res.Audit.ChainID,
			"duration_ms": res.Metrics.TotalDurationMs,
		})
	}()

	// 1. identity
	chain, err := p.deps.Chains.Create(req.TenantID, req.UserID, req.Engine, req.Manifest)
	if err != nil {
		return p.fail(ctx, req, chain, StageIdentity, err, start)
	}
	res.Audit.ChainID = chain.ID

	// 2. zone
	z, err := p.deps.Zones.EnsureZone(req.TenantID)
	if err != nil {
		return p.fail(ctx, req, chain, StageZone, &models.DenialError{Category: models.DenialZone, Reason: err.Error(), Err: err}, start)
	}
	zoneID = z.ID
	if z.Status != zone.StatusActive {
		return p.fail(ctx, req, chain, StageZone, &models.DenialError{
			Category: models.DenialZone,
			Reason:   fmt.Sprintf("zone %s is %s", z.ID, z.Status),
			Details:  map[string]any{"zone_id": z.ID, "status": string(z.Status)},
		}, start, withZone(z.ID))
	}

	// 3. rate limit; the slot is held through execution
	if err := p.deps.Limiter.Acquire(z.ID, execID); err != nil {
		return p.fail(ctx, req, chain, StageRateLimit, err, start, withZone(z.ID))
	}

	// 4. manifest
	if req.Manifest != nil {
		if err := p.verifyManifest(req, chain); err != nil {
			return p.fail(ctx, req, chain, StageManifest, err, start, withZone(z.ID))
		}
	}
	verification := p.now().Sub(start)

	// 5. firewall
	if !req.Trusted {
		if _, err := p.deps.Firewall.Enforce(ctx, req.Code, req.Context); err != nil {
			return p.fail(ctx, req, chain, StageFirewall, err, start, withZone(z.ID), withVerification(verification))
		}
	}

	// 6. execute
	execStart := p.now()
	out := p.deps.Executor.Execute(ctx, zone.ExecRequest{
		TenantID: req.TenantID,
		ZoneID:   z.ID,
		Code:     req.Code,
		Context:  req.Context,
		Timeout:  req.Timeout,
	})
	execution := p.now().Sub(execStart)

	// 7. record
	if p.deps.Health != nil {
		p.deps.Health.ObserveExecution(execution, out.Success)
	}
	outcome := "success"
	detail := ""
	if !out.Success {
		outcome = "failure"
		detail = out.Error
		if out.TimedOut {
			outcome = "timeout"
		}
	}
	res = Result{
		Success:  out.Success,
		Result:   out.Result,
		Error:    out.Error,
		TimedOut: out.TimedOut,
		Metrics:  Metrics{VerificationMs: ms(verification), ExecutionMs: ms(execution)},
		Audit:    AuditInfo{ChainID: chain.ID, ZoneID: z.ID},
	}
	if !out.Success {
		res.Stage = StageExecute
		res.Err = errors.New(out.Error)
	}
	res.Audit.ProvenanceID = p.deps.Trail.Record(ctx, chain.Ref(), StageExecute, outcome, detail)
	p.deps.Emitter.Emit(ctx, eventbus.TypePipelineComplete, map[string]any{
		"tenantId":    req.TenantID,
		"zoneId":      z.ID,
		"chainId":     chain.ID,
		"context":     req.Context,
		"success":     out.Success,
		"timedOut":    out.TimedOut,
		"executionMs": res.Metrics.ExecutionMs,
	})
	p.log.Info(component, "execution finished", "tenant_id", req.TenantID, "zone_id", z.ID, "outcome", outcome, "execution_ms", res.Metrics.ExecutionMs)
	return res
}

func (p *Pipeline) verifyManifest(req Request, chain identity.Chain) error {
	if p.deps.Issuer == nil || p.deps.Verifier == nil {
		return &models.DenialError{Category: models.DenialManifest, Reason: "manifest supplied but no verifier configured"}
	}
	scopes := req.RequiredScopes
	if len(scopes) == 0 {
		scopes = []string{ScopeExecute}
	}
	granted := req.Manifest.Scopes
	if len(granted) == 0 {
		granted = scopes
	}
	token, err := p.deps.Issuer.Issue(chain, granted...)
	if err != nil {
		return err
	}
	return p.deps.Verifier.VerifyOrThrow(identity.VerifyInput{
		Manifest:            *req.Manifest,
		ExpectedFingerprint: req.ExpectedFingerprint,
		Chain:               chain,
		Token:               token,
		ExpectedTenant:      req.TenantID,
		RequiredScopes:      scopes,
	})
}

type failOption func(*Result)

func withZone(id string) failOption {
	return func(r *Result) { r.Audit.ZoneID = id }
}

func withVerification(d time.Duration) failOption {
	return func(r *Result) { r.Metrics.VerificationMs = ms(d) }
}

func (p *Pipeline) fail(ctx context.Context, req Request, chain identity.Chain, stage string, err error, start time.Time, opts ...failOption) Result {
	res := Result{
		Success: false,
		Error:   err.Error(),
		Stage:   stage,
		Err:     err,
		Audit:   AuditInfo{ChainID: chain.ID},
	}
	if cat, ok := models.DenialCategoryOf(err); ok {
		res.Denial = cat
	}
	for _, o := range opts {
		o(&res)
	}
	if res.Metrics.VerificationMs == 0 {
		res.Metrics.VerificationMs = ms(p.now().Sub(start))
	}

	if chain.ID != "" {
		res.Audit.ProvenanceID = p.deps.Trail.Record(ctx, chain.Ref(), StageExecute, "blocked", fmt.Sprintf("%s: %s", stage, err))
	}
	p.deps.Emitter.Emit(ctx, eventbus.TypePipelineBlocked, map[string]any{
		"tenantId": req.TenantID,
		"zoneId":   res.Audit.ZoneID,
		"chainId":  chain.ID,
		"context":  req.Context,
		"stage":    stage,
		"denial":   string(res.Denial),
		"reason":   res.Error,
	})
	p.log.Warn(component, "execution blocked", "tenant_id", req.TenantID, "stage", stage, "error", res.Error)
	return res
}
