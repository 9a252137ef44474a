package governance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/mcptrust/execgate/internal/audit"
	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/mcptrust/execgate/internal/observability/otel"
)

const component = "governance"

// DefaultBatchConcurrency bounds ReviewBatch fan-out.
const DefaultBatchConcurrency = 4

// GovernanceDenialError is returned when any guardian denied. The review was
// recorded before it was returned.
type GovernanceDenialError struct {
	Action    string
	Decisions []models.GuardianDecision
	Result    models.GovernanceResult
}

func (e *GovernanceDenialError) Error() string {
	var reasons []string
	for _, d := range e.Decisions {
		if d.Status == models.GuardianDeny {
			reasons = append(reasons, fmt.Sprintf("%s: %s", d.Guardian, d.Reason))
		}
	}
	return fmt.Sprintf("governance denied %q: %s", e.Action, strings.Join(reasons, "; "))
}

func (e *GovernanceDenialError) DenialCategory() models.DenialCategory { return models.DenialGovernance }

// Options configure an Engine. A nil Guardians slice installs the default
// schema, performance, compliance and drift guardians, in that order.
type Options struct {
	Guardians []Guardian
	Emitter   *eventbus.Emitter
	Recorder  *audit.Recorder
	Log       logging.Logger
}

// DefaultGuardians builds the standard guardian sequence.
func DefaultGuardians(schemas map[string]Schema, perf PerformanceLimits, rules []ComplianceRule, drift DriftPolicy) []Guardian {
	return []Guardian{
		NewSchemaGuardian(schemas),
		NewPerformanceGuardian(perf),
		NewComplianceGuardian(rules, nil),
		NewDriftGuardian(drift),
	}
}

type Engine struct {
	guardians []Guardian
	explainer Explainer
	emitter   *eventbus.Emitter
	recorder  *audit.Recorder
	log       logging.Logger
	now       func() time.Time
}

func NewEngine(opts Options) *Engine {
	guardians := opts.Guardians
	if guardians == nil {
		guardians = DefaultGuardians(nil, DefaultPerformanceLimits(), nil, DefaultDriftPolicy())
	}
	return &Engine{
		guardians: guardians,
		emitter:   opts.Emitter,
		recorder:  opts.Recorder,
		log:       logging.OrNop(opts.Log),
		now:       time.Now,
	}
}

// Guardians returns the guardian names in evaluation order, explainability
// last.
func (e *Engine) Guardians() []string {
	names := make([]string, 0, len(e.guardians)+1)
	for _, g := range e.guardians {
		names = append(names, g.Name())
	}
	return append(names, GuardianExplainability)
}

// Review runs every guardian in order. The decision event and audit entry
// are written before the outcome is evaluated, so a denial is recorded
// even though Review returns a *GovernanceDenialError for it.
func (e *Engine) Review(ctx context.Context, req Request) (models.GovernanceResult, error) {
	ctx, span := otel.StartSpan(ctx, "execgate.governance.review",
		attribute.String("execgate.action", req.Action),
		attribute.String("execgate.tenant_id", req.Context.TenantID),
	)

	decisions := make([]models.GuardianDecision, 0, len(e.guardians)+1)
	for _, g := range e.guardians {
		decisions = append(decisions, e.runGuardian(ctx, g, req))
	}
	explanation, explained := e.explainer.Explain(req, decisions)
	decisions = append(decisions, explained)

	result := models.GovernanceResult{
		Action:      req.Action,
		Status:      statusOf(decisions),
		Decisions:   decisions,
		Explanation: explanation,
		Timestamp:   e.now().UTC(),
	}

	e.record(ctx, req, result)

	var err error
	if result.Status == models.GovernanceDenied {
		err = &GovernanceDenialError{Action: req.Action, Decisions: decisions, Result: result}
	}
	span.SetAttributes(attribute.String("execgate.governance.status", string(result.Status)))
	otel.EndSpan(span, err)
	return result, err
}

func (e *Engine) runGuardian(ctx context.Context, g Guardian, req Request) (d models.GuardianDecision) {
	name := g.Name()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error(component, "guardian panicked", "guardian", name, "panic", fmt.Sprint(r))
			d = decide(name, models.GuardianError, fmt.Sprintf("guardian panicked: %v", r), nil)
		}
	}()
	d, err := g.Review(ctx, req)
	if err != nil {
		e.log.Warn(component, "guardian failed", "guardian", name, "error", err.Error())
		return decide(name, models.GuardianError, err.Error(), nil)
	}
	if d.Guardian == "" {
		d.Guardian = name
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = e.now().UTC()
	}
	return d
}

func statusOf(decisions []models.GuardianDecision) models.GovernanceStatus {
	status := models.GovernanceApproved
	for _, d := range decisions {
		switch d.Status {
		case models.GuardianDeny:
			return models.GovernanceDenied
		case models.GuardianWarn, models.GuardianError:
			status = models.GovernanceWarning
		}
	}
	return status
}

func (e *Engine) record(ctx context.Context, req Request, result models.GovernanceResult) {
	summary := make([]map[string]any, 0, len(result.Decisions))
	for _, d := range result.Decisions {
		summary = append(summary, map[string]any{
			"guardian": d.Guardian,
			"status":   string(d.Status),
			"reason":   d.Reason,
		})
	}
	e.emitter.Emit(ctx, eventbus.TypeGovernanceDecision, map[string]any{
		"action":     req.Action,
		"tenantId":   req.Context.TenantID,
		"status":     string(result.Status),
		"decisions":  summary,
		"reversible": result.Explanation.Reversible,
	})
	e.recorder.Append(ctx, audit.Entry{
		TenantID: req.Context.TenantID,
		ActorID:  req.Context.ActorID,
		ActionID: "governance." + req.Action,
		Payload: map[string]any{
			"status":    string(result.Status),
			"decisions": summary,
			"summary":   result.Explanation.Summary,
			"request":   req.Payload,
		},
	})
}

// BatchResult pairs a request's result with its error.
type BatchResult struct {
	Result models.GovernanceResult `json:"result"`
	Err    error                   `json:"-"`
}

// ReviewBatch reviews requests concurrently. Results keep input order; a
// denial of one request does not affect the others.
func (e *Engine) ReviewBatch(ctx context.Context, reqs []Request) []BatchResult {
	out := make([]BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultBatchConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := e.Review(gctx, req)
			out[i] = BatchResult{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
