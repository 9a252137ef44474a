// Package firewall is the last gate before code runs: sovereign mode,
// then the rulebook, then behavior classification.
package firewall

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mcptrust/execgate/internal/classifier"
	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/mcptrust/execgate/internal/observability/otel"
	"github.com/mcptrust/execgate/internal/rulebook"
)

const component = "firewall"

// OpExecute is the sovereign operation the firewall asks for.
const OpExecute = "execute"

const (
	previewLength = 200
	blockLogSize  = 1024
)

// Block sources.
const (
	SourceSovereign  = "sovereign"
	SourceRulebook   = "rulebook"
	SourceClassifier = "classifier"
)

// Gate is the sovereign mode view the firewall needs.
type Gate interface {
	Guard(ctx context.Context, operation string) error
	Permits(operation string) bool
}

// Decision is the firewall's verdict on one piece of code.
type Decision struct {
	Allowed        bool                           `json:"allowed"`
	Reason         string                         `json:"reason,omitempty"`
	Source         string                         `json:"source,omitempty"`
	Context        string                         `json:"context"`
	Rule           *rulebook.Rule                 `json:"rule,omitempty"`
	Warnings       []rulebook.Match               `json:"warnings,omitempty"`
	Classification *models.BehaviorClassification `json:"classification,omitempty"`
}

// ContextStats counts decisions for one execution context.
type ContextStats struct {
	Checked int `json:"checked"`
	Allowed int `json:"allowed"`
	Blocked int `json:"blocked"`
}

// Firewall is safe for concurrent use.
type Firewall struct {
	gate       Gate
	book       *rulebook.Book
	classifier *classifier.Classifier
	emitter    *eventbus.Emitter
	log        logging.Logger
	now        func() time.Time

	mu     sync.Mutex
	stats  map[string]*ContextStats
	blocks []time.Time
	next   int
	filled bool
}

// New builds a firewall. gate and book may be nil.
func New(gate Gate, book *rulebook.Book, c *classifier.Classifier, emitter *eventbus.Emitter, log logging.Logger) *Firewall {
	return &Firewall{
		gate:       gate,
		book:       book,
		classifier: c,
		emitter:    emitter,
		log:        logging.OrNop(log),
		now:        time.Now,
		stats:      make(map[string]*ContextStats),
		blocks:     make([]time.Time, blockLogSize),
	}
}

// Enforce runs the full pipeline including intent analysis. A blocked
// decision is always returned together with a non-nil error.
func (f *Firewall) Enforce(ctx context.Context, code, execContext string) (Decision, error) {
	ctx, span := otel.StartSpan(ctx, "execgate.firewall.enforce",
		attribute.String("execgate.context", execContext),
		attribute.Int("execgate.code_length", len(code)),
	)
	d, err := f.enforce(ctx, code, execContext, func() models.BehaviorClassification {
		return f.classifier.Classify(ctx, code, execContext)
	})
	span.SetAttributes(attribute.Bool("execgate.allowed", d.Allowed), attribute.String("execgate.block_source", d.Source))
	otel.EndSpan(span, err)
	return d, err
}

// EnforceSync skips intent analysis and uses the static scan only.
func (f *Firewall) EnforceSync(ctx context.Context, code, execContext string) (Decision, error) {
	return f.enforce(ctx, code, execContext, func() models.BehaviorClassification {
		return f.classifier.ClassifyStatic(code)
	})
}

func (f *Firewall) enforce(ctx context.Context, code, execContext string, classify func() models.BehaviorClassification) (Decision, error) {
	if f.gate != nil {
		if err := f.gate.Guard(ctx, OpExecute); err != nil {
			d := Decision{Context: execContext, Source: SourceSovereign, Reason: err.Error()}
			f.recordBlock(ctx, d, code)
			return d, err
		}
	}

	d := f.evaluate(code, execContext, classify)
	if !d.Allowed {
		f.recordBlock(ctx, d, code)
		return d, &models.DenialError{
			Category: models.DenialFirewall,
			Reason:   d.Reason,
			Details:  map[string]any{"context": execContext, "source": d.Source},
		}
	}

	f.count(execContext, true)
	f.emitter.Emit(ctx, eventbus.TypeFirewallAllowed, map[string]any{
		"context":  execContext,
		"warnings": len(d.Warnings),
	})
	return d, nil
}

// Check previews the static verdict without counting it, publishing
// events or touching sovereign mode counters.
func (f *Firewall) Check(code, execContext string) Decision {
	if f.gate != nil && !f.gate.Permits(OpExecute) {
		return Decision{
			Context: execContext,
			Source:  SourceSovereign,
			Reason:  fmt.Sprintf("operation %q blocked by sovereign mode", OpExecute),
		}
	}
	return f.evaluate(code, execContext, func() models.BehaviorClassification {
		return f.classifier.ClassifyStatic(code)
	})
}

func (f *Firewall) evaluate(code, execContext string, classify func() models.BehaviorClassification) Decision {
	d := Decision{Context: execContext}
	if f.book != nil {
		res := f.book.Evaluate(code, execContext)
		d.Warnings = res.Warnings
		if res.Violates {
			d.Source = SourceRulebook
			d.Rule = res.Rule
			d.Reason = fmt.Sprintf("blocked by rule %s: %s", res.Rule.ID, res.Rule.Message)
			return d
		}
	}

	c := classify()
	d.Classification = &c
	if reason, blocked := blockedIntent(c, execContext); blocked {
		d.Source = SourceClassifier
		d.Reason = reason
		return d
	}
	d.Allowed = true
	return d
}

// blockedIntent blocks malicious code everywhere and risky code in
// high-risk contexts.
func blockedIntent(c models.BehaviorClassification, execContext string) (string, bool) {
	switch c.Intent {
	case models.IntentMalicious:
		return fmt.Sprintf("blocked: malicious intent (confidence %.2f, risk %d): %s", c.Confidence, c.RiskScore, c.Explanation), true
	case models.IntentRisky:
		if rulebook.IsHighRisk(execContext) {
			return fmt.Sprintf("blocked: risky code in %s context (risk %d): %s", execContext, c.RiskScore, c.Explanation), true
		}
	}
	return "", false
}

func (f *Firewall) recordBlock(ctx context.Context, d Decision, code string) {
	f.mu.Lock()
	f.countLocked(d.Context, false)
	f.blocks[f.next] = f.now()
	f.next = (f.next + 1) % blockLogSize
	if f.next == 0 {
		f.filled = true
	}
	f.mu.Unlock()

	f.log.Warn(component, "execution blocked", "context", d.Context, "source", d.Source, "reason", d.Reason)
	payload := map[string]any{
		"context": d.Context,
		"source":  d.Source,
		"reason":  d.Reason,
		"preview": preview(code),
	}
	if d.Rule != nil {
		payload["rule"] = d.Rule.ID
	}
	if d.Classification != nil {
		payload["intent"] = string(d.Classification.Intent)
		payload["riskScore"] = d.Classification.RiskScore
	}
	f.emitter.Emit(ctx, eventbus.TypeFirewallBlocked, payload)
}

func (f *Firewall) count(execContext string, allowed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countLocked(execContext, allowed)
}

func (f *Firewall) countLocked(execContext string, allowed bool) {
	st, ok := f.stats[execContext]
	if !ok {
		st = &ContextStats{}
		f.stats[execContext] = st
	}
	st.Checked++
	if allowed {
		st.Allowed++
	} else {
		st.Blocked++
	}
}

func preview(code string) string {
	r := []rune(code)
	if len(r) <= previewLength {
		return code
	}
	return string(r[:previewLength])
}

// Stats returns a copy of the per-context counters.
func (f *Firewall) Stats() map[string]ContextStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]ContextStats, len(f.stats))
	for k, v := range f.stats {
		out[k] = *v
	}
	return out
}

// Contexts returns the contexts seen so far, sorted.
func (f *Firewall) Contexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.stats))
	for k := range f.stats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ViolationsSince counts blocks at or after t among the most recent 1024.
func (f *Firewall) ViolationsSince(t time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.next
	if f.filled {
		n = blockLogSize
	}
	count := 0
	for i := 0; i < n; i++ {
		if !f.blocks[i].Before(t) {
			count++
		}
	}
	return count
}
