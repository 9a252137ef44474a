// Package governance reviews proposed actions (AI-suggested mutations,
// configuration changes, data operations) with a fixed set of independent
// guardians and an explainability pass over their decisions.
package governance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mcptrust/execgate/internal/models"
)

// Request is one proposed action.
type Request struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
	Context ReviewContext  `json:"context"`
}

// ReviewContext is caller-supplied metadata for a review.
type ReviewContext struct {
	TenantID string `json:"tenantId"`
	ActorID  string `json:"actorId"`
	// Baseline is the current state the payload proposes to replace. The
	// drift guardian compares against it.
	Baseline map[string]any `json:"baseline,omitempty"`
}

// Guardian is one independent policy check. Returning an error (or
// panicking) yields an ERROR decision; it never aborts the review.
type Guardian interface {
	Name() string
	Review(ctx context.Context, req Request) (models.GuardianDecision, error)
}

func decide(guardian string, status models.GuardianStatus, reason string, details map[string]any) models.GuardianDecision {
	return models.GuardianDecision{
		Guardian:  guardian,
		Status:    status,
		Reason:    reason,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// normalizeField lowercases a field name and strips separators so that
// "Card-Number", "card_number" and "cardNumber" compare equal.
func normalizeField(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// walkFields calls fn for every key in payload, nested objects and arrays
// included, with its JSON-pointer-like path.
func walkFields(payload map[string]any, fn func(path, key string, value any)) {
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				p := prefix + "/" + k
				fn(p, k, child)
				walk(p, child)
			}
		case []any:
			for i, child := range t {
				walk(fmt.Sprintf("%s/%d", prefix, i), child)
			}
		}
	}
	walk("", payload)
}
