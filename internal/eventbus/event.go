// Package eventbus carries kernel events to subscribers. Publishing is
// fire-and-forget: nothing here may block or fail the caller.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the kernel.
const (
	TypeTamperDetected     = "kernel.tamper.detected"
	TypePredictedOverload  = "kernel.predicted.overload"
	TypeSovereignEnabled   = "kernel.sovereign.enabled"
	TypeSovereignDisabled  = "kernel.sovereign.disabled"
	TypeSovereignBlocked   = "kernel.sovereign.blocked"
	TypeSafeModeActivated  = "kernel.safemode.activated"
	TypeSafeModeDeactivate = "kernel.safemode.deactivated"
	TypeFirewallBlocked    = "kernel.firewall.blocked"
	TypeFirewallAllowed    = "kernel.firewall.allowed"
	TypeGuardianTick       = "kernel.guardian.tick"
	TypeGuardianEscalated  = "kernel.guardian.escalated"
	TypeGuardianTamper     = "kernel.guardian.tamper"
	TypePipelineComplete   = "pipeline.execution.complete"
	TypePipelineBlocked    = "pipeline.execution.blocked"
	TypeGovernanceDecision = "ai.guardian.decision"
)

// Event is a typed, free-form notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New stamps an event with an ID and the current time.
func New(typ string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Publisher delivers events somewhere. Implementations may fail; callers
// go through Emitter, which swallows those failures.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error { return f(ctx, evt) }
