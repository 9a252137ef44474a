// Package audit records tamper-evident evidence of kernel decisions: one
// append-only entry per governance review or pipeline run, plus provenance
// records that tie an identity chain to an operation's outcome.
package audit

import (
	"context"
	"time"
)

// SchemaVersion of serialized entries.
const SchemaVersion = "1.0"

// Entry is one audit record.
type Entry struct {
	SchemaVersion string         `json:"schema_version"`
	ID            string         `json:"id"`
	OpID          string         `json:"op_id,omitempty"`
	TenantID      string         `json:"tenant_id"`
	ActorID       string         `json:"actor_id"`
	ActionID      string         `json:"action_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	Redacted      bool           `json:"redacted,omitempty"`
	Timestamp     time.Time      `json:"ts"`
}

// Store persists entries. Implementations may fail; callers go through
// Recorder, which never propagates those failures.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// ChainRef identifies the identity chain a provenance record belongs to.
type ChainRef struct {
	ChainID  string
	TenantID string
	ActorID  string
}
