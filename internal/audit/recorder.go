package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcptrust/execgate/internal/observability"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "audit"

// Recorder appends entries on a best-effort basis: store failures are
// logged and discarded. A nil *Recorder drops everything.
type Recorder struct {
	store Store
	log   logging.Logger
	now   func() time.Time
}

func NewRecorder(store Store, log logging.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   logging.OrNop(log),
		now:   time.Now,
	}
}

// Append stamps, redacts and stores e. It returns the entry ID even when the
// store failed, so callers can still reference it in results.
func (r *Recorder) Append(ctx context.Context, e Entry) string {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if r == nil || r.store == nil {
		return e.ID
	}
	e.SchemaVersion = SchemaVersion
	if e.OpID == "" {
		e.OpID = observability.OpID(ctx)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	e.Payload, e.Redacted = Redact(e.Payload)

	if err := r.safeAppend(ctx, e); err != nil {
		r.log.Warn(component, "audit append failed", "action_id", e.ActionID, "tenant_id", e.TenantID, "error", err.Error())
	}
	return e.ID
}

func (r *Recorder) safeAppend(ctx context.Context, e Entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError{p}
		}
	}()
	return r.store.Append(ctx, e)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "audit store panicked" }

// Trail writes provenance records correlating an identity chain with the
// outcome of an operation.
type Trail struct {
	rec *Recorder
}

func NewTrail(rec *Recorder) *Trail {
	return &Trail{rec: rec}
}

// Record appends one provenance entry and returns its ID. A nil Trail
// records nothing.
func (t *Trail) Record(ctx context.Context, chain ChainRef, operation, outcome, detail string) string {
	if t == nil {
		return ""
	}
	return t.rec.Append(ctx, Entry{
		TenantID: chain.TenantID,
		ActorID:  chain.ActorID,
		ActionID: "provenance." + operation,
		Payload: map[string]any{
			"chain_id":  chain.ChainID,
			"operation": operation,
			"outcome":   outcome,
			"detail":    detail,
		},
	})
}
