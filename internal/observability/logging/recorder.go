package logging

import (
	"context"
	"sync"

	"github.com/mcptrust/execgate/internal/observability"
)

// Entry is one captured log line.
type Entry struct {
	Level     string
	Component string
	Message   string
	Fields    map[string]any
}

// Recorder keeps entries in memory. Used by tests to assert that
// best-effort failures were logged instead of propagated.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(level, component, msg string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Component: component, Message: msg, Fields: fields})
}

func (r *Recorder) Debug(component, msg string, fields ...any) {
	r.add(LevelDebug, component, msg, kvToMap(fields))
}

func (r *Recorder) Info(component, msg string, fields ...any) {
	r.add(LevelInfo, component, msg, kvToMap(fields))
}

func (r *Recorder) Warn(component, msg string, fields ...any) {
	r.add(LevelWarn, component, msg, kvToMap(fields))
}

func (r *Recorder) Error(component, msg string, fields ...any) {
	r.add(LevelError, component, msg, kvToMap(fields))
}

// Event records op_id and tenant_id from ctx alongside fields.
func (r *Recorder) Event(ctx context.Context, event string, fields map[string]any) {
	merged := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	if op := observability.OpID(ctx); op != "" {
		merged["op_id"] = op
	}
	if tenant := observability.TenantID(ctx); tenant != "" {
		merged["tenant_id"] = tenant
	}
	r.add(LevelInfo, "event", EventPrefix+event, merged)
}

func (r *Recorder) Close() error { return nil }

// Entries returns a copy of everything logged at the given level ("" for all).
func (r *Recorder) Entries(level string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
