package logging

import (
	"context"
	"encoding/json"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/observability"
	"github.com/mcptrust/execgate/internal/version"
)

const SchemaVersion = "1.0"

// EventPrefix namespaces structured events for SIEM ingestion.
const EventPrefix = "execgate."

// jsonlLogger writes one JSON object per line. Event entries carry the
// context's op_id and tenant_id so a pipeline run can be followed across
// components.
type jsonlLogger struct {
	writer   io.Writer
	closer   io.Closer
	minLevel int
	mu       sync.Mutex
	now      func() time.Time
}

type logEntry struct {
	Timestamp       string         `json:"ts"`
	Level           string         `json:"level"`
	Event           string         `json:"event,omitempty"`
	Component       string         `json:"component"`
	OpID            string         `json:"op_id,omitempty"`
	TenantID        string         `json:"tenant_id,omitempty"`
	SchemaVersion   string         `json:"schema_version"`
	ExecgateVersion string         `json:"execgate_version"`
	GoVersion       string         `json:"go_version"`
	Message         string         `json:"msg,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
}

func (j *jsonlLogger) entry(level, component string, fields map[string]any) logEntry {
	now := time.Now
	if j.now != nil {
		now = j.now
	}
	return logEntry{
		Timestamp:       now().UTC().Format(time.RFC3339Nano),
		Level:           level,
		Component:       component,
		SchemaVersion:   SchemaVersion,
		ExecgateVersion: version.BuildVersion(),
		GoVersion:       runtime.Version(),
		Fields:          scrub(fields),
	}
}

func (j *jsonlLogger) log(level, component, msg string, kv []any) {
	if levelPriority(level) < j.minLevel {
		return
	}
	e := j.entry(level, component, kvToMap(kv))
	e.Message = msg
	j.write(e)
}

// Event entries bypass level filtering.
func (j *jsonlLogger) Event(ctx context.Context, event string, fields map[string]any) {
	e := j.entry(LevelInfo, "event", fields)
	e.Event = EventPrefix + event
	e.OpID = observability.OpID(ctx)
	e.TenantID = observability.TenantID(ctx)
	j.write(e)
}

func (j *jsonlLogger) write(e logEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	_, _ = j.writer.Write(data)
}

func (j *jsonlLogger) Debug(component, msg string, kv ...any) { j.log(LevelDebug, component, msg, kv) }
func (j *jsonlLogger) Info(component, msg string, kv ...any)  { j.log(LevelInfo, component, msg, kv) }
func (j *jsonlLogger) Warn(component, msg string, kv ...any)  { j.log(LevelWarn, component, msg, kv) }
func (j *jsonlLogger) Error(component, msg string, kv ...any) { j.log(LevelError, component, msg, kv) }

func (j *jsonlLogger) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}
