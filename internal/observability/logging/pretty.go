package logging

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/observability"
)

// prettyLogger writes one human-readable line per entry.
type prettyLogger struct {
	writer   io.Writer
	closer   io.Closer
	minLevel int
	mu       sync.Mutex
}

func (p *prettyLogger) line(level, component, msg string, fields map[string]any) {
	if levelPriority(level) < p.minLevel {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(level))
	b.WriteString(" [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	fields = scrub(fields)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.writer, b.String())
}

func (p *prettyLogger) Debug(component, msg string, fields ...any) {
	p.line(LevelDebug, component, msg, kvToMap(fields))
}

func (p *prettyLogger) Info(component, msg string, fields ...any) {
	p.line(LevelInfo, component, msg, kvToMap(fields))
}

func (p *prettyLogger) Warn(component, msg string, fields ...any) {
	p.line(LevelWarn, component, msg, kvToMap(fields))
}

func (p *prettyLogger) Error(component, msg string, fields ...any) {
	p.line(LevelError, component, msg, kvToMap(fields))
}

// Event lines are debug-level in pretty mode; jsonl is the audit format.
func (p *prettyLogger) Event(ctx context.Context, event string, fields map[string]any) {
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
	fields = merged
	p.line(LevelDebug, "event", EventPrefix+event, fields)
}

func (p *prettyLogger) Close() error {
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
