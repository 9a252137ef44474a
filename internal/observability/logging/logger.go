package logging

import (
	"context"
	"fmt"
	"io"
	"os"
)

type Logger interface {
	Debug(component, msg string, fields ...any)
	Info(component, msg string, fields ...any)
	Warn(component, msg string, fields ...any)
	Error(component, msg string, fields ...any)
	Event(ctx context.Context, event string, fields map[string]any)
	Close() error
}

type loggerKey struct{}

func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func From(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return &noopLogger{}
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &noopLogger{}
}

// OrNop substitutes the noop logger for nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return &noopLogger{}
	}
	return l
}

// NewLogger builds the logger cfg describes. File outputs are opened for
// append and closed by Close.
func NewLogger(cfg Config) (Logger, error) {
	if cfg.Format == FormatNone {
		return &noopLogger{}, nil
	}
	w, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	minLevel := levelPriority(cfg.Level)
	switch cfg.Format {
	case FormatJSONL:
		return &jsonlLogger{writer: w, closer: closer, minLevel: minLevel}, nil
	case FormatPretty, "":
		return &prettyLogger{writer: w, closer: closer, minLevel: minLevel}, nil
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("unknown log format %q (want %s, %s or %s)", cfg.Format, FormatJSONL, FormatPretty, FormatNone)
	}
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil, nil
	case "stdout":
		return os.Stdout, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}
	return f, f, nil
}

type noopLogger struct{}

func (n *noopLogger) Debug(component, msg string, fields ...any) {}
func (n *noopLogger) Info(component, msg string, fields ...any)  {}
func (n *noopLogger) Warn(component, msg string, fields ...any)  {}
func (n *noopLogger) Error(component, msg string, fields ...any) {}
func (n *noopLogger) Event(ctx context.Context, event string, fields map[string]any) {
}
func (n *noopLogger) Close() error { return nil }
