package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Writer persists receipts.
type Writer interface {
	Write(r Receipt) error
	Close() error
}

type Mode string

const (
	// ModeOverwrite keeps only the latest receipt as a single JSON object.
	ModeOverwrite Mode = "overwrite"
	// ModeAppend writes JSONL, one receipt per line.
	ModeAppend Mode = "append"
)

type fileWriter struct {
	mu   sync.Mutex
	file *os.File
	mode Mode
}

// NewWriter opens path in the given mode; unknown modes append.
func NewWriter(path string, mode string) (Writer, error) {
	m := Mode(mode)
	if m != ModeOverwrite {
		m = ModeAppend
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create receipt directory: %w", err)
		}
	}

	flag := os.O_CREATE | os.O_WRONLY
	if m == ModeAppend {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt file: %w", err)
	}
	return &fileWriter{file: f, mode: m}, nil
}

func (w *fileWriter) Write(r Receipt) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	if w.mode == ModeAppend {
		data = append(data, '\n')
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return nil
}

func (w *fileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

type writerKey struct{}

func WithWriter(ctx context.Context, w Writer) context.Context {
	return context.WithValue(ctx, writerKey{}, w)
}

// From returns the context's receipt writer, or nil when receipts are off.
func From(ctx context.Context) Writer {
	w, _ := ctx.Value(writerKey{}).(Writer)
	return w
}
