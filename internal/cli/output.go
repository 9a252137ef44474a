package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// colorEnabled is true when stdout is a terminal and NO_COLOR is unset.
var colorEnabled = sync.OnceValue(func() bool {
	return os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd()))
})

func paint(color, s string) string {
	if color == "" || !colorEnabled() {
		return s
	}
	return color + s + colorReset
}

func checkFormat(format string) error {
	if format != formatText && format != formatJSON {
		return usagef("invalid format: %s (use text or json)", format)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// readSource reads code from path, or from stdin when path is empty or "-".
func readSource(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return string(data), nil
}

func truncHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}
