package zone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mcptrust/execgate/internal/observability/logging"
)

// maxOutput caps captured stdout/stderr per execution.
const maxOutput = 64 * 1024

// DefaultTimeout applies when a request sets none.
const DefaultTimeout = 5 * time.Second

// Runtime runs code and returns its output.
type Runtime interface {
	Run(ctx context.Context, code string) (string, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, code string) (string, error)

func (f RuntimeFunc) Run(ctx context.Context, code string) (string, error) { return f(ctx, code) }

// ProcessRuntime runs code with an interpreter subprocess, passing the
// code as the final argument (e.g. node -e <code>). The process gets a
// private temp directory and a minimal environment.
type ProcessRuntime struct {
	Argv []string
	Env  []string
}

func NewProcessRuntime(argv ...string) *ProcessRuntime {
	if len(argv) == 0 {
		argv = []string{"node", "-e"}
	}
	return &ProcessRuntime{Argv: argv, Env: []string{"PATH=" + os.Getenv("PATH")}}
}

type cappedBuffer struct {
	bytes.Buffer
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := maxOutput - c.Len(); room > 0 {
		if len(p) > room {
			c.Buffer.Write(p[:room])
		} else {
			c.Buffer.Write(p)
		}
	}
	return len(p), nil
}

func (p *ProcessRuntime) Run(ctx context.Context, code string) (string, error) {
	dir, err := os.MkdirTemp("", "execgate-zone-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(dir)
	if err := os.Chmod(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to set temp directory permissions: %w", err)
	}

	args := append(append([]string(nil), p.Argv[1:]...), code)
	cmd := exec.CommandContext(ctx, p.Argv[0], args...)
	cmd.Dir = dir
	cmd.Env = append([]string{"HOME=" + dir, "TMPDIR=" + dir}, p.Env...)
	var stdout, stderr cappedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return stdout.String(), fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), msg)
		}
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// ExecRequest is one execution inside a zone.
type ExecRequest struct {
	TenantID string
	ZoneID   string
	Code     string
	Context  string
	Timeout  time.Duration
}

// ExecResult reports the outcome. Timeouts and runtime errors are
// failures, not Go errors.
type ExecResult struct {
	Success  bool          `json:"success"`
	Result   string        `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timedOut,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor runs code in a zone with a deadline.
type Executor struct {
	runtime        Runtime
	defaultTimeout time.Duration
	log            logging.Logger
}

func NewExecutor(runtime Runtime, defaultTimeout time.Duration, log logging.Logger) *Executor {
	if runtime == nil {
		runtime = NewProcessRuntime()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Executor{runtime: runtime, defaultTimeout: defaultTimeout, log: logging.OrNop(log)}
}

type runOutcome struct {
	out string
	err error
}

// Execute runs req.Code. The deadline holds even if the runtime ignores
// cancellation.
func (e *Executor) Execute(ctx context.Context, req ExecRequest) ExecResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: fmt.Errorf("runtime panicked: %v", r)}
			}
		}()
		out, err := e.runtime.Run(ctx, req.Code)
		done <- runOutcome{out: out, err: err}
	}()

	select {
	case res := <-done:
		elapsed := time.Since(start)
		if res.err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return e.timedOut(req, timeout, elapsed)
			}
			return ExecResult{Success: false, Result: res.out, Error: res.err.Error(), Duration: elapsed}
		}
		return ExecResult{Success: true, Result: res.out, Duration: elapsed}
	case <-ctx.Done():
		return e.timedOut(req, timeout, time.Since(start))
	}
}

func (e *Executor) timedOut(req ExecRequest, timeout, elapsed time.Duration) ExecResult {
	e.log.Warn(component, "execution timed out", "tenant_id", req.TenantID, "zone_id", req.ZoneID, "timeout_ms", timeout.Milliseconds())
	return ExecResult{
		Success:  false,
		Error:    fmt.Sprintf("execution timed out after %s", timeout),
		TimedOut: true,
		Duration: elapsed,
	}
}
