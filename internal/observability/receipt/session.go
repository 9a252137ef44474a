package receipt

import (
	"context"
	"time"

	"github.com/mcptrust/execgate/internal/integrity"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability"
)

// MaxErrorLength bounds Result.Error.
const MaxErrorLength = 2048

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusDenied  = "denied"
)

// Session tracks one command invocation.
type Session struct {
	ctx     context.Context
	start   time.Time
	command string
	args    []string
	now     func() time.Time
}

func Start(ctx context.Context, cmd string, args []string) *Session {
	return &Session{
		ctx:     ctx,
		start:   time.Now(),
		command: cmd,
		args:    args,
		now:     time.Now,
	}
}

type Option func(*Receipt)

// WithInput records the file a command read from. Stdin is not recorded.
func WithInput(path string) Option {
	return func(r *Receipt) {
		if path == "" || path == "-" {
			return
		}
		ref := &InputRef{Path: path}
		if digest, _, err := integrity.HashFile(path); err == nil {
			ref.Digest = digest
		}
		r.Input = ref
	}
}

func WithExecution(e ExecutionSummary) Option {
	return func(r *Receipt) { r.Execution = &e }
}

func WithGovernance(action, status string, hits []GuardianHit) Option {
	return func(r *Receipt) {
		r.Governance = &GovernanceSummary{Action: action, Status: status, Guardians: hits}
	}
}

func WithIntegrity(checked, violations int) Option {
	return func(r *Receipt) {
		r.Integrity = &IntegritySummary{Checked: checked, Violations: violations}
	}
}

// Finish writes the receipt to the context's writer; without one it does
// nothing. Denials are recorded as "denied" with their category, other
// errors as "fail".
func (s *Session) Finish(err error, opts ...Option) error {
	w := From(s.ctx)
	if w == nil {
		return nil
	}

	end := s.now()
	args, redacted := RedactArgs(s.args)
	r := Receipt{
		SchemaVersion: ReceiptSchemaVersion,
		OpID:          observability.OpID(s.ctx),
		TsStart:       s.start.UTC().Format(time.RFC3339Nano),
		TsEnd:         end.UTC().Format(time.RFC3339Nano),
		DurationMs:    end.Sub(s.start).Milliseconds(),
		Command:       s.command,
		Args:          args,
		ArgsRedacted:  redacted,
		Result:        resultOf(err),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return w.Write(r)
}

func resultOf(err error) Result {
	if err == nil {
		return Result{Status: StatusSuccess}
	}
	res := Result{Status: StatusFail, Error: truncateError(err.Error())}
	if cat, ok := models.DenialCategoryOf(err); ok {
		res.Status = StatusDenied
		res.Denial = string(cat)
	}
	return res
}

func truncateError(s string) string {
	if len(s) <= MaxErrorLength {
		return s
	}
	return s[:MaxErrorLength-3] + "..."
}
