package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcptrust/execgate/internal/config"
	"github.com/mcptrust/execgate/internal/kernel"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability"
	"github.com/mcptrust/execgate/internal/observability/logging"
	otelobs "github.com/mcptrust/execgate/internal/observability/otel"
	"github.com/mcptrust/execgate/internal/observability/receipt"
	"github.com/mcptrust/execgate/internal/version"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
)

const shutdownTimeout = 5 * time.Second

// Exit codes: 1 runtime failure, 2 usage, 3 denied by policy.
const (
	exitFailure = 1
	exitUsage   = 2
	exitDenied  = 3
)

var rootCmd = &cobra.Command{
	Use:   "execgate",
	Short: "Execution governance for untrusted code",
	Long: `execgate: a governance gate in front of a code execution engine.

Every submission passes identity, zone, rate limit, manifest and firewall
checks before it runs, and every decision lands in the audit trail.`,
	Version:           version.BuildVersion(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var (
	configFlag          string
	logFormatFlag       string
	logLevelFlag        string
	logOutputFlag       string
	auditLogFlag        string
	receiptFlag         string
	receiptModeFlag     string
	otelFlag            bool
	otelEndpointFlag    string
	otelProtocolFlag    string
	otelInsecureFlag    bool
	otelSampleRatioFlag float64
)

// cleanups run in reverse order once the command finishes, including on
// error paths that skip cobra's post-run hooks.
var cleanups []func()

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFlag, "config", "c", "", "Path to YAML config (defaults are built in)")
	pf.StringVar(&logFormatFlag, "log-format", "", "Log format: pretty, jsonl or none")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&logOutputFlag, "log-output", "", "Log destination: stderr or a file path")
	pf.StringVar(&auditLogFlag, "audit-log", "", "Append audit entries as JSONL to this file")
	pf.StringVar(&receiptFlag, "receipt", "", "Write a JSON receipt for this invocation")
	pf.StringVar(&receiptModeFlag, "receipt-mode", "append", "Receipt mode: append or overwrite")
	pf.BoolVar(&otelFlag, "otel", false, "Enable OpenTelemetry tracing")
	pf.StringVar(&otelEndpointFlag, "otel-endpoint", "", "OTLP endpoint")
	pf.StringVar(&otelProtocolFlag, "otel-protocol", "", "OTLP protocol: otlphttp or otlpgrpc")
	pf.BoolVar(&otelInsecureFlag, "otel-insecure", false, "Disable TLS for the OTLP exporter")
	pf.Float64Var(&otelSampleRatioFlag, "otel-sample-ratio", 1.0, "Trace sample ratio between 0 and 1")

	rootCmd.AddCommand(GetScanCmd())
	rootCmd.AddCommand(GetRunCmd())
	rootCmd.AddCommand(GetFingerprintCmd())
	rootCmd.AddCommand(GetReviewCmd())
	rootCmd.AddCommand(GetIntegrityCmd())
	rootCmd.AddCommand(GetRiskCmd())
	rootCmd.AddCommand(GetRulesCmd())
	rootCmd.AddCommand(GetWatchCmd())
	rootCmd.AddCommand(GetVersionCmd())
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var usage *usageError
	switch {
	case errors.As(err, &usage):
		return exitUsage
	case models.IsDenial(err):
		return exitDenied
	default:
		return exitFailure
	}
}

// usageError marks bad invocations.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func shutdown() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
}

type configKey struct{}

func configFrom(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)
	return cfg
}

// setup loads configuration and installs the logger, tracer and receipt
// writer on the command context.
func setup(cmd *cobra.Command, args []string) error {
	ctx := observability.EnsureOpID(cmd.Context())

	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx = context.WithValue(ctx, configKey{}, cfg)

	log, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	cleanups = append(cleanups, func() { _ = log.Close() })
	ctx = logging.WithLogger(ctx, log)

	if cfg.Otel.Enabled {
		h, err := otelobs.Init(ctx, cfg.Otel)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		cleanups = append(cleanups, func() { _ = h.Close(shutdownTimeout) })
		ctx = otelobs.WithHandle(ctx, h)
	}

	if receiptFlag != "" {
		w, err := receipt.NewWriter(receiptFlag, receiptModeFlag)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, func() { _ = w.Close() })
		ctx = receipt.WithWriter(ctx, w)
	}

	cmd.SetContext(ctx)
	return nil
}

// applyFlags overlays explicitly set persistent flags on cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormatFlag
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevelFlag
	}
	if flags.Changed("log-output") {
		cfg.Logging.Output = logOutputFlag
	}
	if flags.Changed("audit-log") {
		cfg.Audit.Path = auditLogFlag
	}
	if flags.Changed("otel") {
		cfg.Otel.Enabled = otelFlag
	}
	if flags.Changed("otel-endpoint") {
		cfg.Otel.Endpoint = otelEndpointFlag
	}
	if flags.Changed("otel-protocol") {
		cfg.Otel.Protocol = otelProtocolFlag
	}
	if flags.Changed("otel-insecure") {
		cfg.Otel.Insecure = otelInsecureFlag
	}
	if flags.Changed("otel-sample-ratio") {
		cfg.Otel.SampleRatio = otelSampleRatioFlag
	}
}

// openKernel builds the component graph for one command. Callers close it.
func openKernel(ctx context.Context, opts ...kernel.Option) (*kernel.Kernel, error) {
	cfg := configFrom(ctx)
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return kernel.New(ctx, cfg, logging.From(ctx), opts...)
}

// startCommand opens the command span and emits start/complete events.
// The returned func must be called with the command's final error.
func startCommand(ctx context.Context, name string) (context.Context, func(error)) {
	log := logging.From(ctx)
	start := time.Now()
	ctx, span := otelobs.StartSpan(ctx, "execgate."+name,
		attribute.String("execgate.op_id", observability.OpID(ctx)),
		attribute.String("execgate.command", name),
	)
	log.Event(ctx, name+".start", nil)
	return ctx, func(err error) {
		result := "success"
		if err != nil {
			result = "fail"
		}
		log.Event(ctx, name+".complete", map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"result":      result,
		})
		otelobs.EndSpan(span, err)
	}
}
