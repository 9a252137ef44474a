package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcptrust/execgate/internal/identity"
	"github.com/mcptrust/execgate/internal/observability/receipt"
	"github.com/mcptrust/execgate/internal/pipeline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var runCmd = &cobra.Command{
	Use:   "run [file|-]",
	Short: "Execute code through the governance pipeline",
	Long: `Runs a script through identity, zone, rate limit, manifest and firewall
checks, then executes it in the tenant's zone with the configured runtime.

Stages:
1. Create an identity chain for tenant and user
2. Resolve the tenant zone
3. Check the zone rate limit
4. Verify the engine manifest (when --manifest is given)
5. Firewall (skipped with --trusted)
6. Execute with a timeout
7. Record provenance

Examples:
  execgate run --tenant acme --user alice job.js
  execgate run --tenant acme --manifest engine.yaml --fingerprint sha256:... job.js
  echo 'console.log(1)' | execgate run --tenant acme --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runTenantFlag      string
	runUserFlag        string
	runEngineFlag      string
	runContextFlag     string
	runTimeoutFlag     time.Duration
	runManifestFlag    string
	runFingerprintFlag string
	runScopesFlag      []string
	runTrustedFlag     bool
	runFormatFlag      string
)

func init() {
	runCmd.Flags().StringVar(&runTenantFlag, "tenant", "", "Tenant ID (required)")
	runCmd.Flags().StringVar(&runUserFlag, "user", "cli", "User ID recorded on the identity chain")
	runCmd.Flags().StringVar(&runEngineFlag, "engine", identity.DefaultEngine, "Execution engine name")
	runCmd.Flags().StringVar(&runContextFlag, "context", "sandbox", "Execution context")
	runCmd.Flags().DurationVarP(&runTimeoutFlag, "timeout", "t", 0, "Execution timeout (0 uses the configured default)")
	runCmd.Flags().StringVar(&runManifestFlag, "manifest", "", "Engine manifest (YAML or JSON) to verify before running")
	runCmd.Flags().StringVar(&runFingerprintFlag, "fingerprint", "", "Expected manifest fingerprint (sha256:...)")
	runCmd.Flags().StringSliceVar(&runScopesFlag, "scope", nil, "Scopes the manifest token must carry")
	runCmd.Flags().BoolVar(&runTrustedFlag, "trusted", false, "Skip the firewall for kernel-internal code")
	runCmd.Flags().StringVar(&runFormatFlag, "format", formatText, "Output format: text or json")
	_ = runCmd.MarkFlagRequired("tenant")
}

func GetRunCmd() *cobra.Command {
	return runCmd
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	if err := checkFormat(runFormatFlag); err != nil {
		return err
	}
	if runManifestFlag != "" && runFingerprintFlag == "" {
		return usagef("--manifest requires --fingerprint")
	}
	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	ctx := cmd.Context()
	sess := receipt.Start(ctx, "execgate run", os.Args[1:])
	var receiptOpts []receipt.Option
	defer func() {
		receiptOpts = append(receiptOpts, receipt.WithInput(path))
		_ = sess.Finish(err, receiptOpts...)
	}()

	ctx, end := startCommand(ctx, "run")
	defer func() { end(err) }()

	code, err := readSource(path)
	if err != nil {
		return err
	}
	req := pipeline.Request{
		Code:                code,
		Context:             runContextFlag,
		TenantID:            runTenantFlag,
		UserID:              runUserFlag,
		Engine:              runEngineFlag,
		ExpectedFingerprint: runFingerprintFlag,
		RequiredScopes:      runScopesFlag,
		Timeout:             runTimeoutFlag,
	}
	if runManifestFlag != "" {
		m, err := loadManifest(runManifestFlag)
		if err != nil {
			return err
		}
		req.Manifest = m
	}

	k, err := openKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	var res pipeline.Result
	if runTrustedFlag {
		res = k.Pipeline.RunTrusted(ctx, req)
	} else {
		res = k.Pipeline.Run(ctx, req)
	}
	receiptOpts = append(receiptOpts, receipt.WithExecution(receipt.ExecutionSummary{
		TenantID:     req.TenantID,
		Stage:        res.Stage,
		Denial:       string(res.Denial),
		TimedOut:     res.TimedOut,
		ChainID:      res.Audit.ChainID,
		ProvenanceID: res.Audit.ProvenanceID,
		DurationMs:   res.Metrics.TotalDurationMs,
	}))

	if runFormatFlag == formatJSON {
		if err := writeJSON(os.Stdout, res); err != nil {
			return err
		}
	} else {
		writeRunText(os.Stdout, res)
	}

	if res.Success {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("execution failed: %s", res.Error)
}

// loadManifest reads a manifest file, JSON for *.json and YAML otherwise.
func loadManifest(path string) (*identity.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m identity.Manifest
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <manifest>",
	Short: "Print the canonical fingerprint of an engine manifest",
	Long: `Prints the sha256 fingerprint that run --fingerprint expects. The
fingerprint is computed over canonical JSON, so key order does not matter.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManifest(args[0])
		if err != nil {
			return err
		}
		fp, err := m.Fingerprint()
		if err != nil {
			return err
		}
		if m.Image != "" {
			if err := identity.ValidateImagePinned(m.Image); err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", paint(colorYellow, "warning:"), err)
			}
		}
		fmt.Println(fp)
		return nil
	},
}

func GetFingerprintCmd() *cobra.Command {
	return fingerprintCmd
}

func writeRunText(w io.Writer, res pipeline.Result) {
	switch {
	case res.Success:
		fmt.Fprintln(w, paint(colorGreen, "execgate run: SUCCESS"))
	case res.Denial != "":
		fmt.Fprintf(w, "%s at stage %s (%s)\n", paint(colorRed, "execgate run: DENIED"), res.Stage, res.Denial)
	case res.TimedOut:
		fmt.Fprintln(w, paint(colorYellow, "execgate run: TIMEOUT"))
	default:
		fmt.Fprintf(w, "%s at stage %s\n", paint(colorRed, "execgate run: FAILED"), res.Stage)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", res.Error)
	}
	if res.Audit.ChainID != "" {
		fmt.Fprintf(w, "Chain: %s  Zone: %s  Provenance: %s\n", res.Audit.ChainID, res.Audit.ZoneID, res.Audit.ProvenanceID)
	}
	fmt.Fprintf(w, "Timing: total %.1fms, verification %.1fms, execution %.1fms\n",
		res.Metrics.TotalDurationMs, res.Metrics.VerificationMs, res.Metrics.ExecutionMs)
	if res.Result != "" {
		fmt.Fprintln(w, "\nOutput:")
		fmt.Fprint(w, res.Result)
		if res.Result[len(res.Result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}
