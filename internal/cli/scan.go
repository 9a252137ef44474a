package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mcptrust/execgate/internal/firewall"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/receipt"
	"github.com/mcptrust/execgate/internal/rulebook"
	"github.com/mcptrust/execgate/internal/threat"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [file|-]",
	Short: "Analyze code without executing it",
	Long: `Runs the threat matrix, intent classifier and rulebook over a script and
reports whether the firewall would allow it. Nothing is executed.

Examples:
  execgate scan job.js
  cat job.js | execgate scan --context sandbox --format json
  execgate scan --llm job.js`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var (
	scanContextFlag string
	scanLLMFlag     bool
	scanFormatFlag  string
)

func init() {
	scanCmd.Flags().StringVar(&scanContextFlag, "context", "sandbox", "Execution context the code is destined for")
	scanCmd.Flags().BoolVar(&scanLLMFlag, "llm", false, "Ask the configured LLM providers for an intent verdict")
	scanCmd.Flags().StringVar(&scanFormatFlag, "format", formatText, "Output format: text or json")
}

func GetScanCmd() *cobra.Command {
	return scanCmd
}

// ScanReport is the output of scan.
type ScanReport struct {
	Context        string                        `json:"context"`
	Analysis       threat.Analysis               `json:"analysis"`
	Explanation    threat.Explanation            `json:"explanation"`
	Classification models.BehaviorClassification `json:"classification"`
	Rulebook       rulebook.Result               `json:"rulebook"`
	Decision       firewall.Decision             `json:"decision"`
}

func runScan(cmd *cobra.Command, args []string) (err error) {
	if err := checkFormat(scanFormatFlag); err != nil {
		return err
	}
	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	ctx := cmd.Context()
	sess := receipt.Start(ctx, "execgate scan", os.Args[1:])
	defer func() { _ = sess.Finish(err, receipt.WithInput(path)) }()

	ctx, end := startCommand(ctx, "scan")
	defer func() { end(err) }()

	code, err := readSource(path)
	if err != nil {
		return err
	}
	k, err := openKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	report := ScanReport{
		Context:  scanContextFlag,
		Analysis: k.Matrix.Analyze(code),
		Rulebook: k.Rulebook.Evaluate(code, scanContextFlag),
		Decision: k.Firewall.Check(code, scanContextFlag),
	}
	report.Explanation = threat.Explain(report.Analysis)
	if scanLLMFlag {
		report.Classification = k.Classifier.Classify(ctx, code, scanContextFlag)
	} else {
		report.Classification = k.Classifier.ClassifyStatic(code)
	}

	if scanFormatFlag == formatJSON {
		err = writeJSON(os.Stdout, report)
	} else {
		writeScanText(os.Stdout, report)
	}
	if err != nil {
		return err
	}
	if !report.Decision.Allowed {
		return &models.DenialError{Category: models.DenialFirewall, Reason: report.Decision.Reason}
	}
	return nil
}

func writeScanText(w io.Writer, r ScanReport) {
	if r.Decision.Allowed {
		fmt.Fprintf(w, "%s (context=%s)\n", paint(colorGreen, "execgate scan: ALLOW"), r.Context)
	} else {
		fmt.Fprintf(w, "%s (context=%s)\n", paint(colorRed, "execgate scan: BLOCK"), r.Context)
		fmt.Fprintf(w, "Reason: %s\n", r.Decision.Reason)
	}
	fmt.Fprintf(w, "Intent: %s (confidence %.2f, source %s)\n", r.Classification.Intent, r.Classification.Confidence, r.Classification.Source)
	fmt.Fprintf(w, "Risk score: %d (%s)\n\n", r.Analysis.RiskScore, r.Analysis.Recommendation)

	fmt.Fprintln(w, paint(colorBold, r.Explanation.Summary))
	for _, f := range r.Explanation.Findings {
		fmt.Fprintf(w, "- %s %s x%d: %s\n", paint(severityColor(f.Severity), strings.ToUpper(string(f.Severity))), f.Pattern, f.Occurrences, f.Description)
		if f.Example != "" {
			fmt.Fprintf(w, "    %s\n", f.Example)
		}
	}
	if len(r.Explanation.Remediation) > 0 {
		fmt.Fprintln(w, "\nRemediation:")
		for _, line := range r.Explanation.Remediation {
			fmt.Fprintf(w, "- %s\n", line)
		}
	}
	if len(r.Rulebook.Warnings) > 0 {
		fmt.Fprintln(w, "\nRule warnings:")
		for _, m := range r.Rulebook.Warnings {
			fmt.Fprintf(w, "- %s: %s\n", m.RuleID, m.Message)
		}
	}
}

func severityColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return colorRed
	case models.SeverityMedium:
		return colorYellow
	default:
		return ""
	}
}
