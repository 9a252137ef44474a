package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mcptrust/execgate/internal/governance"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/receipt"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review --action <name> --payload <file>",
	Short: "Review a proposed action with the governance guardians",
	Long: `Runs the schema, performance, compliance, drift and explainability
guardians over a proposed action. Any DENY fails the review; WARN passes
with warnings.

Examples:
  execgate review --action config.update --payload new.json --baseline current.json
  execgate review --batch proposals.json --format json`,
	Args: cobra.NoArgs,
	RunE: runReview,
}

var (
	reviewActionFlag   string
	reviewPayloadFlag  string
	reviewBaselineFlag string
	reviewTenantFlag   string
	reviewActorFlag    string
	reviewBatchFlag    string
	reviewFormatFlag   string
)

func init() {
	reviewCmd.Flags().StringVar(&reviewActionFlag, "action", "", "Action name, e.g. config.update or data.export")
	reviewCmd.Flags().StringVar(&reviewPayloadFlag, "payload", "", "JSON file with the proposed payload (- for stdin)")
	reviewCmd.Flags().StringVar(&reviewBaselineFlag, "baseline", "", "JSON file with the current state, for drift review")
	reviewCmd.Flags().StringVar(&reviewTenantFlag, "tenant", "", "Tenant ID")
	reviewCmd.Flags().StringVar(&reviewActorFlag, "actor", "cli", "Actor proposing the action")
	reviewCmd.Flags().StringVar(&reviewBatchFlag, "batch", "", "JSON file with an array of review requests")
	reviewCmd.Flags().StringVar(&reviewFormatFlag, "format", formatText, "Output format: text or json")
	reviewCmd.MarkFlagsMutuallyExclusive("batch", "action")
}

func GetReviewCmd() *cobra.Command {
	return reviewCmd
}

// ReviewOutput is one reviewed action.
type ReviewOutput struct {
	models.GovernanceResult
	Error string `json:"error,omitempty"`
}

func runReview(cmd *cobra.Command, args []string) (err error) {
	if err := checkFormat(reviewFormatFlag); err != nil {
		return err
	}
	var reqs []governance.Request
	switch {
	case reviewBatchFlag != "":
		if err := readJSONFile(reviewBatchFlag, &reqs); err != nil {
			return err
		}
	case reviewActionFlag != "":
		req, err := singleReviewRequest()
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	default:
		return usagef("either --action or --batch is required")
	}

	ctx := cmd.Context()
	sess := receipt.Start(ctx, "execgate review", os.Args[1:])
	var receiptOpts []receipt.Option
	defer func() { _ = sess.Finish(err, receiptOpts...) }()

	ctx, end := startCommand(ctx, "review")
	defer func() { end(err) }()

	k, err := openKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	var outputs []ReviewOutput
	var denied []error
	for _, br := range k.Governance.ReviewBatch(ctx, reqs) {
		out := ReviewOutput{GovernanceResult: br.Result}
		var gde *governance.GovernanceDenialError
		if errors.As(br.Err, &gde) {
			out.GovernanceResult = gde.Result
		}
		if br.Err != nil {
			out.Error = br.Err.Error()
			denied = append(denied, br.Err)
		}
		outputs = append(outputs, out)
		receiptOpts = append(receiptOpts, receipt.WithGovernance(out.Action, string(out.Status), guardianHits(out.Decisions)))
	}

	if reviewFormatFlag == formatJSON {
		var payload any = outputs
		if reviewBatchFlag == "" {
			payload = outputs[0]
		}
		if err := writeJSON(os.Stdout, payload); err != nil {
			return err
		}
	} else {
		for i, out := range outputs {
			if i > 0 {
				fmt.Println()
			}
			writeReviewText(os.Stdout, out)
		}
	}
	return errors.Join(denied...)
}

func singleReviewRequest() (governance.Request, error) {
	req := governance.Request{
		Action:  reviewActionFlag,
		Context: governance.ReviewContext{TenantID: reviewTenantFlag, ActorID: reviewActorFlag},
	}
	if reviewPayloadFlag == "" {
		return req, usagef("--payload is required with --action")
	}
	if err := readJSONFile(reviewPayloadFlag, &req.Payload); err != nil {
		return req, err
	}
	if reviewBaselineFlag != "" {
		if err := readJSONFile(reviewBaselineFlag, &req.Context.Baseline); err != nil {
			return req, err
		}
	}
	return req, nil
}

func readJSONFile(path string, v any) error {
	data, err := readSource(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// guardianHits keeps the decisions that were not a plain ALLOW.
func guardianHits(decisions []models.GuardianDecision) []receipt.GuardianHit {
	var hits []receipt.GuardianHit
	for _, d := range decisions {
		if d.Status == models.GuardianAllow {
			continue
		}
		hits = append(hits, receipt.GuardianHit{Name: d.Guardian, Verdict: string(d.Status), Reasons: []string{d.Reason}})
	}
	return hits
}

func writeReviewText(w io.Writer, out ReviewOutput) {
	status := string(out.Status)
	switch out.Status {
	case models.GovernanceApproved:
		status = paint(colorGreen, status)
	case models.GovernanceWarning:
		status = paint(colorYellow, status)
	default:
		status = paint(colorRed, status)
	}
	fmt.Fprintf(w, "execgate review: %s (action=%s)\n", status, out.Action)
	for _, d := range out.Decisions {
		fmt.Fprintf(w, "- %-16s %-5s %s\n", d.Guardian, d.Status, d.Reason)
	}
	if out.Explanation.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", out.Explanation.Summary)
		for _, r := range out.Explanation.Rationale {
			fmt.Fprintf(w, "  %s\n", r)
		}
		if len(out.Explanation.Alternatives) > 0 {
			fmt.Fprintln(w, "Alternatives:")
			for _, a := range out.Explanation.Alternatives {
				fmt.Fprintf(w, "- %s\n", a)
			}
		}
		if !out.Explanation.Reversible {
			fmt.Fprintln(w, paint(colorYellow, "This action is not reversible."))
		}
	}
}
