package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/mcptrust/execgate/internal/models"
	"github.com/spf13/cobra"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Score current system risk",
	Long: `Samples process health, checks integrity baselines and recent violations,
and prints the weighted risk score with a degradation forecast.`,
	Args: cobra.NoArgs,
	RunE: runRisk,
}

var riskFormatFlag string

func init() {
	riskCmd.Flags().StringVar(&riskFormatFlag, "format", formatText, "Output format: text or json")
}

func GetRiskCmd() *cobra.Command {
	return riskCmd
}

// RiskReport is the output of risk.
type RiskReport struct {
	Health     models.HealthSnapshot        `json:"health"`
	Risk       models.RiskScore             `json:"risk"`
	Prediction models.DegradationPrediction `json:"prediction"`
	Trend      models.Trend                 `json:"trend"`
}

func runRisk(cmd *cobra.Command, args []string) (err error) {
	if err := checkFormat(riskFormatFlag); err != nil {
		return err
	}
	ctx, end := startCommand(cmd.Context(), "risk")
	defer func() { end(err) }()

	k, err := openKernel(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	report := RiskReport{Health: k.Health.Record()}
	report.Risk = k.Risk.Score(ctx)
	report.Prediction = k.Health.Predict(ctx)
	report.Trend = k.Risk.Trend()

	if riskFormatFlag == formatJSON {
		return writeJSON(os.Stdout, report)
	}
	writeRiskText(os.Stdout, report)
	return nil
}

func riskColor(level models.RiskLevel) string {
	switch level {
	case models.RiskLevelCritical, models.RiskLevelHigh:
		return colorRed
	case models.RiskLevelMedium:
		return colorYellow
	default:
		return colorGreen
	}
}

func writeRiskText(w io.Writer, r RiskReport) {
	fmt.Fprintf(w, "execgate risk: %s (score %d)\n", paint(riskColor(r.Risk.Level), string(r.Risk.Level)), r.Risk.Score)
	for _, f := range r.Risk.Factors {
		fmt.Fprintf(w, "- %-12s %3d  weight %.0f%%  %s\n", f.Name, f.Score, f.Weight, f.Details)
	}
	if r.Risk.Recommendation != "" {
		fmt.Fprintf(w, "\n%s\n", r.Risk.Recommendation)
	}
	fmt.Fprintf(w, "\nForecast: %s (score %d)", paint(riskColor(r.Prediction.Risk), string(r.Prediction.Risk)), r.Prediction.Score)
	if r.Prediction.TimeToIssue != "" {
		fmt.Fprintf(w, ", issue expected in %s", r.Prediction.TimeToIssue)
	}
	fmt.Fprintln(w)
	for _, f := range r.Prediction.Factors {
		fmt.Fprintf(w, "- %s\n", f)
	}
}
