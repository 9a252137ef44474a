// Package classifier combines the static threat scan with intent analysis
// into one behavior classification.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/mcptrust/execgate/internal/llm"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/threat"
)

// ShortCircuitScore is the static score at which intent analysis is
// skipped and the code is classified malicious outright.
const ShortCircuitScore = 70

// shortCircuitConfidence is reported for static-only malicious verdicts.
const shortCircuitConfidence = 0.95

// Classifier is stateless apart from its collaborators.
type Classifier struct {
	matrix   *threat.Matrix
	analyzer llm.Analyzer
}

func New(matrix *threat.Matrix, analyzer llm.Analyzer) *Classifier {
	return &Classifier{matrix: matrix, analyzer: analyzer}
}

// Classify runs the static scan and, unless it is already conclusive,
// intent analysis. The final intent is the worse of the two.
func (c *Classifier) Classify(ctx context.Context, code, execContext string) models.BehaviorClassification {
	analysis := c.matrix.Analyze(code)
	if analysis.RiskScore >= ShortCircuitScore {
		return staticVerdict(analysis)
	}

	staticIntent := models.IntentFromScore(analysis.RiskScore)
	staticConf := staticConfidence(analysis)

	intent := c.analyzer.AnalyzeIntent(ctx, code, execContext)

	patterns := threatNames(analysis)
	for _, p := range intent.Patterns {
		if !contains(patterns, p) {
			patterns = append(patterns, p)
		}
	}

	reasons := []string{"[Static] " + staticReason(analysis)}
	if intent.Explanation != "" {
		reasons = append(reasons, "[LLM] "+intent.Explanation)
	}

	return models.BehaviorClassification{
		Intent:      models.WorseIntent(staticIntent, intent.Intent),
		Confidence:  (staticConf + intent.Confidence) / 2,
		Explanation: strings.Join(reasons, " "),
		Patterns:    patterns,
		Source:      models.SourceHybrid,
		RiskScore:   analysis.RiskScore,
	}
}

// ClassifyStatic uses only the threat matrix.
func (c *Classifier) ClassifyStatic(code string) models.BehaviorClassification {
	analysis := c.matrix.Analyze(code)
	if analysis.RiskScore >= ShortCircuitScore {
		return staticVerdict(analysis)
	}
	return models.BehaviorClassification{
		Intent:      models.IntentFromScore(analysis.RiskScore),
		Confidence:  staticConfidence(analysis),
		Explanation: "[Static] " + staticReason(analysis),
		Patterns:    threatNames(analysis),
		Source:      models.SourceStatic,
		RiskScore:   analysis.RiskScore,
	}
}

func staticVerdict(a threat.Analysis) models.BehaviorClassification {
	return models.BehaviorClassification{
		Intent:      models.IntentMalicious,
		Confidence:  shortCircuitConfidence,
		Explanation: "[Static] " + staticReason(a),
		Patterns:    threatNames(a),
		Source:      models.SourceStatic,
		RiskScore:   a.RiskScore,
	}
}

// staticConfidence grows with the number of distinct findings. A clean scan
// is fairly, not fully, trusted.
func staticConfidence(a threat.Analysis) float64 {
	if a.Safe {
		return 0.7
	}
	return min(0.9, 0.6+0.1*float64(len(a.Threats)))
}

func staticReason(a threat.Analysis) string {
	if a.Safe {
		return "No threat patterns matched."
	}
	return fmt.Sprintf("Matched %s (risk score %d).", strings.Join(threatNames(a), ", "), a.RiskScore)
}

func threatNames(a threat.Analysis) []string {
	names := make([]string, 0, len(a.Threats))
	for _, f := range a.Threats {
		names = append(names, f.Name)
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
