package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mcptrust/execgate/internal/models"
)

type heuristicRule struct {
	name   string
	re     *regexp.Regexp
	points int
}

// heuristicRules is the deterministic fallback scorer.
var heuristicRules = []heuristicRule{
	{"dynamic evaluation", regexp.MustCompile(`\beval\s*\(`), 40},
	{"function constructor", regexp.MustCompile(`\bnew\s+Function\s*\(`), 40},
	{"process spawning", regexp.MustCompile(`child_process|\bspawn(?:Sync)?\s*\(|\bexec(?:Sync|File)?\s*\(`), 50},
	{"prototype mutation", regexp.MustCompile(`__proto__|\bsetPrototypeOf\s*\(|\.prototype\s*\[`), 35},
	{"oversized allocation", regexp.MustCompile(`\bnew\s+Array\s*\(\s*\d{7,}|\bBuffer\.alloc(?:Unsafe)?\s*\(\s*\d{8,}`), 30},
	{"unbounded loop", regexp.MustCompile(`\bwhile\s*\(\s*(?:true|1|!0)\s*\)|\bfor\s*\(\s*;\s*;\s*\)`), 40},
	{"environment access", regexp.MustCompile(`\bprocess\.env\b`), 20},
	{"filesystem mutation", regexp.MustCompile(`\bfs\.(?:writeFile|appendFile|unlink|rm|rmdir|chmod|chown)(?:Sync)?\s*\(`), 30},
	{"network access", regexp.MustCompile(`\bfetch\s*\(|\bXMLHttpRequest\b|\bWebSocket\b|require\s*\(\s*['"](?:http|https|net)['"]`), 20},
	{"process termination", regexp.MustCompile(`\bprocess\.(?:exit|kill|abort)\s*\(`), 25},
}

// Heuristic scores code without any backend. It never fails.
type Heuristic struct{}

func (Heuristic) Name() string { return ProviderHeuristic }

// Score returns the matched rule names and the clamped total.
func (Heuristic) Score(code string) ([]string, int) {
	var matched []string
	score := 0
	for _, r := range heuristicRules {
		if r.re.MatchString(code) {
			matched = append(matched, r.name)
			score += r.points
		}
	}
	if score > 100 {
		score = 100
	}
	return matched, score
}

// Analyze is the fallback verdict. The execution context is reported in
// the explanation but does not change the score.
func (h Heuristic) Analyze(code, execContext string) models.IntentAnalysis {
	matched, score := h.Score(code)
	intent := models.IntentFromScore(score)

	conf := 0.6
	explanation := "Heuristic scan found no dangerous constructs"
	if len(matched) > 0 {
		conf = min(0.9, 0.5+0.1*float64(len(matched)))
		explanation = fmt.Sprintf("Heuristic scan matched %s (score %d)", strings.Join(matched, ", "), score)
	}
	if execContext != "" {
		explanation += " in context " + execContext
	}

	return models.IntentAnalysis{
		Intent:      intent,
		Confidence:  conf,
		Explanation: explanation,
		Patterns:    matched,
		Source:      models.SourceLLM,
		Provider:    ProviderHeuristic,
		Fallback:    true,
		Score:       score,
	}
}
