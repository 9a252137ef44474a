package threat

import (
	"fmt"
	"sort"

	"github.com/mcptrust/execgate/internal/models"
)

// Explanation is the human-readable rendering of an Analysis.
type Explanation struct {
	Summary     string         `json:"summary"`
	Findings    []ExplainEntry `json:"findings,omitempty"`
	Remediation []string       `json:"remediation,omitempty"`
}

// ExplainEntry describes one finding.
type ExplainEntry struct {
	Pattern     string                `json:"pattern"`
	Severity    models.Severity       `json:"severity"`
	Category    models.ThreatCategory `json:"category"`
	Description string                `json:"description"`
	Occurrences int                   `json:"occurrences"`
	Example     string                `json:"example,omitempty"`
}

var remediationByCategory = map[models.ThreatCategory]string{
	models.CategoryInjection: "Replace dynamic code evaluation with explicit, static logic.",
	models.CategoryLoop:      "Add a termination condition or iteration bound to every loop.",
	models.CategoryMemory:    "Stream or chunk large data instead of allocating it up front.",
	models.CategoryEnv:       "Pass required configuration explicitly instead of reading the host environment.",
	models.CategoryPrivilege: "Remove process control and filesystem mutation; request a kernel capability instead.",
	models.CategoryNetwork:   "Route outbound calls through an approved connector.",
}

var categoryOrder = []models.ThreatCategory{
	models.CategoryInjection,
	models.CategoryPrivilege,
	models.CategoryLoop,
	models.CategoryMemory,
	models.CategoryNetwork,
	models.CategoryEnv,
}

// Explain renders an Analysis with findings ordered by severity and one
// remediation line per affected category.
func Explain(a Analysis) Explanation {
	if a.Safe {
		return Explanation{Summary: "No threat patterns matched."}
	}

	entries := make([]ExplainEntry, 0, len(a.Threats))
	categories := make(map[models.ThreatCategory]bool)
	for _, f := range a.Threats {
		e := ExplainEntry{
			Pattern:     f.Name,
			Severity:    f.Severity,
			Category:    f.Category,
			Description: f.Description,
			Occurrences: f.Count,
		}
		if len(f.Matches) > 0 {
			e.Example = f.Matches[0]
		}
		entries = append(entries, e)
		categories[f.Category] = true
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Severity.Score() > entries[j].Severity.Score()
	})

	var remediation []string
	for _, c := range categoryOrder {
		if categories[c] {
			remediation = append(remediation, remediationByCategory[c])
		}
	}

	noun := "patterns"
	if len(entries) == 1 {
		noun = "pattern"
	}
	return Explanation{
		Summary:     fmt.Sprintf("%d threat %s matched (risk score %d, highest severity %s). %s", len(entries), noun, a.RiskScore, entries[0].Severity, a.Recommendation),
		Findings:    entries,
		Remediation: remediation,
	}
}
