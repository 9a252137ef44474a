package governance

import (
	"fmt"
	"strings"

	"github.com/mcptrust/execgate/internal/models"
)

const GuardianExplainability = "explainability"

var destructiveVerbs = []string{"delete", "drop", "remove", "destroy", "truncate", "purge", "wipe", "overwrite", "reset"}

// backupFields reference a backup or snapshot taken before the action.
var backupFields = []string{"backup", "backupid", "backupref", "snapshot", "snapshotid", "snapshotref"}

// Explainer turns a decision set into a human-readable explanation. It
// runs after every other guardian, unconditionally.
type Explainer struct{}

// IsDestructive reports whether the action name contains a destructive verb.
func IsDestructive(action string) bool {
	a := strings.ToLower(action)
	for _, v := range destructiveVerbs {
		if strings.Contains(a, v) {
			return true
		}
	}
	return false
}

func hasBackup(payload map[string]any) bool {
	found := false
	walkFields(payload, func(_, key string, value any) {
		k := normalizeField(key)
		for _, b := range backupFields {
			if k == b && value != nil && value != "" && value != false {
				found = true
			}
		}
	})
	return found
}

// Reversible is true for non-destructive actions, and for destructive
// ones only when the payload references a backup or snapshot.
func Reversible(action string, payload map[string]any) bool {
	return !IsDestructive(action) || hasBackup(payload)
}

// Explain summarizes decisions and returns the explainability guardian's
// own decision.
func (Explainer) Explain(req Request, decisions []models.GuardianDecision) (models.GovernanceExplanation, models.GuardianDecision) {
	counts := make(map[models.GuardianStatus]int)
	var rationale, alternatives []string
	for _, d := range decisions {
		counts[d.Status]++
		rationale = append(rationale, fmt.Sprintf("%s: %s (%s)", d.Guardian, d.Status, d.Reason))
		if alt := alternativeFor(d); alt != "" {
			alternatives = append(alternatives, alt)
		}
	}

	reversible := Reversible(req.Action, req.Payload)
	if !reversible {
		alternatives = append(alternatives, "Take a backup or snapshot first and pass its reference in the payload")
	}

	var summary string
	switch {
	case counts[models.GuardianDeny] > 0:
		summary = fmt.Sprintf("Action %q denied by %d of %d guardians", req.Action, counts[models.GuardianDeny], len(decisions))
	case counts[models.GuardianWarn]+counts[models.GuardianError] > 0:
		summary = fmt.Sprintf("Action %q allowed with %d warning(s) and %d guardian error(s)", req.Action, counts[models.GuardianWarn], counts[models.GuardianError])
	default:
		summary = fmt.Sprintf("Action %q approved by all %d guardians", req.Action, len(decisions))
	}
	if !reversible {
		summary += "; the action is not reversible"
	}

	exp := models.GovernanceExplanation{
		Summary:      summary,
		Rationale:    rationale,
		Alternatives: alternatives,
		Reversible:   reversible,
	}
	status, reason := models.GuardianAllow, "explanation produced"
	if !reversible {
		status, reason = models.GuardianWarn, "destructive action without a backup or snapshot reference"
	}
	d := decide(GuardianExplainability, status, reason, map[string]any{"reversible": reversible})
	return exp, d
}

func alternativeFor(d models.GuardianDecision) string {
	if d.Status == models.GuardianAllow {
		return ""
	}
	switch d.Guardian {
	case GuardianSchema:
		return "Fix the payload so it matches the action schema"
	case GuardianPerformance:
		return "Split the action into smaller batches"
	case GuardianCompliance:
		return "Remove, mask or tokenize regulated fields before submitting"
	case GuardianDrift:
		return "Apply the change in smaller steps or request an explicit approval for protected settings"
	}
	if d.Status == models.GuardianError {
		return fmt.Sprintf("Retry once the %s guardian is healthy", d.Guardian)
	}
	return ""
}
