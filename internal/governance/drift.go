package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wI2L/jsondiff"

	"github.com/mcptrust/execgate/internal/models"
)

const GuardianDrift = "drift"

// DriftPolicy decides how much a payload may diverge from its baseline.
type DriftPolicy struct {
	// ProtectedPaths are JSON pointer prefixes that may not change.
	ProtectedPaths []string `yaml:"protected_paths"`
	// MaxOperations above which the change is flagged as large.
	MaxOperations int `yaml:"max_operations"`
}

func DefaultDriftPolicy() DriftPolicy {
	return DriftPolicy{
		ProtectedPaths: []string{"/security", "/auth", "/permissions", "/tenantId"},
		MaxOperations:  25,
	}
}

type DriftGuardian struct {
	policy DriftPolicy
}

func NewDriftGuardian(policy DriftPolicy) *DriftGuardian {
	return &DriftGuardian{policy: policy}
}

func (g *DriftGuardian) Name() string { return GuardianDrift }

// Diff computes the JSON patch from baseline to proposed.
func Diff(baseline, proposed map[string]any) (jsondiff.Patch, error) {
	src, err := json.Marshal(baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal baseline: %w", err)
	}
	dst, err := json.Marshal(proposed)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proposal: %w", err)
	}
	patch, err := jsondiff.CompareJSON(src, dst)
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff: %w", err)
	}
	return patch, nil
}

func (g *DriftGuardian) Review(ctx context.Context, req Request) (models.GuardianDecision, error) {
	if req.Context.Baseline == nil {
		return decide(GuardianDrift, models.GuardianAllow, "no baseline to compare", nil), nil
	}
	patch, err := Diff(req.Context.Baseline, req.Payload)
	if err != nil {
		return models.GuardianDecision{}, err
	}
	if len(patch) == 0 {
		return decide(GuardianDrift, models.GuardianAllow, "no drift from baseline", nil), nil
	}

	var protected, removed []string
	for _, op := range patch {
		if g.isProtected(op.Path) {
			protected = append(protected, op.Path)
		}
		if op.Type == jsondiff.OperationRemove {
			removed = append(removed, op.Path)
		}
	}
	details := map[string]any{
		"operations": len(patch),
		"changes":    DescribePatch(patch),
	}

	switch {
	case len(protected) > 0:
		details["protected"] = protected
		return decide(GuardianDrift, models.GuardianDeny,
			fmt.Sprintf("change touches protected paths: %s", strings.Join(protected, ", ")), details), nil
	case g.policy.MaxOperations > 0 && len(patch) > g.policy.MaxOperations:
		return decide(GuardianDrift, models.GuardianWarn,
			fmt.Sprintf("large change: %d operations (max %d)", len(patch), g.policy.MaxOperations), details), nil
	case len(removed) > 0:
		details["removed"] = removed
		return decide(GuardianDrift, models.GuardianWarn,
			fmt.Sprintf("change removes %d baseline field(s)", len(removed)), details), nil
	}
	return decide(GuardianDrift, models.GuardianAllow, fmt.Sprintf("%d compatible change(s)", len(patch)), details), nil
}

func (g *DriftGuardian) isProtected(path string) bool {
	for _, p := range g.policy.ProtectedPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// DescribePatch renders each operation as a short sentence.
func DescribePatch(patch jsondiff.Patch) []string {
	out := make([]string, 0, len(patch))
	for _, op := range patch {
		switch op.Type {
		case jsondiff.OperationAdd:
			out = append(out, fmt.Sprintf("added %s", op.Path))
		case jsondiff.OperationRemove:
			out = append(out, fmt.Sprintf("removed %s", op.Path))
		case jsondiff.OperationReplace:
			out = append(out, fmt.Sprintf("changed %s", op.Path))
		case jsondiff.OperationMove:
			out = append(out, fmt.Sprintf("moved %s to %s", op.From, op.Path))
		case jsondiff.OperationCopy:
			out = append(out, fmt.Sprintf("copied %s to %s", op.From, op.Path))
		}
	}
	return out
}
