package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mcptrust/execgate/internal/models"
)

const GuardianPerformance = "performance"

// PerformanceLimits bound the cost of a single action.
type PerformanceLimits struct {
	WarnPayloadBytes int `yaml:"warn_payload_bytes"`
	MaxPayloadBytes  int `yaml:"max_payload_bytes"`
	// NumericLimits caps numeric payload fields such as batchSize. Values
	// above the limit warn; values above ten times the limit deny.
	NumericLimits map[string]float64 `yaml:"numeric_limits"`
}

func DefaultPerformanceLimits() PerformanceLimits {
	return PerformanceLimits{
		WarnPayloadBytes: 256 * 1024,
		MaxPayloadBytes:  1024 * 1024,
		NumericLimits: map[string]float64{
			"batchsize":   1000,
			"limit":       10000,
			"concurrency": 16,
			"timeoutms":   30000,
		},
	}
}

type PerformanceGuardian struct {
	limits PerformanceLimits
}

func NewPerformanceGuardian(limits PerformanceLimits) *PerformanceGuardian {
	norm := make(map[string]float64, len(limits.NumericLimits))
	for k, v := range limits.NumericLimits {
		norm[normalizeField(k)] = v
	}
	limits.NumericLimits = norm
	return &PerformanceGuardian{limits: limits}
}

func (g *PerformanceGuardian) Name() string { return GuardianPerformance }

func (g *PerformanceGuardian) Review(ctx context.Context, req Request) (models.GuardianDecision, error) {
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return models.GuardianDecision{}, fmt.Errorf("failed to measure payload: %w", err)
	}
	size := len(raw)
	details := map[string]any{"payloadBytes": size}

	if g.limits.MaxPayloadBytes > 0 && size > g.limits.MaxPayloadBytes {
		return decide(GuardianPerformance, models.GuardianDeny,
			fmt.Sprintf("payload is %d bytes (max %d)", size, g.limits.MaxPayloadBytes), details), nil
	}

	var warnings, denials []string
	if g.limits.WarnPayloadBytes > 0 && size > g.limits.WarnPayloadBytes {
		warnings = append(warnings, fmt.Sprintf("payload is %d bytes", size))
	}
	for field, v := range req.Payload {
		limit, ok := g.limits.NumericLimits[normalizeField(field)]
		if !ok {
			continue
		}
		n, ok := v.(float64)
		if !ok {
			if i, isInt := v.(int); isInt {
				n, ok = float64(i), true
			}
		}
		if !ok {
			continue
		}
		switch {
		case n > limit*10:
			denials = append(denials, fmt.Sprintf("%s=%g exceeds %g", field, n, limit*10))
		case n > limit:
			warnings = append(warnings, fmt.Sprintf("%s=%g above recommended %g", field, n, limit))
		}
	}

	sort.Strings(denials)
	sort.Strings(warnings)
	if len(denials) > 0 {
		details["violations"] = denials
		return decide(GuardianPerformance, models.GuardianDeny, strings.Join(denials, "; "), details), nil
	}
	if len(warnings) > 0 {
		details["warnings"] = warnings
		return decide(GuardianPerformance, models.GuardianWarn, strings.Join(warnings, "; "), details), nil
	}
	return decide(GuardianPerformance, models.GuardianAllow, "within performance limits", details), nil
}
