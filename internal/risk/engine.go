// Package risk aggregates health, integrity, recent violations and the
// degradation forecast into one weighted score.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "risk"

// HistorySize is the capacity of the score history.
const HistorySize = 100

// trendWindow is the number of scores on each side of a trend comparison.
const trendWindow = 5

// trendDelta is the mean change that counts as improving or degrading.
const trendDelta = 10.0

// violationWindow is how far back recent violations are counted.
const violationWindow = time.Hour

// Factor names.
const (
	FactorHealth     = "system_health"
	FactorIntegrity  = "integrity"
	FactorViolations = "recent_violations"
	FactorPrediction = "degradation_prediction"
)

// HealthSource supplies vitals and the degradation forecast.
type HealthSource interface {
	Latest() models.HealthSnapshot
	Predict(ctx context.Context) models.DegradationPrediction
}

// IntegritySource reports current integrity mismatches without side
// effects.
type IntegritySource interface {
	Inspect(ctx context.Context) []models.IntegrityViolation
}

// ViolationSource counts violations recorded since a point in time.
type ViolationSource interface {
	ViolationsSince(t time.Time) int
}

// Weights are percentages; they need not sum to 100.
type Weights struct {
	Health     float64 `yaml:"health"`
	Integrity  float64 `yaml:"integrity"`
	Violations float64 `yaml:"violations"`
	Prediction float64 `yaml:"prediction"`
}

func DefaultWeights() Weights {
	return Weights{Health: 30, Integrity: 25, Violations: 20, Prediction: 25}
}

// Engine computes scores and keeps their history.
type Engine struct {
	health     HealthSource
	integrity  IntegritySource
	violations []ViolationSource
	weights    Weights
	log        logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	history []models.RiskScore
}

// NewEngine builds an engine. Any nil source drops its factor from the
// weighted average.
func NewEngine(health HealthSource, integrity IntegritySource, weights Weights, log logging.Logger, violations ...ViolationSource) *Engine {
	return &Engine{
		health:     health,
		integrity:  integrity,
		violations: violations,
		weights:    weights,
		log:        logging.OrNop(log),
		now:        time.Now,
	}
}

// Score computes the weighted score and appends it to the history. A
// factor whose source fails is left out and the remaining weights are
// renormalized.
func (e *Engine) Score(ctx context.Context) models.RiskScore {
	var factors []models.RiskFactor
	add := func(name string, weight float64, fn func() (int, string)) {
		if weight <= 0 {
			return
		}
		score, details, ok := e.safeFactor(name, fn)
		if !ok {
			return
		}
		factors = append(factors, models.RiskFactor{Name: name, Weight: weight, Score: score, Details: details})
	}

	if e.health != nil {
		add(FactorHealth, e.weights.Health, func() (int, string) {
			return HealthScore(e.health.Latest())
		})
	}
	if e.integrity != nil {
		add(FactorIntegrity, e.weights.Integrity, func() (int, string) {
			found := e.integrity.Inspect(ctx)
			if len(found) == 0 {
				return 0, "all tracked files match their baseline"
			}
			return min(100, len(found)*25), fmt.Sprintf("%d integrity violations", len(found))
		})
	}
	if len(e.violations) > 0 {
		add(FactorViolations, e.weights.Violations, func() (int, string) {
			since := e.now().Add(-violationWindow)
			n := 0
			for _, src := range e.violations {
				n += src.ViolationsSince(since)
			}
			return min(100, n*20), fmt.Sprintf("%d violations in the last hour", n)
		})
	}
	if e.health != nil {
		add(FactorPrediction, e.weights.Prediction, func() (int, string) {
			p := e.health.Predict(ctx)
			return p.Score, fmt.Sprintf("predicted %s risk", p.Risk)
		})
	}

	var weighted, totalWeight float64
	for _, f := range factors {
		weighted += float64(f.Score) * f.Weight
		totalWeight += f.Weight
	}
	score := 0
	if totalWeight > 0 {
		score = int(math.Round(weighted / totalWeight))
	}
	level := LevelFor(score)

	rs := models.RiskScore{
		Level:          level,
		Score:          score,
		Factors:        factors,
		Timestamp:      e.now().UTC(),
		Recommendation: recommendations[level],
	}

	e.mu.Lock()
	e.history = append(e.history, rs)
	if len(e.history) > HistorySize {
		e.history = e.history[len(e.history)-HistorySize:]
	}
	e.mu.Unlock()
	return rs
}

func (e *Engine) safeFactor(name string, fn func() (int, string)) (score int, details string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn(component, "risk factor failed", "factor", name, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	score, details = fn()
	return max(0, min(100, score)), details, true
}

// HealthScore re-derives a 0-100 sub-score from raw vitals.
func HealthScore(s models.HealthSnapshot) (int, string) {
	score := 0
	switch {
	case s.CPULoad > 4.0:
		score += 40
	case s.CPULoad > 2.0:
		score += 20
	}
	switch {
	case s.HeapRatio > 0.9:
		score += 35
	case s.HeapRatio > 0.75:
		score += 15
	}
	switch {
	case s.RSSRatio > 0.85:
		score += 25
	case s.RSSRatio > 0.70:
		score += 10
	}
	return min(100, score), fmt.Sprintf("load %.2f, heap %.0f%%, rss %.0f%%", s.CPULoad, s.HeapRatio*100, s.RSSRatio*100)
}

// LevelFor bands a score: <25 LOW, <50 MEDIUM, <75 HIGH, else CRITICAL.
func LevelFor(score int) models.RiskLevel {
	switch {
	case score < 25:
		return models.RiskLevelLow
	case score < 50:
		return models.RiskLevelMedium
	case score < 75:
		return models.RiskLevelHigh
	default:
		return models.RiskLevelCritical
	}
}

var recommendations = map[models.RiskLevel]string{
	models.RiskLevelLow:      "System operating normally.",
	models.RiskLevelMedium:   "Elevated risk. Increase monitoring and review recent violations.",
	models.RiskLevelHigh:     "High risk. Restrict operations to reads until the cause is resolved.",
	models.RiskLevelCritical: "Critical risk. Enter emergency lockdown and investigate immediately.",
}

// History returns recorded scores oldest first.
func (e *Engine) History() []models.RiskScore {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.RiskScore(nil), e.history...)
}

// Trend compares the mean of the last five scores with the five before
// them. Fewer than five scores, or nothing to compare against, is stable.
func (e *Engine) Trend() models.Trend {
	h := e.History()
	if len(h) < trendWindow {
		return models.TrendStable
	}
	recent := h[len(h)-trendWindow:]
	prior := h[max(0, len(h)-2*trendWindow) : len(h)-trendWindow]
	if len(prior) == 0 {
		return models.TrendStable
	}

	delta := mean(recent) - mean(prior)
	switch {
	case delta <= -trendDelta:
		return models.TrendImproving
	case delta >= trendDelta:
		return models.TrendDegrading
	default:
		return models.TrendStable
	}
}

func mean(scores []models.RiskScore) float64 {
	var sum float64
	for _, s := range scores {
		sum += float64(s.Score)
	}
	return sum / float64(len(scores))
}
