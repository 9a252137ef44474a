// Package health samples process vitals into a bounded history and
// forecasts degradation from it.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "health"

// HistorySize is the capacity of the snapshot ring.
const HistorySize = 60

// trendWindow is the number of samples on each side of a trend comparison.
const trendWindow = 10

// OverloadThreshold is the prediction score at which an overload event is
// published.
const OverloadThreshold = 50

// ExecutionBaseline summarizes executions observed by the monitor.
type ExecutionBaseline struct {
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	MeanMs   float64 `json:"meanMs"`
	LastMs   float64 `json:"lastMs"`
}

// Monitor owns the snapshot history.
type Monitor struct {
	sampler Sampler
	emitter *eventbus.Emitter
	log     logging.Logger

	mu      sync.Mutex
	ring    []models.HealthSnapshot
	next    int
	full    bool
	execs   int
	failed  int
	totalMs float64
	lastMs  float64
}

// NewMonitor builds a monitor. A nil sampler uses the runtime sampler.
func NewMonitor(sampler Sampler, emitter *eventbus.Emitter, log logging.Logger) *Monitor {
	if sampler == nil {
		sampler = NewRuntimeSampler()
	}
	return &Monitor{
		sampler: sampler,
		emitter: emitter,
		log:     logging.OrNop(log),
		ring:    make([]models.HealthSnapshot, HistorySize),
	}
}

// Snapshot reads current vitals without recording them.
func (m *Monitor) Snapshot() models.HealthSnapshot {
	return m.sampler.Sample()
}

// Record samples and appends to the history, evicting the oldest entry
// once full.
func (m *Monitor) Record() models.HealthSnapshot {
	snap := m.sampler.Sample()
	m.append(snap)
	return snap
}

func (m *Monitor) append(snap models.HealthSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = snap
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}
}

// History returns snapshots oldest first.
func (m *Monitor) History() []models.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked()
}

func (m *Monitor) historyLocked() []models.HealthSnapshot {
	if !m.full {
		return append([]models.HealthSnapshot(nil), m.ring[:m.next]...)
	}
	out := make([]models.HealthSnapshot, 0, len(m.ring))
	out = append(out, m.ring[m.next:]...)
	out = append(out, m.ring[:m.next]...)
	return out
}

// Latest returns the most recent recorded snapshot, or a fresh sample if
// nothing has been recorded yet.
func (m *Monitor) Latest() models.HealthSnapshot {
	m.mu.Lock()
	if m.next > 0 || m.full {
		i := (m.next - 1 + len(m.ring)) % len(m.ring)
		snap := m.ring[i]
		m.mu.Unlock()
		return snap
	}
	m.mu.Unlock()
	return m.Snapshot()
}

// ObserveExecution feeds the execution baseline.
func (m *Monitor) ObserveExecution(d time.Duration, ok bool) {
	ms := float64(d.Microseconds()) / 1000
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs++
	if !ok {
		m.failed++
	}
	m.totalMs += ms
	m.lastMs = ms
}

// Baseline returns the execution baseline.
func (m *Monitor) Baseline() ExecutionBaseline {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := ExecutionBaseline{Count: m.execs, Failures: m.failed, LastMs: m.lastMs}
	if m.execs > 0 {
		b.MeanMs = m.totalMs / float64(m.execs)
	}
	return b
}

// Predict forecasts degradation from the latest vitals and the history
// trend. Scores at or above OverloadThreshold publish a predicted-overload
// event.
func (m *Monitor) Predict(ctx context.Context) models.DegradationPrediction {
	history := m.History()
	var current models.HealthSnapshot
	if len(history) > 0 {
		current = history[len(history)-1]
	} else {
		current = m.Snapshot()
	}

	p := Forecast(current, history)
	if p.Score >= OverloadThreshold {
		m.log.Warn(component, "degradation predicted", "score", p.Score, "risk", string(p.Risk))
		m.emitter.Emit(ctx, eventbus.TypePredictedOverload, map[string]any{
			"score":       p.Score,
			"risk":        string(p.Risk),
			"factors":     p.Factors,
			"timeToIssue": p.TimeToIssue,
		})
	}
	return p
}

// Forecast is the pure scoring behind Predict.
func Forecast(current models.HealthSnapshot, history []models.HealthSnapshot) models.DegradationPrediction {
	score := 0
	var factors []string

	switch {
	case current.CPULoad > 4.0:
		score += 40
		factors = append(factors, fmt.Sprintf("CPU load %.2f above 4.0", current.CPULoad))
	case current.CPULoad > 2.5:
		score += 25
		factors = append(factors, fmt.Sprintf("CPU load %.2f above 2.5", current.CPULoad))
	case current.CPULoad > 1.5:
		score += 10
		factors = append(factors, fmt.Sprintf("CPU load %.2f above 1.5", current.CPULoad))
	}

	switch {
	case current.HeapRatio > 0.9:
		score += 35
		factors = append(factors, fmt.Sprintf("heap usage %.0f%% above 90%%", current.HeapRatio*100))
	case current.HeapRatio > 0.75:
		score += 20
		factors = append(factors, fmt.Sprintf("heap usage %.0f%% above 75%%", current.HeapRatio*100))
	}

	switch {
	case current.RSSRatio > 0.85:
		score += 30
		factors = append(factors, fmt.Sprintf("RSS %.0f%% of memory above 85%%", current.RSSRatio*100))
	case current.RSSRatio > 0.70:
		score += 15
		factors = append(factors, fmt.Sprintf("RSS %.0f%% of memory above 70%%", current.RSSRatio*100))
	}

	if len(history) >= trendWindow {
		recent := history[len(history)-trendWindow:]
		start := max(0, len(history)-2*trendWindow)
		older := history[start : len(history)-trendWindow]
		if len(older) > 0 {
			rHeap, rLoad := means(recent)
			oHeap, oLoad := means(older)
			if oHeap > 0 && (rHeap-oHeap)/oHeap > 0.10 {
				score += 20
				factors = append(factors, fmt.Sprintf("heap grew %.0f%% over the last %d samples", (rHeap-oHeap)/oHeap*100, trendWindow))
			}
			if oLoad > 0 && (rLoad-oLoad)/oLoad > 0.20 {
				score += 10
				factors = append(factors, fmt.Sprintf("CPU load grew %.0f%% over the last %d samples", (rLoad-oLoad)/oLoad*100, trendWindow))
			}
		}
	}

	if score > 100 {
		score = 100
	}
	risk := LevelFor(score)
	return models.DegradationPrediction{
		Risk:           risk,
		Score:          score,
		Factors:        factors,
		Recommendation: recommendations[risk],
		TimeToIssue:    timeToIssue[risk],
	}
}

func means(s []models.HealthSnapshot) (heap, load float64) {
	for _, snap := range s {
		heap += float64(snap.HeapUsed)
		load += snap.CPULoad
	}
	n := float64(len(s))
	return heap / n, load / n
}

// LevelFor bands a prediction score: <25 LOW, <50 MEDIUM, <80 HIGH, else
// CRITICAL.
func LevelFor(score int) models.RiskLevel {
	switch {
	case score < 25:
		return models.RiskLevelLow
	case score < 50:
		return models.RiskLevelMedium
	case score < 80:
		return models.RiskLevelHigh
	default:
		return models.RiskLevelCritical
	}
}

var recommendations = map[models.RiskLevel]string{
	models.RiskLevelLow:      "System healthy. No action needed.",
	models.RiskLevelMedium:   "Monitor closely and defer non-essential workloads.",
	models.RiskLevelHigh:     "Shed load: throttle new executions and investigate memory growth.",
	models.RiskLevelCritical: "Degradation imminent. Enter safe mode and stop accepting new executions.",
}

var timeToIssue = map[models.RiskLevel]string{
	models.RiskLevelLow:      "",
	models.RiskLevelMedium:   "within hours",
	models.RiskLevelHigh:     "within 30 minutes",
	models.RiskLevelCritical: "within 5 minutes",
}
