package models

import "time"

// RiskLevel is the four-band scale shared by risk scoring, degradation
// forecasting and governance explanations.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Rank orders levels; unknown levels rank below LOW.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelLow:
		return 1
	case RiskLevelMedium:
		return 2
	case RiskLevelHigh:
		return 3
	case RiskLevelCritical:
		return 4
	default:
		return 0
	}
}

// HealthSnapshot is one sample of process vitals.
type HealthSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	CPULoad   float64   `json:"cpuLoad"`
	HeapUsed  uint64    `json:"heapUsed"`
	HeapTotal uint64    `json:"heapTotal"`
	HeapRatio float64   `json:"heapRatio"`
	RSS       uint64    `json:"rss"`
	RSSRatio  float64   `json:"rssRatio"`
	External  uint64    `json:"external"`
}

// DegradationPrediction is derived from the health history; never stored.
type DegradationPrediction struct {
	Risk           RiskLevel `json:"risk"`
	Score          int       `json:"score"`
	Factors        []string  `json:"factors"`
	Recommendation string    `json:"recommendation"`
	TimeToIssue    string    `json:"timeToIssue,omitempty"`
}

// RiskFactor is one weighted input to a RiskScore.
type RiskFactor struct {
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	Score   int     `json:"score"`
	Details string  `json:"details"`
}

// RiskScore is the weighted aggregate produced by the risk engine.
type RiskScore struct {
	Level          RiskLevel    `json:"level"`
	Score          int          `json:"score"`
	Factors        []RiskFactor `json:"factors"`
	Timestamp      time.Time    `json:"timestamp"`
	Recommendation string       `json:"recommendation"`
}

// Trend describes the direction of recent risk scores.
type Trend string

const (
	TrendStable    Trend = "stable"
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
)

// IntegrityBaseline is the recorded content hash of one tracked file.
type IntegrityBaseline struct {
	Path       string    `json:"path"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ViolationType classifies an integrity finding.
type ViolationType string

const (
	ViolationModified ViolationType = "modified"
	ViolationDeleted  ViolationType = "deleted"
	ViolationNew      ViolationType = "new"
)

// IntegrityViolation is appended to the guardian's violation log.
type IntegrityViolation struct {
	Path         string        `json:"path"`
	ExpectedHash string        `json:"expectedHash,omitempty"`
	ActualHash   string        `json:"actualHash,omitempty"`
	Type         ViolationType `json:"type"`
	DetectedAt   time.Time     `json:"detectedAt"`
}
