package models

// Severity of a threat pattern.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Score is the per-match contribution of a severity to a threat risk score.
func (s Severity) Score() int {
	switch s {
	case SeverityLow:
		return 5
	case SeverityMedium:
		return 15
	case SeverityHigh:
		return 30
	case SeverityCritical:
		return 50
	default:
		return 0
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Score() > 0
}

// ThreatCategory groups threat patterns.
type ThreatCategory string

const (
	CategoryInjection ThreatCategory = "injection"
	CategoryLoop      ThreatCategory = "loop"
	CategoryMemory    ThreatCategory = "memory"
	CategoryEnv       ThreatCategory = "env"
	CategoryPrivilege ThreatCategory = "privilege"
	CategoryNetwork   ThreatCategory = "network"
)

// Valid reports whether c is a known category.
func (c ThreatCategory) Valid() bool {
	switch c {
	case CategoryInjection, CategoryLoop, CategoryMemory, CategoryEnv, CategoryPrivilege, CategoryNetwork:
		return true
	default:
		return false
	}
}

// Intent is the classified purpose of a code sample.
type Intent string

const (
	IntentSafe      Intent = "safe"
	IntentUnknown   Intent = "unknown"
	IntentRisky     Intent = "risky"
	IntentMalicious Intent = "malicious"
)

// Priority orders intents: malicious > risky > unknown > safe.
func (i Intent) Priority() int {
	switch i {
	case IntentSafe:
		return 0
	case IntentUnknown:
		return 1
	case IntentRisky:
		return 2
	case IntentMalicious:
		return 3
	default:
		return 1
	}
}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentSafe, IntentUnknown, IntentRisky, IntentMalicious:
		return true
	default:
		return false
	}
}

// WorseIntent returns whichever of a and b has the higher priority.
func WorseIntent(a, b Intent) Intent {
	if b.Priority() > a.Priority() {
		return b
	}
	return a
}

// IntentFromScore buckets a 0-100 score: 0 safe, <40 unknown, <70 risky,
// otherwise malicious.
func IntentFromScore(score int) Intent {
	switch {
	case score <= 0:
		return IntentSafe
	case score < 40:
		return IntentUnknown
	case score < 70:
		return IntentRisky
	default:
		return IntentMalicious
	}
}

// IntentSource records which stage produced a classification.
type IntentSource string

const (
	SourceStatic IntentSource = "static"
	SourceLLM    IntentSource = "llm"
	SourceHybrid IntentSource = "hybrid"
)

// IntentAnalysis is the LLM adapter's verdict on one code sample.
type IntentAnalysis struct {
	Intent      Intent       `json:"intent"`
	Confidence  float64      `json:"confidence"`
	Explanation string       `json:"explanation"`
	Patterns    []string     `json:"patterns,omitempty"`
	Source      IntentSource `json:"source"`
	Provider    string       `json:"provider"`
	Fallback    bool         `json:"fallback,omitempty"`
	Score       int          `json:"score,omitempty"`
}

// BehaviorClassification combines static and intent analysis.
type BehaviorClassification struct {
	Intent      Intent       `json:"intent"`
	Confidence  float64      `json:"confidence"`
	Explanation string       `json:"explanation"`
	Patterns    []string     `json:"patterns,omitempty"`
	Source      IntentSource `json:"source"`
	RiskScore   int          `json:"riskScore"`
}
