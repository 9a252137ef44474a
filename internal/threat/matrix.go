// Package threat is the static pattern scanner that every execution and
// classification decision starts from.
package threat

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/mcptrust/execgate/internal/models"
)

// maxMatchesPerPattern caps how many instances of one pattern contribute
// to the score.
const maxMatchesPerPattern = 3

// maxRecordedMatches caps the substrings kept per finding.
const maxRecordedMatches = 10

// Pattern is one compiled catalog entry.
type Pattern struct {
	ID          string
	Name        string
	Matcher     *regexp.Regexp
	Severity    models.Severity
	Category    models.ThreatCategory
	Description string
}

// PatternSpec is the uncompiled, configurable form of a Pattern.
type PatternSpec struct {
	ID          string                `yaml:"id" json:"id"`
	Name        string                `yaml:"name" json:"name"`
	Regex       string                `yaml:"regex" json:"regex"`
	Severity    models.Severity       `yaml:"severity" json:"severity"`
	Category    models.ThreatCategory `yaml:"category" json:"category"`
	Description string                `yaml:"description" json:"description"`
}

// Compile validates the spec and compiles its regex.
func (s PatternSpec) Compile() (Pattern, error) {
	if s.ID == "" {
		return Pattern{}, fmt.Errorf("threat pattern: id is required")
	}
	if !s.Severity.Valid() {
		return Pattern{}, fmt.Errorf("threat pattern %s: unknown severity %q", s.ID, s.Severity)
	}
	if !s.Category.Valid() {
		return Pattern{}, fmt.Errorf("threat pattern %s: unknown category %q", s.ID, s.Category)
	}
	re, err := regexp.Compile(s.Regex)
	if err != nil {
		return Pattern{}, fmt.Errorf("threat pattern %s: %w", s.ID, err)
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}
	return Pattern{
		ID:          s.ID,
		Name:        name,
		Matcher:     re,
		Severity:    s.Severity,
		Category:    s.Category,
		Description: s.Description,
	}, nil
}

// Finding is one pattern that matched, with the matched text.
type Finding struct {
	PatternID   string                `json:"patternId"`
	Name        string                `json:"name"`
	Severity    models.Severity       `json:"severity"`
	Category    models.ThreatCategory `json:"category"`
	Description string                `json:"description"`
	Count       int                   `json:"count"`
	Matches     []string              `json:"matches"`
}

// Analysis is the result of one scan.
type Analysis struct {
	Safe           bool      `json:"safe"`
	Threats        []Finding `json:"threats"`
	RiskScore      int       `json:"riskScore"`
	Recommendation string    `json:"recommendation"`
}

// Matrix holds the pattern catalog. The catalog is append-only: patterns
// can be registered at runtime but never replaced or removed.
type Matrix struct {
	mu       sync.RWMutex
	patterns []Pattern
	ids      map[string]bool
}

// NewMatrix returns a matrix seeded with the built-in catalog.
func NewMatrix() *Matrix {
	m := &Matrix{ids: make(map[string]bool)}
	for _, spec := range DefaultPatterns() {
		p, err := spec.Compile()
		if err != nil {
			panic(err)
		}
		m.patterns = append(m.patterns, p)
		m.ids[p.ID] = true
	}
	return m
}

// Register appends specs to the catalog. A duplicate ID is an error and
// leaves the catalog untouched.
func (m *Matrix) Register(specs ...PatternSpec) error {
	compiled := make([]Pattern, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		p, err := s.Compile()
		if err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("threat pattern %s: registered twice", p.ID)
		}
		seen[p.ID] = true
		compiled = append(compiled, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range compiled {
		if m.ids[p.ID] {
			return fmt.Errorf("threat pattern %s: already in catalog", p.ID)
		}
	}
	for _, p := range compiled {
		m.patterns = append(m.patterns, p)
		m.ids[p.ID] = true
	}
	return nil
}

// Patterns returns a copy of the catalog.
func (m *Matrix) Patterns() []Pattern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Pattern(nil), m.patterns...)
}

// Analyze scans code against every pattern.
func (m *Matrix) Analyze(code string) Analysis {
	patterns := m.Patterns()

	var findings []Finding
	score := 0
	for _, p := range patterns {
		matches := p.Matcher.FindAllString(code, -1)
		if len(matches) == 0 {
			continue
		}
		score += p.Severity.Score() * min(len(matches), maxMatchesPerPattern)

		recorded := matches
		if len(recorded) > maxRecordedMatches {
			recorded = recorded[:maxRecordedMatches]
		}
		findings = append(findings, Finding{
			PatternID:   p.ID,
			Name:        p.Name,
			Severity:    p.Severity,
			Category:    p.Category,
			Description: p.Description,
			Count:       len(matches),
			Matches:     append([]string(nil), recorded...),
		})
	}
	if score > 100 {
		score = 100
	}

	return Analysis{
		Safe:           len(findings) == 0,
		Threats:        findings,
		RiskScore:      score,
		Recommendation: Recommendation(score),
	}
}

// Recommendation maps a risk score to operator guidance.
func Recommendation(score int) string {
	switch {
	case score <= 0:
		return "No threats detected. Code appears safe to execute."
	case score < 25:
		return "Low risk. Review the flagged patterns before execution."
	case score < 50:
		return "Moderate risk. Manual review recommended before execution."
	case score < 80:
		return "High risk. Block execution pending security review."
	default:
		return "Critical risk. Block execution and investigate the source of this code."
	}
}
