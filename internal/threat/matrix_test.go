package threat

import (
	"strings"
	"sync"
	"testing"

	"github.com/mcptrust/execgate/internal/models"
)

func TestAnalyze_CleanCode(t *testing.T) {
	m := NewMatrix()
	for _, code := range []string{
		"",
		"const x = 1 + 2; console.log(x);",
		"function add(a, b) { return a + b; }",
		"for (let i = 0; i < 10; i++) { total += i; }",
	} {
		a := m.Analyze(code)
		if !a.Safe || a.RiskScore != 0 || len(a.Threats) != 0 {
			t.Errorf("Analyze(%q) = %+v, want safe with score 0", code, a)
		}
	}
}

func TestAnalyze_Scores(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantScore int
		wantIDs   []string
	}{
		{"single critical", "eval('1+1')", 50, []string{"eval"}},
		{"single high", "while(true){}", 30, []string{"infinite-while"}},
		{"single medium", "const k = process.env.KEY", 15, []string{"process-env"}},
		{"single low", "globalThis['x'] = 1", 5, []string{"global-this"}},
		{"matches capped at three", "process.env.A; process.env.B; process.env.C; process.env.D; process.env.E", 45, []string{"process-env"}},
		{"clamped to 100", "eval(a); eval(b); new Function('x')", 100, []string{"eval", "function-constructor"}},
		{"mixed", "for(;;){ fetch(url) }", 45, []string{"infinite-for", "network-request"}},
	}

	m := NewMatrix()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := m.Analyze(tt.code)
			if a.Safe {
				t.Fatal("expected unsafe")
			}
			if a.RiskScore != tt.wantScore {
				t.Errorf("RiskScore = %d, want %d", a.RiskScore, tt.wantScore)
			}
			var ids []string
			for _, f := range a.Threats {
				ids = append(ids, f.PatternID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("threats = %v, want %v", ids, tt.wantIDs)
			}
			if a.Recommendation != Recommendation(a.RiskScore) {
				t.Errorf("recommendation mismatch")
			}
		})
	}
}

func TestAnalyze_RecordsMatches(t *testing.T) {
	a := NewMatrix().Analyze("eval(a); eval (b)")
	if len(a.Threats) != 1 {
		t.Fatalf("threats = %d", len(a.Threats))
	}
	f := a.Threats[0]
	if f.Count != 2 || len(f.Matches) != 2 || f.Matches[0] != "eval(" {
		t.Errorf("finding = %+v", f)
	}
}

func TestRecommendation_Bands(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{0, "No threats"},
		{5, "Low risk"},
		{24, "Low risk"},
		{25, "Moderate risk"},
		{49, "Moderate risk"},
		{50, "High risk"},
		{79, "High risk"},
		{80, "Critical risk"},
		{100, "Critical risk"},
	}
	for _, tt := range tests {
		if got := Recommendation(tt.score); !strings.HasPrefix(got, tt.want) {
			t.Errorf("Recommendation(%d) = %q, want prefix %q", tt.score, got, tt.want)
		}
	}
}

func TestRegister(t *testing.T) {
	m := NewMatrix()
	before := len(m.Patterns())

	err := m.Register(PatternSpec{
		ID:       "crypto-miner",
		Regex:    `coinhive|cryptonight`,
		Severity: models.SeverityCritical,
		Category: models.CategoryNetwork,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := len(m.Patterns()); got != before+1 {
		t.Errorf("patterns = %d, want %d", got, before+1)
	}
	if a := m.Analyze("load('cryptonight')"); a.RiskScore != 50 {
		t.Errorf("custom pattern score = %d, want 50", a.RiskScore)
	}

	bad := []PatternSpec{
		{ID: "eval", Regex: `x`, Severity: models.SeverityLow, Category: models.CategoryEnv},
		{ID: "", Regex: `x`, Severity: models.SeverityLow, Category: models.CategoryEnv},
		{ID: "y", Regex: `(`, Severity: models.SeverityLow, Category: models.CategoryEnv},
		{ID: "z", Regex: `x`, Severity: "severe", Category: models.CategoryEnv},
		{ID: "w", Regex: `x`, Severity: models.SeverityLow, Category: "misc"},
	}
	for _, spec := range bad {
		if err := m.Register(spec); err == nil {
			t.Errorf("Register(%+v) should fail", spec)
		}
	}
	if got := len(m.Patterns()); got != before+1 {
		t.Errorf("failed registrations changed the catalog: %d", got)
	}
}

func TestRegister_BatchIsAtomic(t *testing.T) {
	m := NewMatrix()
	before := len(m.Patterns())
	err := m.Register(
		PatternSpec{ID: "ok", Regex: `ok`, Severity: models.SeverityLow, Category: models.CategoryEnv},
		PatternSpec{ID: "eval", Regex: `x`, Severity: models.SeverityLow, Category: models.CategoryEnv},
	)
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	if got := len(m.Patterns()); got != before {
		t.Errorf("partial batch was applied: %d patterns", got)
	}
}

func TestDefaultPatterns_Valid(t *testing.T) {
	seen := map[string]bool{}
	categories := map[models.ThreatCategory]bool{}
	for _, spec := range DefaultPatterns() {
		if _, err := spec.Compile(); err != nil {
			t.Errorf("%s: %v", spec.ID, err)
		}
		if seen[spec.ID] {
			t.Errorf("duplicate id %s", spec.ID)
		}
		seen[spec.ID] = true
		categories[spec.Category] = true
	}
	if len(categories) != 6 {
		t.Errorf("catalog covers %d categories, want 6", len(categories))
	}
}

func TestAnalyze_ConcurrentWithRegister(t *testing.T) {
	m := NewMatrix()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Analyze("while(true){ eval(x) }")
		}()
		go func(i int) {
			defer wg.Done()
			_ = m.Register(PatternSpec{
				ID:       "extra-" + string(rune('a'+i)),
				Regex:    `extra`,
				Severity: models.SeverityLow,
				Category: models.CategoryEnv,
			})
		}(i)
	}
	wg.Wait()
}

func TestExplain(t *testing.T) {
	m := NewMatrix()

	safe := Explain(m.Analyze("1+1"))
	if len(safe.Findings) != 0 || safe.Summary == "" {
		t.Errorf("safe explanation = %+v", safe)
	}

	ex := Explain(m.Analyze("process.env.X; while(true){}; eval(y)"))
	if len(ex.Findings) != 3 {
		t.Fatalf("findings = %d, want 3", len(ex.Findings))
	}
	if ex.Findings[0].Severity != models.SeverityCritical {
		t.Errorf("first finding severity = %s, want critical", ex.Findings[0].Severity)
	}
	if len(ex.Remediation) != 3 {
		t.Errorf("remediation = %v", ex.Remediation)
	}
	if !strings.Contains(ex.Summary, "3 threat patterns") {
		t.Errorf("summary = %q", ex.Summary)
	}
}
