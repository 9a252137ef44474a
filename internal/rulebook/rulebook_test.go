package rulebook

import (
	"strings"
	"testing"
)

func mustDefault(t *testing.T) *Book {
	t.Helper()
	b, err := FromPreset("default", nil, nil)
	if err != nil {
		t.Fatalf("FromPreset: %v", err)
	}
	return b
}

func TestPresets_Load(t *testing.T) {
	for _, name := range PresetNames() {
		p, err := GetPreset(name)
		if err != nil {
			t.Fatalf("GetPreset(%q): %v", name, err)
		}
		if _, err := New(p.Rules, p.Allowlist); err != nil {
			t.Errorf("preset %q does not compile: %v", name, err)
		}
	}
	if _, err := GetPreset("nope"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestEvaluate_DefaultPreset(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		context     string
		wantViolate bool
		wantRule    string
		wantWarn    int
	}{
		{"clean", "return 1", "sandbox", false, "", 0},
		{"infinite loop anywhere", "while(true){}", "default", true, "infinite-loop", 0},
		{"for ever", "for(;;){}", "sandbox", true, "infinite-loop", 0},
		{"eval in sandbox", "eval('x')", "sandbox", true, "sandbox-eval", 0},
		{"eval in engine context", "eval('x')", "engine", false, "", 0},
		{"env warn outside high-risk", "process.env.HOME", "engine", false, "", 1},
		{"env warn in sandbox", "process.env.HOME", "sandbox", true, "env-access", 0},
		{"network warn scoped to microapp", "fetch('/api')", "engine", false, "", 0},
		{"network in microapp", "fetch('/api')", "microapp", true, "outbound-network", 0},
		{"oversized via CEL", strings.Repeat("a", 262145), "engine", true, "oversized-source", 0},
	}
	b := mustDefault(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Evaluate(tt.code, tt.context)
			if got.Violates != tt.wantViolate {
				t.Fatalf("Violates = %v, want %v (%+v)", got.Violates, tt.wantViolate, got)
			}
			if tt.wantViolate && got.Rule.ID != tt.wantRule {
				t.Errorf("rule = %s, want %s", got.Rule.ID, tt.wantRule)
			}
			if len(got.Warnings) != tt.wantWarn {
				t.Errorf("warnings = %d, want %d", len(got.Warnings), tt.wantWarn)
			}
		})
	}
}

func TestEvaluate_BlockShortCircuits(t *testing.T) {
	b, err := New([]Rule{
		{ID: "first", Pattern: `danger`, Action: ActionBlock},
		{ID: "second", Pattern: `danger`, Action: ActionBlock},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := b.Evaluate("danger zone", "")
	if got.Rule.ID != "first" || got.MatchedText != "danger" {
		t.Errorf("got %+v", got)
	}
}

func TestAllowlist(t *testing.T) {
	b, err := New([]Rule{{ID: "fetch", Pattern: `fetch\(['"][^'"]*['"]\)`, Action: ActionBlock}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	code := `fetch('https://api.internal/x')`
	if !b.Evaluate(code, "").Violates {
		t.Fatal("expected violation before allowlisting")
	}
	b.AddToAllowlist("https://api.internal/")
	b.AddToAllowlist("https://api.internal/")
	if got := b.Evaluate(code, ""); got.Violates {
		t.Errorf("allowlisted match still violates: %+v", got)
	}
	if len(b.Allowlist()) != 1 {
		t.Errorf("allowlist = %v", b.Allowlist())
	}
	// A second, non-allowlisted instance still counts.
	if got := b.Evaluate(code+`; fetch('https://evil.example/')`, ""); !got.Violates || !strings.Contains(got.MatchedText, "evil") {
		t.Errorf("got %+v", got)
	}
}

func TestAddRemoveRule(t *testing.T) {
	b, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.Evaluate("rm -rf", "").Violates {
		t.Fatal("empty book violates")
	}
	if err := b.AddRule(Rule{ID: "rm", Expr: `code.contains("rm -rf") && context != "internal"`, Action: ActionBlock}); err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	if !b.Evaluate("rm -rf", "sandbox").Violates {
		t.Error("CEL rule did not fire")
	}
	if b.Evaluate("rm -rf", "internal").Violates {
		t.Error("CEL rule ignored context variable")
	}
	if err := b.AddRule(Rule{ID: "rm", Pattern: `x`, Action: ActionWarn}); err == nil {
		t.Error("duplicate id accepted")
	}
	if !b.RemoveRule("rm") || b.RemoveRule("rm") {
		t.Error("RemoveRule result wrong")
	}
	if len(b.Rules()) != 0 {
		t.Errorf("rules = %v", b.Rules())
	}
}

func TestCompileErrors(t *testing.T) {
	bad := []Rule{
		{ID: "", Pattern: `x`, Action: ActionBlock},
		{ID: "a", Pattern: `x`, Action: "deny"},
		{ID: "b", Action: ActionBlock},
		{ID: "c", Pattern: `x`, Expr: `true`, Action: ActionBlock},
		{ID: "d", Pattern: `(`, Action: ActionBlock},
		{ID: "e", Expr: `code +`, Action: ActionBlock},
		{ID: "f", Expr: `size(code)`, Action: ActionBlock},
		{ID: "g", Expr: `unknown_var == 1`, Action: ActionBlock},
	}
	for _, r := range bad {
		if _, err := New([]Rule{r}, nil); err == nil {
			t.Errorf("rule %+v should not compile", r)
		}
	}
}

func TestRules_ReturnsCopies(t *testing.T) {
	b := mustDefault(t)
	rules := b.Rules()
	rules[0].ID = "mutated"
	for i := range rules {
		rules[i].Contexts = append(rules[i].Contexts, "x")
	}
	if b.Rules()[0].ID == "mutated" {
		t.Error("Rules exposed internal state")
	}
}
