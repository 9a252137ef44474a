// Package rulebook evaluates declarative, context-scoped allow/deny rules
// over submitted code. Rules match either by regular expression or by a
// CEL expression over the variables code and context.
package rulebook

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Actions.
const (
	ActionBlock = "block"
	ActionWarn  = "warn"
)

// HighRiskContexts are the execution contexts in which warn rules count
// as violations.
var HighRiskContexts = []string{"sandbox", "microapp"}

// IsHighRisk reports whether execContext is one of HighRiskContexts.
func IsHighRisk(execContext string) bool {
	return slices.Contains(HighRiskContexts, execContext)
}

// Rule is one declarative rule. Exactly one of Pattern and Expr is set.
type Rule struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Expr     string   `yaml:"expr,omitempty" json:"expr,omitempty"`
	Action   string   `yaml:"action" json:"action"`
	Contexts []string `yaml:"contexts,omitempty" json:"contexts,omitempty"`
	Severity string   `yaml:"severity,omitempty" json:"severity,omitempty"`
	Message  string   `yaml:"message" json:"message"`
}

func (r Rule) appliesTo(execContext string) bool {
	return len(r.Contexts) == 0 || slices.Contains(r.Contexts, execContext)
}

type compiledRule struct {
	Rule
	re  *regexp.Regexp
	prg cel.Program
}

// Result is the outcome of one evaluation. Rule and MatchedText describe
// the violating rule; Warnings lists informational matches.
type Result struct {
	Violates    bool    `json:"violates"`
	Rule        *Rule   `json:"rule,omitempty"`
	MatchedText string  `json:"matchedText,omitempty"`
	Warnings    []Match `json:"warnings,omitempty"`
}

// Match is a rule that matched without causing a violation.
type Match struct {
	RuleID      string `json:"ruleId"`
	Message     string `json:"message"`
	MatchedText string `json:"matchedText"`
}

// Book is the mutable, ordered rule set plus allowlist.
type Book struct {
	env *cel.Env

	mu        sync.RWMutex
	rules     []compiledRule
	allowlist []string
}

// New compiles rules in order.
func New(rules []Rule, allowlist []string) (*Book, error) {
	env, err := cel.NewEnv(
		cel.Variable("code", cel.StringType),
		cel.Variable("context", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	b := &Book{env: env, allowlist: append([]string(nil), allowlist...)}
	for _, r := range rules {
		if err := b.AddRule(r); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// FromPreset builds a book from a built-in preset plus extra rules and
// allowlist entries.
func FromPreset(name string, extra []Rule, allowlist []string) (*Book, error) {
	var rules []Rule
	if name != "" && name != "none" {
		p, err := GetPreset(name)
		if err != nil {
			return nil, err
		}
		rules = append(rules, p.Rules...)
		allowlist = append(append([]string(nil), p.Allowlist...), allowlist...)
	}
	return New(append(rules, extra...), allowlist)
}

func (b *Book) compile(r Rule) (compiledRule, error) {
	if r.ID == "" {
		return compiledRule{}, fmt.Errorf("rule: id is required")
	}
	if r.Action != ActionBlock && r.Action != ActionWarn {
		return compiledRule{}, fmt.Errorf("rule %q: action must be %q or %q", r.ID, ActionBlock, ActionWarn)
	}
	if (r.Pattern == "") == (r.Expr == "") {
		return compiledRule{}, fmt.Errorf("rule %q: exactly one of pattern and expr is required", r.ID)
	}
	if r.Name == "" {
		r.Name = r.ID
	}
	if r.Message == "" {
		r.Message = r.Name
	}
	r.Contexts = append([]string(nil), r.Contexts...)

	c := compiledRule{Rule: r}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("rule %q: invalid pattern: %w", r.ID, err)
		}
		c.re = re
		return c, nil
	}

	ast, issues := b.env.Compile(r.Expr)
	if issues != nil && issues.Err() != nil {
		return compiledRule{}, fmt.Errorf("rule %q: CEL compile error: %w", r.ID, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return compiledRule{}, fmt.Errorf("rule %q: expression must return bool, got %v", r.ID, ast.OutputType())
	}
	prg, err := b.env.Program(ast)
	if err != nil {
		return compiledRule{}, fmt.Errorf("rule %q: CEL program error: %w", r.ID, err)
	}
	c.prg = prg
	return c, nil
}

// AddRule appends a rule. IDs are unique.
func (b *Book) AddRule(r Rule) error {
	c, err := b.compile(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.rules {
		if existing.ID == c.ID {
			return fmt.Errorf("rule %q already exists", c.ID)
		}
	}
	b.rules = append(b.rules, c)
	return nil
}

// RemoveRule deletes a rule by ID and reports whether it existed.
func (b *Book) RemoveRule(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.rules {
		if r.ID == id {
			b.rules = append(b.rules[:i:i], b.rules[i+1:]...)
			return true
		}
	}
	return false
}

// AddToAllowlist adds a substring that suppresses any pattern match whose
// text contains it.
func (b *Book) AddToAllowlist(entry string) {
	if entry == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.allowlist, entry) {
		b.allowlist = append(b.allowlist, entry)
	}
}

// Rules returns the rules in evaluation order.
func (b *Book) Rules() []Rule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Rule, len(b.rules))
	for i, r := range b.rules {
		out[i] = r.Rule
		out[i].Contexts = append([]string(nil), r.Contexts...)
	}
	return out
}

// Allowlist returns a copy of the allowlist.
func (b *Book) Allowlist() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.allowlist...)
}

// Evaluate walks the rules in order. A matching block rule stops the walk.
// A matching warn rule is a violation only in a high-risk context, and
// also stops the walk there; elsewhere it is recorded as a warning.
func (b *Book) Evaluate(code, execContext string) Result {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var res Result
	for _, r := range b.rules {
		if !r.appliesTo(execContext) {
			continue
		}
		matched, text := b.match(r, code, execContext)
		if !matched {
			continue
		}
		if r.Action == ActionBlock || IsHighRisk(execContext) {
			rule := r.Rule
			rule.Contexts = append([]string(nil), r.Contexts...)
			res.Violates = true
			res.Rule = &rule
			res.MatchedText = text
			return res
		}
		res.Warnings = append(res.Warnings, Match{RuleID: r.ID, Message: r.Message, MatchedText: text})
	}
	return res
}

// match must be called with b.mu held.
func (b *Book) match(r compiledRule, code, execContext string) (bool, string) {
	if r.re != nil {
		for _, m := range r.re.FindAllString(code, -1) {
			if !b.allowlisted(m) {
				return true, m
			}
		}
		return false, ""
	}

	out, _, err := r.prg.Eval(map[string]any{
		"code":    code,
		"context": execContext,
	})
	if err != nil {
		return false, ""
	}
	hit, ok := out.Value().(bool)
	if !ok || !hit {
		return false, ""
	}
	return true, r.Name
}

func (b *Book) allowlisted(text string) bool {
	for _, entry := range b.allowlist {
		if strings.Contains(text, entry) {
			return true
		}
	}
	return false
}
