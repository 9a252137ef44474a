package governance

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mcptrust/execgate/internal/models"
)

const GuardianCompliance = "compliance"

// Data categories.
const (
	CategoryPII       = "pii"
	CategoryFinancial = "financial"
	CategoryHealth    = "health"
	CategoryPayment   = "payment"
)

// ComplianceRule flags payload fields of one data category. Fields are
// compared after normalizeField.
type ComplianceRule struct {
	Category string   `yaml:"category"`
	Fields   []string `yaml:"fields"`
	// Status when a field is present.
	Status models.GuardianStatus `yaml:"status"`
	// EgressStatus applies instead when the action name contains one of
	// the egress keywords.
	EgressStatus models.GuardianStatus `yaml:"egress_status"`
}

// DefaultEgressKeywords mark actions that move data out of the tenant.
var DefaultEgressKeywords = []string{"export", "share", "publish", "send", "upload", "sync"}

// DefaultComplianceRules are the built-in data category tables.
func DefaultComplianceRules() []ComplianceRule {
	return []ComplianceRule{
		{
			Category:     CategoryPII,
			Fields:       []string{"email", "phone", "phonenumber", "ssn", "socialsecuritynumber", "passport", "passportnumber", "dateofbirth", "dob", "address", "homeaddress", "fullname", "nationalid", "driverslicense"},
			Status:       models.GuardianWarn,
			EgressStatus: models.GuardianDeny,
		},
		{
			Category:     CategoryFinancial,
			Fields:       []string{"iban", "accountnumber", "routingnumber", "swift", "bic", "taxid", "salary", "income", "creditscore"},
			Status:       models.GuardianWarn,
			EgressStatus: models.GuardianDeny,
		},
		{
			Category:     CategoryHealth,
			Fields:       []string{"diagnosis", "medicalrecord", "medicalrecordnumber", "mrn", "prescription", "treatment", "healthcondition", "insuranceid", "labresult"},
			Status:       models.GuardianWarn,
			EgressStatus: models.GuardianDeny,
		},
		{
			Category:     CategoryPayment,
			Fields:       []string{"cardnumber", "creditcard", "creditcardnumber", "pan", "cvv", "cvc", "cardexpiry", "expirydate", "cardholder"},
			Status:       models.GuardianDeny,
			EgressStatus: models.GuardianDeny,
		},
	}
}

type ComplianceGuardian struct {
	rules    []ComplianceRule
	fields   []map[string]bool
	keywords []string
}

func NewComplianceGuardian(rules []ComplianceRule, egressKeywords []string) *ComplianceGuardian {
	if rules == nil {
		rules = DefaultComplianceRules()
	}
	if egressKeywords == nil {
		egressKeywords = DefaultEgressKeywords
	}
	g := &ComplianceGuardian{rules: rules, keywords: egressKeywords}
	for _, r := range rules {
		set := make(map[string]bool, len(r.Fields))
		for _, f := range r.Fields {
			set[normalizeField(f)] = true
		}
		g.fields = append(g.fields, set)
	}
	return g
}

func (g *ComplianceGuardian) Name() string { return GuardianCompliance }

func (g *ComplianceGuardian) egress(action string) bool {
	a := strings.ToLower(action)
	for _, k := range g.keywords {
		if strings.Contains(a, k) {
			return true
		}
	}
	return false
}

func (g *ComplianceGuardian) Review(ctx context.Context, req Request) (models.GuardianDecision, error) {
	found := make(map[string][]string)
	walkFields(req.Payload, func(path, key string, _ any) {
		k := normalizeField(key)
		for i, set := range g.fields {
			if set[k] {
				cat := g.rules[i].Category
				found[cat] = append(found[cat], path)
			}
		}
	})
	if len(found) == 0 {
		return decide(GuardianCompliance, models.GuardianAllow, "no regulated data fields", nil), nil
	}

	egress := g.egress(req.Action)
	status := models.GuardianAllow
	var parts []string
	details := map[string]any{"egress": egress}
	for _, r := range g.rules {
		paths, ok := found[r.Category]
		if !ok {
			continue
		}
		sort.Strings(paths)
		details[r.Category] = paths
		s := r.Status
		if egress && r.EgressStatus != "" {
			s = r.EgressStatus
		}
		status = worse(status, s)
		parts = append(parts, fmt.Sprintf("%s fields %s", r.Category, strings.Join(paths, ", ")))
	}

	reason := strings.Join(parts, "; ")
	if egress {
		reason = "egress of regulated data: " + reason
	}
	return decide(GuardianCompliance, status, reason, details), nil
}

func rank(s models.GuardianStatus) int {
	switch s {
	case models.GuardianDeny:
		return 3
	case models.GuardianError:
		return 2
	case models.GuardianWarn:
		return 1
	default:
		return 0
	}
}

func worse(a, b models.GuardianStatus) models.GuardianStatus {
	if rank(b) > rank(a) {
		return b
	}
	return a
}
