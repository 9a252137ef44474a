package models

import "time"

// GuardianStatus is a single guardian's verdict.
type GuardianStatus string

const (
	GuardianAllow GuardianStatus = "ALLOW"
	GuardianDeny  GuardianStatus = "DENY"
	GuardianWarn  GuardianStatus = "WARN"
	GuardianError GuardianStatus = "ERROR"
)

// GuardianDecision is produced once per guardian per review and never
// mutated afterwards.
type GuardianDecision struct {
	Guardian  string         `json:"guardian"`
	Status    GuardianStatus `json:"status"`
	Reason    string         `json:"reason"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// GovernanceStatus is the engine-level outcome.
type GovernanceStatus string

const (
	GovernanceApproved GovernanceStatus = "APPROVED"
	GovernanceDenied   GovernanceStatus = "DENIED"
	GovernanceWarning  GovernanceStatus = "WARNING"
)

// GovernanceExplanation is the explainability guardian's output.
type GovernanceExplanation struct {
	Summary      string   `json:"summary"`
	Rationale    []string `json:"rationale"`
	Alternatives []string `json:"alternatives,omitempty"`
	Reversible   bool     `json:"reversible"`
}

// GovernanceResult is returned by a review that was not denied.
type GovernanceResult struct {
	Action      string                `json:"action"`
	Status      GovernanceStatus      `json:"status"`
	Decisions   []GuardianDecision    `json:"decisions"`
	Explanation GovernanceExplanation `json:"explanation"`
	Timestamp   time.Time             `json:"timestamp"`
}
