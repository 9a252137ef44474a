// Package receipt writes one JSON evidence record per CLI invocation.
package receipt

const ReceiptSchemaVersion = "1.0"

type Receipt struct {
	SchemaVersion string             `json:"schema_version"`
	OpID          string             `json:"op_id"`
	TsStart       string             `json:"ts_start"`
	TsEnd         string             `json:"ts_end"`
	DurationMs    int64              `json:"duration_ms"`
	Command       string             `json:"command"`
	Args          []string           `json:"args"`
	ArgsRedacted  bool               `json:"args_redacted,omitempty"`
	Result        Result             `json:"result"`
	Execution     *ExecutionSummary  `json:"execution,omitempty"`
	Governance    *GovernanceSummary `json:"governance,omitempty"`
	Integrity     *IntegritySummary  `json:"integrity,omitempty"`
	Input         *InputRef          `json:"input,omitempty"`
}

type Result struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	// Denial is the denial category when Status is "denied".
	Denial string `json:"denial,omitempty"`
}

// InputRef identifies the file a command read its code or payload from.
type InputRef struct {
	Path   string `json:"path"`
	Digest string `json:"digest,omitempty"`
}

type ExecutionSummary struct {
	TenantID     string  `json:"tenant_id,omitempty"`
	Stage        string  `json:"stage,omitempty"`
	Denial       string  `json:"denial,omitempty"`
	TimedOut     bool    `json:"timed_out,omitempty"`
	ChainID      string  `json:"chain_id,omitempty"`
	ProvenanceID string  `json:"provenance_id,omitempty"`
	DurationMs   float64 `json:"duration_ms"`
}

type GovernanceSummary struct {
	Action    string        `json:"action"`
	Status    string        `json:"status"` // APPROVED|WARNING|DENIED
	Guardians []GuardianHit `json:"guardians,omitempty"`
}

// GuardianHit is a guardian that did not simply allow.
type GuardianHit struct {
	Name    string   `json:"name"`
	Verdict string   `json:"verdict"`
	Reasons []string `json:"reasons,omitempty"`
}

type IntegritySummary struct {
	Checked    int `json:"checked"`
	Violations int `json:"violations"`
}
