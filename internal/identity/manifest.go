package identity

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Manifest describes an engine or tool definition registered for a tenant.
type Manifest struct {
	Name     string   `json:"name" yaml:"name"`
	Version  string   `json:"version" yaml:"version"`
	TenantID string   `json:"tenantId" yaml:"tenant_id"`
	Image    string   `json:"image,omitempty" yaml:"image,omitempty"`
	Scopes   []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Tools    []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Canonical returns the manifest as JSON with object keys sorted at every
// level, so the fingerprint does not depend on field order.
func (m Manifest) Canonical() ([]byte, error) {
	return canonicalJSON(m)
}

// Fingerprint is "sha256:<hex>" over Canonical.
func (m Manifest) Fingerprint() (string, error) {
	data, err := m.Canonical()
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize manifest: %w", err)
	}
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data)), nil
}

// canonicalJSON round-trips v through a generic value; encoding/json
// writes map keys in sorted order.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
