package models

import "time"

// SovereignConfig controls what Sovereign Mode lets through.
type SovereignConfig struct {
	AllowedOperations []string `json:"allowedOperations" yaml:"allowed_operations"`
	RequiredApprovers int      `json:"requiredApprovers" yaml:"required_approvers"`
	LockdownLevel     string   `json:"lockdownLevel" yaml:"lockdown_level"`
	BypassToken       string   `json:"-" yaml:"bypass_token,omitempty"`
}

// Clone returns a deep copy so callers can't mutate shared state.
func (c SovereignConfig) Clone() SovereignConfig {
	out := c
	out.AllowedOperations = append([]string(nil), c.AllowedOperations...)
	return out
}

// SovereignState is a snapshot of Sovereign Mode.
type SovereignState struct {
	Enabled         bool            `json:"enabled"`
	EnabledAt       time.Time       `json:"enabledAt,omitempty"`
	EnabledBy       string          `json:"enabledBy,omitempty"`
	Config          SovereignConfig `json:"config"`
	BlockedAttempts int             `json:"blockedAttempts"`
}

// SafeModeLevel is ordered normal < cautious < restricted < emergency.
type SafeModeLevel string

const (
	SafeModeNormal     SafeModeLevel = "normal"
	SafeModeCautious   SafeModeLevel = "cautious"
	SafeModeRestricted SafeModeLevel = "restricted"
	SafeModeEmergency  SafeModeLevel = "emergency"
)

// Rank orders levels; unknown levels rank as normal.
func (l SafeModeLevel) Rank() int {
	switch l {
	case SafeModeCautious:
		return 1
	case SafeModeRestricted:
		return 2
	case SafeModeEmergency:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is a known level.
func (l SafeModeLevel) Valid() bool {
	switch l {
	case SafeModeNormal, SafeModeCautious, SafeModeRestricted, SafeModeEmergency:
		return true
	default:
		return false
	}
}

// SafeModeState is a snapshot of Kernel Safe Mode.
type SafeModeState struct {
	Level        SafeModeLevel `json:"level"`
	ActivatedAt  time.Time     `json:"activatedAt,omitempty"`
	ActivatedBy  string        `json:"activatedBy,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	AutoRecovery bool          `json:"autoRecovery"`
}
