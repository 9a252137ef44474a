// Package config loads execgate's yaml configuration: embedded defaults,
// an optional user file, then EXECGATE_* environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcptrust/execgate/internal/eventbus"
	"github.com/mcptrust/execgate/internal/governance"
	"github.com/mcptrust/execgate/internal/llm"
	"github.com/mcptrust/execgate/internal/lockdown"
	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
	"github.com/mcptrust/execgate/internal/observability/otel"
	"github.com/mcptrust/execgate/internal/risk"
	"github.com/mcptrust/execgate/internal/rulebook"
	"github.com/mcptrust/execgate/internal/supervisor"
	"github.com/mcptrust/execgate/internal/threat"
	"github.com/mcptrust/execgate/internal/zone"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Environment overrides.
const (
	EnvLLMProvider = "EXECGATE_LLM_PROVIDER"
	EnvLLMEndpoint = "EXECGATE_LLM_ENDPOINT"
	EnvLLMModel    = "EXECGATE_LLM_MODEL"
	EnvLLMAPIKey   = "EXECGATE_LLM_API_KEY"
	EnvLLMTimeout  = "EXECGATE_LLM_TIMEOUT"
	EnvRedisAddr   = "EXECGATE_REDIS_ADDR"
	EnvPostgresDSN = "EXECGATE_POSTGRES_DSN"
	EnvLogLevel    = "EXECGATE_LOG_LEVEL"
)

type Config struct {
	Logging    logging.Config          `yaml:"logging"`
	Otel       otel.Config             `yaml:"otel"`
	LLM        llm.Config              `yaml:"llm"`
	SafeMode   lockdown.SafeModeConfig `yaml:"safe_mode"`
	Sovereign  SovereignConfig         `yaml:"sovereign"`
	Rulebook   RulebookConfig          `yaml:"rulebook"`
	Threat     ThreatConfig            `yaml:"threat"`
	Risk       RiskConfig              `yaml:"risk"`
	Zone       ZoneConfig              `yaml:"zone"`
	Runtime    RuntimeConfig           `yaml:"runtime"`
	Integrity  IntegrityConfig         `yaml:"integrity"`
	Guardian   supervisor.Config       `yaml:"guardian"`
	Governance GovernanceConfig        `yaml:"governance"`
	Events     EventsConfig            `yaml:"events"`
	Audit      AuditConfig             `yaml:"audit"`
}

type SovereignConfig struct {
	models.SovereignConfig `yaml:",inline"`
	// BypassTokenEnv names the variable holding the bypass token, so the
	// token itself stays out of config files.
	BypassTokenEnv string `yaml:"bypass_token_env"`
}

// Resolved returns the sovereign defaults with the bypass token read from
// the environment.
func (s SovereignConfig) Resolved() models.SovereignConfig {
	c := s.SovereignConfig.Clone()
	if s.BypassTokenEnv != "" {
		if tok := os.Getenv(s.BypassTokenEnv); tok != "" {
			c.BypassToken = tok
		}
	}
	return c
}

type RulebookConfig struct {
	Preset    string          `yaml:"preset"`
	Rules     []rulebook.Rule `yaml:"rules"`
	Allowlist []string        `yaml:"allowlist"`
}

type ThreatConfig struct {
	Patterns []threat.PatternSpec `yaml:"patterns"`
}

type RiskConfig struct {
	Weights risk.Weights `yaml:"weights"`
}

type ZoneConfig struct {
	Limits         zone.Limits   `yaml:"limits"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

type RuntimeConfig struct {
	Argv []string `yaml:"argv"`
}

type IntegrityConfig struct {
	Paths         []string `yaml:"paths"`
	BaselineStore string   `yaml:"baseline_store"`
	// SigningKey signs the baseline store on save; PublicKey, when set,
	// must verify it before it is loaded.
	SigningKey string `yaml:"signing_key"`
	PublicKey  string `yaml:"public_key"`
}

type GovernanceConfig struct {
	Performance governance.PerformanceLimits `yaml:"performance"`
	Drift       governance.DriftPolicy       `yaml:"drift"`
	Compliance  []governance.ComplianceRule  `yaml:"compliance"`
	Schemas     map[string]governance.Schema `yaml:"schemas"`
}

type EventsConfig struct {
	Redis eventbus.RedisConfig `yaml:"redis"`
}

type AuditConfig struct {
	Path        string `yaml:"path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Default returns the embedded defaults.
func Default() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse built-in defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads defaults, overlays path (if non-empty) and the environment,
// then validates. A missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvLLMProvider); v != "" {
		c.LLM.Provider = v
	}
	if v := getenv(EnvLLMEndpoint); v != "" {
		c.LLM.Endpoint = v
	}
	if v := getenv(EnvLLMModel); v != "" {
		c.LLM.Model = v
	}
	if v := getenv(EnvLLMAPIKey); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv(EnvLLMTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			if secs, convErr := strconv.Atoi(v); convErr == nil {
				d = time.Duration(secs) * time.Second
			} else {
				return fmt.Errorf("invalid %s %q: %w", EnvLLMTimeout, v, err)
			}
		}
		c.LLM.Timeout = d
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.Events.Redis.Addr = v
	}
	if v := getenv(EnvPostgresDSN); v != "" {
		c.Audit.PostgresDSN = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.LLM.Provider {
	case llm.ProviderOllama, llm.ProviderOpenAI, llm.ProviderHeuristic:
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be one of ollama, openai, heuristic (got %q)", c.LLM.Provider))
	}
	check(c.LLM.Timeout > 0, "llm.timeout must be positive")

	factors := []struct {
		name  string
		value float64
	}{
		{"cautious_factor", c.SafeMode.CautiousFactor},
		{"restricted_factor", c.SafeMode.RestrictedFactor},
		{"emergency_factor", c.SafeMode.EmergencyFactor},
	}
	for _, f := range factors {
		check(f.value > 0 && f.value <= 1, "safe_mode.%s must be in (0, 1] (got %g)", f.name, f.value)
	}
	sm := c.SafeMode
	check(sm.EscalateCautious > 0 && sm.EscalateCautious <= sm.EscalateRestrict && sm.EscalateRestrict <= sm.EscalateEmergency && sm.EscalateEmergency <= 100,
		"safe_mode escalation thresholds must satisfy 0 < cautious <= restricted <= emergency <= 100")
	check(sm.RecoverBelow >= 0 && sm.RecoverBelow <= 100, "safe_mode.recover_below must be in [0, 100]")
	check(sm.StableFor >= 0, "safe_mode.stable_for must not be negative")

	check(len(c.Sovereign.AllowedOperations) > 0, "sovereign.allowed_operations must not be empty")
	check(c.Sovereign.RequiredApprovers >= 1, "sovereign.required_approvers must be at least 1")

	w := c.Risk.Weights
	check(w.Health >= 0 && w.Integrity >= 0 && w.Violations >= 0 && w.Prediction >= 0, "risk.weights must not be negative")
	check(w.Health+w.Integrity+w.Violations+w.Prediction > 0, "risk.weights must not all be zero")

	check(c.Zone.Limits.RequestsPerMinute >= 0, "zone.limits.requests_per_minute must not be negative")
	check(c.Zone.Limits.MaxConcurrent >= 0, "zone.limits.max_concurrent must not be negative")
	check(c.Zone.DefaultTimeout > 0, "zone.default_timeout must be positive")
	check(len(c.Runtime.Argv) > 0, "runtime.argv must not be empty")
	check(c.Guardian.Interval >= time.Second, "guardian.interval must be at least 1s")

	if err := c.Otel.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
