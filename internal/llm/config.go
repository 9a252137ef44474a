package llm

import "time"

// Provider names accepted in Config.Provider.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderHeuristic = "heuristic"
)

// Config selects and tunes the generative backend.
type Config struct {
	Provider    string        `yaml:"provider"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

// DefaultConfig targets a local Ollama daemon.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderOllama,
		Endpoint:    "http://localhost:11434",
		Model:       "llama3.1",
		Timeout:     5 * time.Second,
		MaxFailures: 3,
		Cooldown:    time.Minute,
	}
}
