// Package llm judges the intent of code with a generative backend and
// falls back to a deterministic heuristic whenever the backend is missing,
// slow or wrong.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/mcptrust/execgate/internal/models"
	"github.com/mcptrust/execgate/internal/observability/logging"
)

const component = "llm"

// Analyzer is what the classifier depends on.
type Analyzer interface {
	AnalyzeIntent(ctx context.Context, code, execContext string) models.IntentAnalysis
}

type chainEntry struct {
	provider Provider
	guard    *Guard
}

// Adapter tries each provider in order, each within its own timeout
// budget, and ends with the heuristic.
type Adapter struct {
	chain     []chainEntry
	timeout   time.Duration
	heuristic Heuristic
	log       logging.Logger
}

// NewAdapter builds an adapter over explicit providers.
func NewAdapter(timeout time.Duration, maxFailures int, cooldown time.Duration, log logging.Logger, providers ...Provider) *Adapter {
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	a := &Adapter{timeout: timeout, log: logging.OrNop(log)}
	for _, p := range providers {
		a.chain = append(a.chain, chainEntry{provider: p, guard: NewGuard(maxFailures, cooldown)})
	}
	return a
}

// FromConfig builds the provider chain named by cfg.
func FromConfig(cfg Config, log logging.Logger) (*Adapter, error) {
	var providers []Provider
	switch cfg.Provider {
	case "", ProviderOllama:
		providers = append(providers, NewOllamaProvider(cfg.Endpoint, cfg.Model, cfg.Timeout))
	case ProviderOpenAI:
		providers = append(providers, NewChatProvider(cfg.Endpoint, cfg.Model, cfg.APIKey, cfg.Timeout))
	case ProviderHeuristic:
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	return NewAdapter(cfg.Timeout, cfg.MaxFailures, cfg.Cooldown, log, providers...), nil
}

// AnalyzeIntent never fails: any provider error, timeout, panic or
// malformed verdict moves on to the next provider and finally to the
// heuristic.
func (a *Adapter) AnalyzeIntent(ctx context.Context, code, execContext string) models.IntentAnalysis {
	for _, entry := range a.chain {
		if !entry.guard.Allow() {
			continue
		}
		result, err := a.try(ctx, entry.provider, code, execContext)
		if err == nil {
			entry.guard.RecordSuccess()
			return result
		}
		entry.guard.RecordFailure()
		a.log.Warn(component, "provider failed, falling back", "provider", entry.provider.Name(), "error", err.Error())
	}
	return a.heuristic.Analyze(code, execContext)
}

func (a *Adapter) try(ctx context.Context, p Provider, code, execContext string) (result models.IntentAnalysis, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return p.Analyze(ctx, code, execContext)
}

// Providers lists the configured provider names in order.
func (a *Adapter) Providers() []string {
	names := make([]string, 0, len(a.chain)+1)
	for _, e := range a.chain {
		names = append(names, e.provider.Name())
	}
	return append(names, ProviderHeuristic)
}
