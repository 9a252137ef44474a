package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mcptrust/execgate/internal/models"
)

// Provider is one generative backend able to judge code intent.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, code, execContext string) (models.IntentAnalysis, error)
}

// maxPromptCode bounds how much source is sent to a provider.
const maxPromptCode = 8000

const systemPrompt = `You are a security reviewer for a code execution sandbox.
Classify the intent of the submitted code. Reply with JSON only:
{"intent":"safe|unknown|risky|malicious","confidence":0.0-1.0,"explanation":"...","patterns":["..."]}`

func userPrompt(code, execContext string) string {
	if len(code) > maxPromptCode {
		code = code[:maxPromptCode]
	}
	return fmt.Sprintf("Execution context: %s\n\nCode:\n```\n%s\n```", execContext, code)
}

type verdict struct {
	Intent      string   `json:"intent"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Patterns    []string `json:"patterns"`
}

// parseVerdict decodes a provider reply, tolerating markdown fences.
func parseVerdict(provider, content string) (models.IntentAnalysis, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return models.IntentAnalysis{}, fmt.Errorf("decode verdict: %w", err)
	}
	intent := models.Intent(strings.ToLower(strings.TrimSpace(v.Intent)))
	if !intent.Valid() {
		return models.IntentAnalysis{}, fmt.Errorf("verdict has unknown intent %q", v.Intent)
	}
	conf := v.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return models.IntentAnalysis{
		Intent:      intent,
		Confidence:  conf,
		Explanation: strings.TrimSpace(v.Explanation),
		Patterns:    v.Patterns,
		Source:      models.SourceLLM,
		Provider:    provider,
	}, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        20,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
