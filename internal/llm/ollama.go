package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcptrust/execgate/internal/models"
)

// OllamaProvider calls a local Ollama daemon's /api/generate endpoint.
type OllamaProvider struct {
	endpoint string
	model    string
	http     *http.Client
}

func NewOllamaProvider(endpoint, model string, timeout time.Duration) *OllamaProvider {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &OllamaProvider{endpoint: endpoint, model: model, http: newHTTPClient(timeout)}
}

func (p *OllamaProvider) Name() string { return ProviderOllama }

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
	Format string `json:"format"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (p *OllamaProvider) Analyze(ctx context.Context, code, execContext string) (models.IntentAnalysis, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  p.model,
		System: systemPrompt,
		Prompt: userPrompt(code, execContext),
		Format: "json",
	})
	if err != nil {
		return models.IntentAnalysis{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return models.IntentAnalysis{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return models.IntentAnalysis{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.IntentAnalysis{}, fmt.Errorf("status %s", resp.Status)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.IntentAnalysis{}, fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(decoded.Response) == "" {
		return models.IntentAnalysis{}, fmt.Errorf("response empty")
	}
	return parseVerdict(p.Name(), decoded.Response)
}
