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

// ChatProvider calls any OpenAI-compatible /chat/completions endpoint.
// Endpoint may list several base URLs separated by commas; they are tried
// in order.
type ChatProvider struct {
	baseURLs []string
	model    string
	apiKey   string
	http     *http.Client
}

func NewChatProvider(endpoint, model, apiKey string, timeout time.Duration) *ChatProvider {
	baseURLs := splitBaseURLs(endpoint)
	if len(baseURLs) == 0 {
		baseURLs = []string{normalizeBaseURL("https://api.openai.com/v1")}
	}
	return &ChatProvider{baseURLs: baseURLs, model: model, apiKey: apiKey, http: newHTTPClient(timeout)}
}

func (p *ChatProvider) Name() string { return ProviderOpenAI }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []message `json:"messages"`
	Temperature    float32   `json:"temperature"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (p *ChatProvider) Analyze(ctx context.Context, code, execContext string) (models.IntentAnalysis, error) {
	payload, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(code, execContext)},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return models.IntentAnalysis{}, fmt.Errorf("marshal request: %w", err)
	}

	failures := make([]string, 0, len(p.baseURLs))
	for _, baseURL := range p.baseURLs {
		content, err := p.chatAtEndpoint(ctx, baseURL+"/chat/completions", payload)
		if err == nil {
			return parseVerdict(p.Name(), content)
		}
		failures = append(failures, fmt.Sprintf("%s (%v)", baseURL, err))
		if ctx.Err() != nil {
			break
		}
	}
	return models.IntentAnalysis{}, fmt.Errorf("llm request failed across endpoints: %s", strings.Join(failures, " | "))
}

func (p *ChatProvider) chatAtEndpoint(ctx context.Context, endpoint string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %s", resp.Status)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("response missing choices")
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("response empty")
	}
	return content, nil
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func splitBaseURLs(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	out := make([]string, 0, len(tokens))
	seen := map[string]bool{}
	for _, token := range tokens {
		normalized := normalizeBaseURL(token)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}
