package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const DefaultDeepSeekEndpoint = "https://api.deepseek.com/v1/chat/completions"

// DeepSeekClient implements CompletionClient for cheap, non-tool-calling
// requests, kept as an alternate provider for calls that don't need the
// tool protocol at all; no agent role uses it.
type DeepSeekClient struct {
	apiKey      string
	model       string
	endpoint    string
	temperature float64
	client      *http.Client
}

// NewDeepSeekClient creates a new client for the DeepSeek API.
func NewDeepSeekClient(apiKey, model, endpoint string, temperature float64) *DeepSeekClient {
	if endpoint == "" {
		endpoint = DefaultDeepSeekEndpoint
	}
	if temperature <= 0 {
		temperature = 0.7
	}
	return &DeepSeekClient{
		apiKey:      apiKey,
		model:       model,
		endpoint:    endpoint,
		temperature: temperature,
		client:      &http.Client{},
	}
}

// Complete implements CompletionClient.
func (c *DeepSeekClient) Complete(ctx context.Context, system, prompt string) (string, Usage, error) {
	body := "{}"
	body, _ = sjson.Set(body, "model", c.model)
	body, _ = sjson.Set(body, "temperature", c.temperature)
	if system != "" {
		body, _ = sjson.SetRaw(body, "messages.-1", chatMessage("system", system))
	}
	body, _ = sjson.SetRaw(body, "messages.-1", chatMessage("user", prompt))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: deepseek create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: deepseek request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("llm: deepseek request failed with status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: deepseek read response: %w", err)
	}

	parsed := gjson.ParseBytes(raw)
	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		return "", Usage{}, fmt.Errorf("llm: deepseek response had no choices")
	}

	return strings.TrimSpace(content.String()), Usage{
		InputTokens:  parsed.Get("usage.prompt_tokens").Int(),
		OutputTokens: parsed.Get("usage.completion_tokens").Int(),
		LatencyMS:    time.Since(start).Milliseconds(),
	}, nil
}

// chatMessage builds a {"role":..., "content":...} JSON object, safely
// escaping content via sjson rather than raw string concatenation.
func chatMessage(role, content string) string {
	m, _ := sjson.Set("{}", "role", role)
	m, _ = sjson.Set(m, "content", content)
	return m
}
