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

// DefaultMiniMaxEndpoint is the OpenAI-compatible MiniMax chat endpoint.
const DefaultMiniMaxEndpoint = "https://api.minimaxi.com/v1/text/chatcompletion_v2"

// MiniMaxClient implements CompletionClient, the second alternate provider
// for non-tool-calling classification calls.
type MiniMaxClient struct {
	apiKey      string
	model       string
	endpoint    string
	temperature float64
	client      *http.Client
}

// NewMiniMaxClient creates a new client for the MiniMax API.
func NewMiniMaxClient(apiKey, model, endpoint string, temperature float64) *MiniMaxClient {
	if endpoint == "" {
		endpoint = DefaultMiniMaxEndpoint
	}
	if temperature <= 0 {
		temperature = 0.7
	}
	return &MiniMaxClient{
		apiKey:      apiKey,
		model:       model,
		endpoint:    endpoint,
		temperature: temperature,
		client:      &http.Client{},
	}
}

// Complete implements CompletionClient.
func (c *MiniMaxClient) Complete(ctx context.Context, system, prompt string) (string, Usage, error) {
	body := "{}"
	body, _ = sjson.Set(body, "model", c.model)
	body, _ = sjson.Set(body, "temperature", c.temperature)
	if system != "" {
		body, _ = sjson.SetRaw(body, "messages.-1", chatMessage("system", system))
	}
	body, _ = sjson.SetRaw(body, "messages.-1", chatMessage("user", prompt))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: minimax create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: minimax request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("llm: minimax request failed with status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: minimax read response: %w", err)
	}

	parsed := gjson.ParseBytes(raw)
	content := parsed.Get("choices.0.message.content")
	if !content.Exists() {
		return "", Usage{}, fmt.Errorf("llm: minimax response had no choices")
	}

	return strings.TrimSpace(content.String()), Usage{
		InputTokens:  parsed.Get("usage.prompt_tokens").Int(),
		OutputTokens: parsed.Get("usage.completion_tokens").Int(),
		LatencyMS:    time.Since(start).Milliseconds(),
	}, nil
}
