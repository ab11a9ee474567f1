//go:build integration

package llm_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/toolproto"
)

// TestDeepSeekRealAPIIntegration exercises the real DeepSeek endpoint.
// Requires DEEPSEEK_API_KEY in the environment.
func TestDeepSeekRealAPIIntegration(t *testing.T) {
	apiKey := os.Getenv("DEEPSEEK_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping real API test: DEEPSEEK_API_KEY not set")
	}

	client := llm.NewDeepSeekClient(apiKey, "deepseek-chat", "", 0.2)
	resp, _, err := client.Complete(context.Background(), "", "Say 'ok' and nothing else.")
	require.NoError(t, err)
	assert.NotEmpty(t, resp)
}

// TestMiniMaxRealAPIIntegration exercises the real MiniMax endpoint.
// Requires MINIMAX_API_KEY in the environment.
func TestMiniMaxRealAPIIntegration(t *testing.T) {
	apiKey := os.Getenv("MINIMAX_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping real API test: MINIMAX_API_KEY not set")
	}

	client := llm.NewMiniMaxClient(apiKey, "abab-6.5", "", 0.2)
	resp, _, err := client.Complete(context.Background(), "", "Say 'ok' and nothing else.")
	require.NoError(t, err)
	assert.NotEmpty(t, resp)
}

// TestAnthropicRealAPIIntegration exercises a real tool-calling turn against
// Anthropic's API. Requires ANTHROPIC_API_KEY in the environment.
func TestAnthropicRealAPIIntegration(t *testing.T) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping real API test: ANTHROPIC_API_KEY not set")
	}

	client, err := llm.NewAnthropicClient(apiKey, "", "claude-3-5-haiku-20241022", 256)
	require.NoError(t, err)

	tools := []llm.ToolSchema{{
		Name:        toolproto.ThinkSchema.Name,
		Description: toolproto.ThinkSchema.Description,
		Parameters:  toolproto.ThinkSchema.Parameters,
	}}
	resp, err := client.SendMessage(context.Background(), "Use the think tool once.", []llm.Message{
		{Role: llm.RoleUser, Blocks: []llm.Block{{Text: "Think about the number 2."}}},
	}, tools)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Blocks)
}
