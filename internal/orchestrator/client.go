package orchestrator

import (
	"fmt"

	"github.com/zjy-dev/concolic-fuzz/internal/config"
	"github.com/zjy-dev/concolic-fuzz/internal/llm"
)

// NewToolCallingClient builds the llm.ToolCallingClient backing every agent
// role from an LLMConfig. Only providers with a tool-calling wire format
// qualify; DeepSeek and MiniMax expose CompletionClient only, since every
// agent role requires tool dispatch.
func NewToolCallingClient(cfg config.LLMConfig) (llm.ToolCallingClient, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	switch cfg.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(cfg.APIKey, cfg.Endpoint, cfg.Model, int64(maxTokens))
	case "openai":
		return llm.NewOpenAIClient(cfg.APIKey, cfg.Endpoint, cfg.Model, maxTokens)
	case "deepseek", "minimax":
		return nil, fmt.Errorf("orchestrator: provider %q does not support tool calling, required by every agent role", cfg.Provider)
	default:
		return nil, fmt.Errorf("orchestrator: unknown LLM provider %q", cfg.Provider)
	}
}
