package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements ToolCallingClient against an OpenAI-compatible
// chat-completions API with function calling, the alternate tool-calling
// provider alongside AnthropicClient.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient creates a tool-calling client for the given model. An
// empty baseURL uses the default OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// SendMessage implements ToolCallingClient.
func (c *OpenAIClient) SendMessage(ctx context.Context, system string, messages []Message, tools []ToolSchema) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  convertOpenAIMessages(system, messages),
	}
	if len(tools) > 0 {
		req.Tools = convertOpenAITools(tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("llm: openai SendMessage: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: openai SendMessage: no choices in response")
	}
	choice := resp.Choices[0]

	out := Response{
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	if choice.Message.Content != "" {
		out.Blocks = append(out.Blocks, Block{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		out.Blocks = append(out.Blocks, Block{Call: &ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input}})
	}

	if choice.FinishReason == openai.FinishReasonToolCalls {
		out.StopReason = StopToolUse
	} else {
		out.StopReason = StopEndTurn
	}
	return out, nil
}

func convertOpenAIMessages(system string, msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		var text string
		var toolCalls []openai.ToolCall
		for _, b := range m.Blocks {
			switch {
			case b.Text != "":
				text += b.Text
			case b.Call != nil:
				args, _ := json.Marshal(b.Call.Input)
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.Call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Call.Name,
						Arguments: string(args),
					},
				})
			case b.Result != nil:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Result.Content,
					ToolCallID: b.Result.ToolCallID,
				})
			}
		}
		if text != "" || len(toolCalls) > 0 {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: text, ToolCalls: toolCalls})
		}
	}
	return out
}

func convertOpenAITools(tools []ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}
