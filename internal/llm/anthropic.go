package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements ToolCallingClient against the Anthropic
// Messages API, the primary tool-calling provider for agent sessions.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates a tool-calling client for the given model.
func NewAnthropicClient(apiKey, baseURL, model string, maxTokens int64) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: anthropic api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// SendMessage implements ToolCallingClient.
func (c *AnthropicClient) SendMessage(ctx context.Context, system string, messages []Message, tools []ToolSchema) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  convertMessages(messages),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("llm: anthropic SendMessage: %w", err)
	}

	out := Response{
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CacheRead:    resp.Usage.CacheReadInputTokens,
			CacheWrite:   resp.Usage.CacheCreationInputTokens,
		},
	}
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		out.StopReason = StopToolUse
	default:
		out.StopReason = StopEndTurn
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Blocks = append(out.Blocks, Block{Text: block.Text})
		case "tool_use":
			var input map[string]any
			_ = json.Unmarshal(block.Input, &input)
			out.Blocks = append(out.Blocks, Block{Call: &ToolCall{ID: block.ID, Name: block.Name, Input: input}})
		}
	}
	return out, nil
}

func convertMessages(msgs []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var content []anthropic.ContentBlockParamUnion
		for _, b := range m.Blocks {
			switch {
			case b.Text != "":
				content = append(content, anthropic.NewTextBlock(b.Text))
			case b.Call != nil:
				input, _ := json.Marshal(b.Call.Input)
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    b.Call.ID,
						Name:  b.Call.Name,
						Input: input,
					},
				})
			case b.Result != nil:
				content = append(content, anthropic.NewToolResultBlock(b.Result.ToolCallID, b.Result.Content, b.Result.IsError))
			}
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: content})
	}
	return out
}

func convertTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: "object"}
		if t.Parameters != nil {
			if props, ok := t.Parameters["properties"]; ok {
				schema.Properties = props
			}
		}
		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		}
	}
	return out
}
