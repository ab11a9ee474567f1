// Package llm wraps the LLM providers used to drive agent tool-calling
// sessions plus a lighter-weight completion-only interface for cheap,
// non-tool calls; no agent role calls the completion-only interface.
package llm

import "context"

// Role identifies the speaker of a Message in a tool-calling conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is one tool invocation emitted by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the outcome of executing a ToolCall, fed back to the model
// as part of the next user turn.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Block is one piece of message content: either plain text, a tool call
// emitted by the assistant, or a tool result supplied by the caller.
type Block struct {
	Text   string
	Call   *ToolCall
	Result *ToolResult
}

// Message is one turn of the conversation.
type Message struct {
	Role   Role
	Blocks []Block
}

// Usage is one call's cost/usage record.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CacheRead    int64
	CacheWrite   int64
	CostUSD      float64
	LatencyMS    int64
}

// ToolSchema is the provider-agnostic tool definition passed to SendMessage;
// it mirrors toolproto.Schema's shape without importing that package, so
// llm has no dependency on the agent-level tool catalogue.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is one assistant turn: zero or more content/tool-call blocks,
// a stop reason, and the usage incurred producing it.
type Response struct {
	Blocks     []Block
	StopReason string
	Usage      Usage
}

// StopToolUse and StopEndTurn are the two stop reasons the dispatch loop
// distinguishes; providers normalize their native reasons onto these.
const (
	StopToolUse = "tool_use"
	StopEndTurn = "end_turn"
)

// ToolCallingClient drives one tool-calling turn: given a system prompt,
// conversation so far, and the tool catalogue, it returns the model's next
// turn. Implemented by AnthropicClient and OpenAIClient.
type ToolCallingClient interface {
	SendMessage(ctx context.Context, system string, messages []Message, tools []ToolSchema) (Response, error)
}

// CompletionClient is a plain, non-tool-calling request/response client,
// implemented by DeepSeekClient and MiniMaxClient for cheap classification
// calls that don't need the tool protocol.
type CompletionClient interface {
	Complete(ctx context.Context, system, prompt string) (string, Usage, error)
}
