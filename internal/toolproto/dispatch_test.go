package toolproto_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
	"github.com/zjy-dev/concolic-fuzz/internal/toolproto"
)

// scriptedClient replays a fixed sequence of responses, one per SendMessage
// call, for deterministic dispatch-loop testing.
type scriptedClient struct {
	responses []llm.Response
	calls     int
}

func (c *scriptedClient) SendMessage(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (llm.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func toolCallResponse(id, name string, input map[string]any, usage llm.Usage) llm.Response {
	return llm.Response{
		Blocks:     []llm.Block{{Call: &llm.ToolCall{ID: id, Name: name, Input: input}}},
		StopReason: llm.StopToolUse,
		Usage:      usage,
	}
}

func TestSession_RunsToTerminalTool(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", toolproto.ToolThink, map[string]any{"reasoning": "hmm"}, llm.Usage{InputTokens: 10, OutputTokens: 5}),
		toolCallResponse("2", toolproto.ToolFinish, map[string]any{}, llm.Usage{InputTokens: 8, OutputTokens: 3}),
	}}

	var thinkCalled bool
	session := &toolproto.Session{
		Client: client,
		System: "you are a test agent",
		Tools:  []toolproto.Schema{toolproto.ThinkSchema, toolproto.FinishSchema},
		Handlers: map[string]toolproto.HandlerFunc{
			toolproto.ToolThink: func(ctx context.Context, input map[string]any) (string, error) {
				thinkCalled = true
				return "noted", nil
			},
			toolproto.ToolFinish: func(ctx context.Context, input map[string]any) (string, error) {
				return "done", nil
			},
		},
		Terminal: map[string]bool{toolproto.ToolFinish: true},
	}

	outcome, err := session.Run(context.Background(), "start")
	require.NoError(t, err)
	assert.True(t, thinkCalled)
	assert.Equal(t, toolproto.ToolFinish, outcome.TerminalTool)
}

func TestSession_NudgesOnNoToolCall(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Blocks: []llm.Block{{Text: "just thinking out loud"}}, StopReason: llm.StopEndTurn},
		toolCallResponse("1", toolproto.ToolFinish, map[string]any{}, llm.Usage{}),
	}}

	session := &toolproto.Session{
		Client:   client,
		Tools:    []toolproto.Schema{toolproto.FinishSchema},
		Handlers: map[string]toolproto.HandlerFunc{toolproto.ToolFinish: func(ctx context.Context, input map[string]any) (string, error) { return "done", nil }},
		Terminal: map[string]bool{toolproto.ToolFinish: true},
	}

	outcome, err := session.Run(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, toolproto.ToolFinish, outcome.TerminalTool)
	assert.Equal(t, 2, client.calls)
}

func TestSession_ExpandsBatchTool(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("batch-1", toolproto.ToolBatch, map[string]any{
			"invocations": []any{
				map[string]any{"tool_name": toolproto.ToolThink, "arguments": map[string]any{"reasoning": "a"}},
				map[string]any{"tool_name": toolproto.ToolFinish, "arguments": map[string]any{}},
			},
		}, llm.Usage{}),
	}}

	var thinkCount int
	session := &toolproto.Session{
		Client: client,
		Tools:  []toolproto.Schema{toolproto.ThinkSchema, toolproto.FinishSchema, toolproto.BatchSchema},
		Handlers: map[string]toolproto.HandlerFunc{
			toolproto.ToolThink:  func(ctx context.Context, input map[string]any) (string, error) { thinkCount++; return "noted", nil },
			toolproto.ToolFinish: func(ctx context.Context, input map[string]any) (string, error) { return "done", nil },
		},
		Terminal: map[string]bool{toolproto.ToolFinish: true},
	}

	outcome, err := session.Run(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, 1, thinkCount)
	assert.Equal(t, toolproto.ToolFinish, outcome.TerminalTool)

	// The batch's two sub-results should have been folded into a single
	// tool-result block keyed by the batch call's own id.
	last := outcome.Messages[len(outcome.Messages)-1]
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, "batch-1", last.Blocks[0].Result.ToolCallID)
}

func TestSession_AttributesUsageAcrossTurns(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", toolproto.ToolThink, map[string]any{}, llm.Usage{InputTokens: 100, OutputTokens: 50}),
		toolCallResponse("2", toolproto.ToolFinish, map[string]any{}, llm.Usage{InputTokens: 20, OutputTokens: 10}),
	}}

	ledger := map[string]testcase.Usage{}
	session := &toolproto.Session{
		Client: client,
		Tools:  []toolproto.Schema{toolproto.ThinkSchema, toolproto.FinishSchema},
		Handlers: map[string]toolproto.HandlerFunc{
			toolproto.ToolThink:  func(ctx context.Context, input map[string]any) (string, error) { return "noted", nil },
			toolproto.ToolFinish: func(ctx context.Context, input map[string]any) (string, error) { return "done", nil },
		},
		Terminal: map[string]bool{toolproto.ToolFinish: true},
		Usage: func(bucket string, u testcase.Usage) {
			b := ledger[bucket]
			b.Add(u)
			ledger[bucket] = b
		},
	}

	_, err := session.Run(context.Background(), "start")
	require.NoError(t, err)

	// Turn 1's input (100 tokens) has no real previous tool yet, so it
	// lands in the synthetic INITIAL bucket; its output (50 tokens) is
	// attributed to "think", the tool it just emitted.
	assert.EqualValues(t, 100, ledger["INITIAL"].InputTokens)
	assert.EqualValues(t, 50, ledger[toolproto.ToolThink].OutputTokens)

	// Turn 2's input (20 tokens) is attributed back to "think" (the
	// previous turn's tool); its output (10 tokens) to "finish".
	assert.EqualValues(t, 20, ledger[toolproto.ToolThink].InputTokens)
	assert.EqualValues(t, 10, ledger[toolproto.ToolFinish].OutputTokens)
}
