package toolproto

import (
	"context"
	"fmt"
	"strings"

	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// HandlerFunc evaluates one tool call's arguments and returns the
// observation string fed back to the model as a tool_result; a non-nil
// error's text is fed back instead. Any decision is recovered by the
// caller by inspecting Outcome.TerminalArgs once the session ends.
type HandlerFunc func(ctx context.Context, input map[string]any) (observation string, err error)

// UsageSink receives one bucket's usage increment per turn;
// callers typically wire this directly to TestCase.AddUsage.
type UsageSink func(bucket string, u testcase.Usage)

// initialBucket and nonToolBucket are the synthetic labels used for usage
// that can't be attributed to a real tool: the very first turn's
// input (no previous tool exists yet) and a turn's output when the model
// emitted no tool call at all.
const (
	initialBucket = "INITIAL"
	nonToolBucket = "non_tool"
)

// Session drives one tool-calling agent session (scheduler, summarizer,
// solver, or reviewer) through the generic dispatch loop: send
// messages, evaluate any tool calls in order, loop until a terminal tool
// fires.
type Session struct {
	Client   llm.ToolCallingClient
	System   string
	Tools    []Schema
	Handlers map[string]HandlerFunc
	// Terminal names the tool(s) that end the session.
	Terminal map[string]bool
	// MaxTurns bounds the loop as a last-resort safety net against a model
	// that never emits a terminal tool; zero uses defaultMaxTurns.
	MaxTurns int
	Usage    UsageSink
}

const defaultMaxTurns = 40

const nudgeMessage = "No tool call was made. Please invoke one of the available tools to continue."

// Outcome is what a Session.Run call produced: the terminal tool's name and
// arguments, plus the full message transcript for callers that need it
// (e.g. a review session re-reading the solver's prior turns).
type Outcome struct {
	TerminalTool string
	TerminalArgs map[string]any
	Messages     []llm.Message
}

// Run executes the dispatch loop to completion, starting from a single
// user message.
func (s *Session) Run(ctx context.Context, initialUser string) (Outcome, error) {
	maxTurns := s.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	tools := toLLMSchemas(s.Tools)
	messages := []llm.Message{{Role: llm.RoleUser, Blocks: []llm.Block{{Text: initialUser}}}}

	prevLabels := []string{initialBucket}

	for turn := 0; turn < maxTurns; turn++ {
		resp, err := s.Client.SendMessage(ctx, s.System, messages, tools)
		if err != nil {
			return Outcome{}, fmt.Errorf("toolproto: send message: %w", err)
		}

		var calls []*llm.ToolCall
		assistantBlocks := make([]llm.Block, 0, len(resp.Blocks))
		for _, b := range resp.Blocks {
			assistantBlocks = append(assistantBlocks, b)
			if b.Call != nil {
				calls = append(calls, b.Call)
			}
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Blocks: assistantBlocks})

		currLabels := toolLabels(calls)
		s.record(prevLabels, currLabels, resp.Usage)
		prevLabels = currLabels

		if len(calls) == 0 {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Blocks: []llm.Block{{Text: nudgeMessage}}})
			continue
		}

		resultBlocks, terminalName, terminalArgs := s.evaluateCalls(ctx, calls)
		messages = append(messages, llm.Message{Role: llm.RoleUser, Blocks: resultBlocks})

		if terminalName != "" {
			return Outcome{TerminalTool: terminalName, TerminalArgs: terminalArgs, Messages: messages}, nil
		}
	}
	return Outcome{}, fmt.Errorf("toolproto: session exceeded %d turns without a terminal tool", maxTurns)
}

// evaluateCalls runs each emitted tool call's handler in order, expanding
// batch_tool into its constituent invocations and folding their
// observations back into one tool-result block keyed by the batch call's
// own id.
func (s *Session) evaluateCalls(ctx context.Context, calls []*llm.ToolCall) (results []llm.Block, terminalName string, terminalArgs map[string]any) {
	for _, call := range calls {
		if call.Name == ToolBatch {
			invocations, err := parseBatchInvocations(call.Input)
			if err != nil {
				results = append(results, errorResult(call.ID, err))
				continue
			}
			var parts []string
			for _, inv := range invocations {
				obs, name, args, ok := s.invoke(ctx, inv.Name, inv.Input)
				parts = append(parts, fmt.Sprintf("[%s] %s", inv.Name, obs))
				if ok {
					terminalName, terminalArgs = name, args
				}
			}
			results = append(results, llm.Block{Result: &llm.ToolResult{
				ToolCallID: call.ID,
				Content:    strings.Join(parts, "\n\n"),
			}})
			continue
		}

		obs, name, args, ok := s.invoke(ctx, call.Name, call.Input)
		results = append(results, llm.Block{Result: &llm.ToolResult{ToolCallID: call.ID, Content: obs}})
		if ok {
			terminalName, terminalArgs = name, args
		}
	}
	return results, terminalName, terminalArgs
}

// invoke runs one named tool's handler and reports whether it was a
// terminal tool for this session.
func (s *Session) invoke(ctx context.Context, name string, input map[string]any) (observation, terminalName string, terminalArgs map[string]any, isTerminal bool) {
	handler, ok := s.Handlers[name]
	if !ok {
		return fmt.Sprintf("unknown tool %q", name), "", nil, false
	}
	obs, err := handler(ctx, input)
	if err != nil {
		return err.Error(), "", nil, false
	}
	if s.Terminal[name] {
		return obs, name, input, true
	}
	return obs, "", nil, false
}

func errorResult(callID string, err error) llm.Block {
	return llm.Block{Result: &llm.ToolResult{ToolCallID: callID, Content: err.Error(), IsError: true}}
}

// batchInvocation is one constituent call carried inside a batch_tool
// invocation.
type batchInvocation struct {
	Name  string
	Input map[string]any
}

func parseBatchInvocations(input map[string]any) ([]batchInvocation, error) {
	raw, ok := input["invocations"].([]any)
	if !ok {
		return nil, fmt.Errorf("toolproto: batch_tool missing 'invocations' array")
	}
	out := make([]batchInvocation, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := entry["tool_name"].(string)
		args, _ := entry["arguments"].(map[string]any)
		if name == "" {
			continue
		}
		out = append(out, batchInvocation{Name: name, Input: args})
	}
	return out, nil
}

// toolLabels returns the usage-attribution labels for one turn's emitted
// tool calls, expanding batch_tool into its constituent tool names so the
// ledger sees each constituent call as its own label.
func toolLabels(calls []*llm.ToolCall) []string {
	if len(calls) == 0 {
		return []string{nonToolBucket}
	}
	var labels []string
	for _, call := range calls {
		if call.Name == ToolBatch {
			invocations, err := parseBatchInvocations(call.Input)
			if err != nil {
				labels = append(labels, ToolBatch)
				continue
			}
			for _, inv := range invocations {
				labels = append(labels, inv.Name)
			}
			continue
		}
		labels = append(labels, call.Name)
	}
	if len(labels) == 0 {
		return []string{nonToolBucket}
	}
	return labels
}

// record attributes one turn's usage: the input-part (what the model read)
// to the previous turn's tool labels, the output-part (what it produced) to
// this turn's tool labels, split evenly across however many labels apply.
func (s *Session) record(prevLabels, currLabels []string, u llm.Usage) {
	if s.Usage == nil {
		return
	}

	inputShare := testcase.Usage{
		InputTokens: u.InputTokens / int64(len(prevLabels)),
		CacheRead:   u.CacheRead / int64(len(prevLabels)),
	}
	for _, label := range prevLabels {
		s.Usage(label, inputShare)
	}

	outputShare := testcase.Usage{
		OutputTokens: u.OutputTokens / int64(len(currLabels)),
		CacheWrite:   u.CacheWrite / int64(len(currLabels)),
		CostUSD:      u.CostUSD / float64(len(currLabels)),
		LatencyMS:    u.LatencyMS / int64(len(currLabels)),
		CallCount:    1,
	}
	for _, label := range currLabels {
		s.Usage(label, outputShare)
	}
}

func toLLMSchemas(schemas []Schema) []llm.ToolSchema {
	out := make([]llm.ToolSchema, len(schemas))
	for i, sc := range schemas {
		out[i] = llm.ToolSchema{Name: sc.Name, Description: sc.Description, Parameters: sc.Parameters}
	}
	return out
}
