package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// scriptedClient replays a fixed sequence of responses for deterministic
// dispatch-loop testing, mirroring internal/toolproto's own test double.
type scriptedClient struct {
	responses []llm.Response
	calls     int
}

func (c *scriptedClient) SendMessage(ctx context.Context, system string, messages []llm.Message, tools []llm.ToolSchema) (llm.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func toolCallResponse(id, name string, input map[string]any) llm.Response {
	return llm.Response{
		Blocks:     []llm.Block{{Call: &llm.ToolCall{ID: id, Name: name, Input: input}}},
		StopReason: llm.StopToolUse,
	}
}

func TestSchedulerSession_SelectsValidID(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", "provide_selection", map[string]any{"test_case_id": float64(2)}),
	}}

	srcID := uint64(1)
	view := map[uint64]testcase.SchedulingEntry{
		1: {ID: 1},
		2: {ID: 2, SrcID: &srcID, PathConstraint: "x > 0"},
	}

	s := NewSchedulerSession(client, nil)
	id, err := s.Select(context.Background(), view)
	require.NoError(t, err)
	assert.EqualValues(t, 2, id)
	assert.True(t, s.seen[1])
	assert.True(t, s.seen[2])
}

func TestSchedulerSession_RejectsUnknownID(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", "provide_selection", map[string]any{"test_case_id": float64(99)}),
		toolCallResponse("2", "provide_selection", map[string]any{"test_case_id": float64(1)}),
	}}

	view := map[uint64]testcase.SchedulingEntry{1: {ID: 1}}

	s := NewSchedulerSession(client, nil)
	id, err := s.Select(context.Background(), view)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	assert.Equal(t, 2, client.calls)
}

func TestSchedulerSession_EmptyViewErrors(t *testing.T) {
	s := NewSchedulerSession(&scriptedClient{}, nil)
	_, err := s.Select(context.Background(), map[uint64]testcase.SchedulingEntry{})
	assert.Error(t, err)
}

const sampleSource = "def f(x):\n    if x > 0:\n        return 1\n    return 0\n"

func TestRenderFileRequest_MarksCoveredLines(t *testing.T) {
	reg := coverage.New()
	collector := reg.GetFromSource("target.py", sampleSource)
	_ = collector

	rendered, err := RenderFileRequest(reg, FileRequest{Filepath: "target.py", Lines: "1-2"})
	require.NoError(t, err)
	assert.Contains(t, rendered, "target.py")
	assert.Contains(t, rendered, "def f(x):")
	// No trace has been ingested, so line 1 carries the uncovered mark.
	assert.Contains(t, rendered, "-     1| def f(x):")
}

func TestRenderFileRequest_ClipsOutOfBoundsRange(t *testing.T) {
	reg := coverage.New()
	reg.GetFromSource("target.py", sampleSource)

	rendered, err := RenderFileRequest(reg, FileRequest{Filepath: "target.py", Lines: "1-999"})
	require.NoError(t, err)
	assert.Contains(t, rendered, "Warning")
}

func TestSummarizerSession_CollectsBranchTargets(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", "select_target_branch", map[string]any{
			"target_branch": "if x > 0 at target.py:2, take false branch",
			"justification": "never explored",
			"expected_covered_lines": map[string]any{
				"filepath": "target.py",
				"lines":    "4-4",
			},
		}),
		toolCallResponse("2", "generate_path_constraint", map[string]any{"path_constraint": "x <= 0"}),
		toolCallResponse("3", "finish", map[string]any{}),
	}}

	reg := coverage.New()
	reg.GetFromSource("target.py", sampleSource)

	s := NewSummarizerSession(client, reg, nil)
	targets, err := s.Run(context.Background(), "<parent/>")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "x <= 0", targets[0].PathConstraint)
	assert.Equal(t, "target.py", targets[0].ExpectedLines.File)
}

func TestSummarizerSession_GeneratePathConstraintRequiresPriorBranch(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", "generate_path_constraint", map[string]any{"path_constraint": "x <= 0"}),
		toolCallResponse("2", "finish", map[string]any{}),
	}}

	reg := coverage.New()
	s := NewSummarizerSession(client, reg, nil)
	targets, err := s.Run(context.Background(), "<parent/>")
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestReviewerSession_ReportsNeedAdjust(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", "review_answer", map[string]any{"need_adjust": true, "replacement": "fixed code"}),
	}}

	r := NewReviewerSession(client, nil)
	res, err := r.Review(context.Background(), "execute_program function", "old code", "smoke run failed")
	require.NoError(t, err)
	assert.True(t, res.NeedAdjust)
	assert.Equal(t, "fixed code", res.Replacement)
}

func TestReviewerSession_RequiresReplacementWhenAdjusting(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		toolCallResponse("1", "review_answer", map[string]any{"need_adjust": true}),
		toolCallResponse("2", "review_answer", map[string]any{"need_adjust": false}),
	}}

	r := NewReviewerSession(client, nil)
	res, err := r.Review(context.Background(), "path constraint", "old constraint", "unsatisfiable")
	require.NoError(t, err)
	assert.False(t, res.NeedAdjust)
	assert.Equal(t, 2, client.calls)
}
