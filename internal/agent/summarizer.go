package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
	"github.com/zjy-dev/concolic-fuzz/internal/toolproto"
)

const summarizerSystemPrompt = `You are the summarizer for a concolic execution fuzzer. You are given the parent test case's execution trace and path constraint. Propose one or more branches in the target program worth exploring next.

For each branch: call select_target_branch with its location, a justification referencing what has or hasn't been covered so far, and a conservative set of lines guaranteed to execute once it is reached. Then call generate_path_constraint with the symbolic constraint, over program inputs only, required to reach it.

Use request_code if you need more source context before deciding; you have a limited number of requests per session. Call finish once you have proposed every branch worth exploring this round.`

// BranchTarget is one select_target_branch/generate_path_constraint pair
// completed during a summarizer session.
type BranchTarget struct {
	Branch         string
	Justification  string
	ExpectedLines  testcase.FileLines
	PathConstraint string
}

// SummarizerSession runs the summarizer agent for one parent test case,
// collecting every branch it proposes before finish or a forced stop once
// MaxCodeRequestAttempts request_code calls are exhausted.
//
// The orchestrator turns each completed BranchTarget into a fresh child
// test case and a parallel solve+execute task after this session returns,
// rather than mid-session: collecting the full set first and fanning the
// solve+execute work out afterward is observably equivalent to firing each
// task the instant its branch completes, since nothing here depends on an
// in-flight child's result, and it keeps this session's own turn-taking
// single-threaded.
type SummarizerSession struct {
	Client   llm.ToolCallingClient
	Registry *coverage.Registry
	Usage    toolproto.UsageSink

	codeRequests int
	pending      *BranchTarget
	targets      []BranchTarget
}

func NewSummarizerSession(client llm.ToolCallingClient, reg *coverage.Registry, usage toolproto.UsageSink) *SummarizerSession {
	return &SummarizerSession{Client: client, Registry: reg, Usage: usage}
}

// Run drives the dispatch loop over the parent's rendered path constraint
// and execution trace, returning every completed branch target.
func (s *SummarizerSession) Run(ctx context.Context, parentRendering string) ([]BranchTarget, error) {
	var session *toolproto.Session
	requestCode := func(ctx context.Context, input map[string]any) (string, error) {
		if s.codeRequests >= toolproto.MaxCodeRequestAttempts {
			// A request past the cap forces the session to stop here.
			session.Terminal[toolproto.ToolRequestCode] = true
		}
		return s.handleRequestCode(ctx, input)
	}
	session = &toolproto.Session{
		Client: s.Client,
		System: summarizerSystemPrompt,
		Tools: []toolproto.Schema{
			toolproto.ThinkSchema, toolproto.RequestCodeSchema, toolproto.SelectTargetBranchSchema,
			toolproto.GeneratePathConstraintSchema, toolproto.FinishSchema, toolproto.BatchSchema,
		},
		Handlers: map[string]toolproto.HandlerFunc{
			toolproto.ToolThink:                 thinkHandler,
			toolproto.ToolRequestCode:            requestCode,
			toolproto.ToolSelectTargetBranch:     s.handleSelectTargetBranch,
			toolproto.ToolGeneratePathConstraint: s.handleGeneratePathConstraint,
			toolproto.ToolFinish:                 func(ctx context.Context, input map[string]any) (string, error) { return "Session finished.", nil },
		},
		Terminal: map[string]bool{toolproto.ToolFinish: true},
		Usage:    s.Usage,
	}

	if _, err := session.Run(ctx, parentRendering); err != nil {
		return nil, err
	}
	return s.targets, nil
}

func (s *SummarizerSession) handleRequestCode(ctx context.Context, input map[string]any) (string, error) {
	if s.codeRequests >= toolproto.MaxCodeRequestAttempts {
		return "No code-request attempts remain; proceed with what you have.", nil
	}
	s.codeRequests++
	remaining := toolproto.MaxCodeRequestAttempts - s.codeRequests

	raw, ok := input["file_requests"].([]any)
	if !ok {
		return "", fmt.Errorf("file_requests is required")
	}

	var sb strings.Builder
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		filepath, _ := toString(entry, "filepath")
		lines, _ := toString(entry, "lines")
		rendered, err := RenderFileRequest(s.Registry, FileRequest{Filepath: filepath, Lines: lines})
		if err != nil {
			fmt.Fprintf(&sb, "Error requesting %s: %s\n\n", filepath, err)
			continue
		}
		sb.WriteString(rendered)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "(%d code-request attempts remaining)\n", remaining)
	return sb.String(), nil
}

func (s *SummarizerSession) handleSelectTargetBranch(ctx context.Context, input map[string]any) (string, error) {
	branch, _ := toString(input, "target_branch")
	justification, _ := toString(input, "justification")
	if branch == "" {
		return "", fmt.Errorf("target_branch is required")
	}

	lines, err := extractExpectedLines(input)
	if err != nil {
		return "", err
	}
	if _, err := s.Registry.Get(lines.File); err != nil {
		return "", fmt.Errorf("expected_covered_lines.filepath does not exist: %w", err)
	}

	s.pending = &BranchTarget{Branch: branch, Justification: justification, ExpectedLines: lines}
	return fmt.Sprintf("Target branch recorded: %s (%s:%d-%d). Now call generate_path_constraint for it.", branch, lines.File, lines.Start, lines.End), nil
}

func (s *SummarizerSession) handleGeneratePathConstraint(ctx context.Context, input map[string]any) (string, error) {
	if s.pending == nil {
		return "", fmt.Errorf("generate_path_constraint requires a select_target_branch call first")
	}
	constraint, _ := toString(input, "path_constraint")
	if constraint == "" {
		return "", fmt.Errorf("path_constraint is required")
	}
	s.pending.PathConstraint = constraint
	s.targets = append(s.targets, *s.pending)
	s.pending = nil
	return "Path constraint recorded for this branch. Propose another branch, or call finish.", nil
}

func extractExpectedLines(input map[string]any) (testcase.FileLines, error) {
	raw, ok := input["expected_covered_lines"].(map[string]any)
	if !ok {
		return testcase.FileLines{}, fmt.Errorf("expected_covered_lines is required")
	}
	filepath, _ := toString(raw, "filepath")
	lineSpec, _ := toString(raw, "lines")
	if filepath == "" || lineSpec == "" {
		return testcase.FileLines{}, fmt.Errorf("expected_covered_lines.filepath and .lines are required")
	}
	start, end, err := parseExactRange(lineSpec)
	if err != nil {
		return testcase.FileLines{}, err
	}
	return testcase.FileLines{File: filepath, Start: start, End: end}, nil
}
