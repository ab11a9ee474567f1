package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/pyexec"
	"github.com/zjy-dev/concolic-fuzz/internal/smt"
	"github.com/zjy-dev/concolic-fuzz/internal/toolproto"
)

const solverSystemPrompt = `You are the solver for a concolic execution fuzzer. You are given a symbolic path constraint over the target program's inputs.

Use solve_with_smt to find a satisfying assignment, and execute_python for any exploratory computation you need along the way. Once you have concrete values, call provide_solution with a complete

    def execute_program(timeout: int) -> tuple[str, int]

function that feeds those values to the target and returns its (stderr, return code). If the constraint is unsatisfiable, call provide_solution with is_satisfiable=false instead.`

// SolverResult is the outcome of a solver session: either the constraint
// was deemed unsatisfiable, or a candidate execute_program snippet that
// survived its smoke run.
type SolverResult struct {
	IsSatisfiable   bool
	PythonExecution string
}

// SolverSession runs the solver agent over one path constraint.
type SolverSession struct {
	Client llm.ToolCallingClient
	Solver *smt.Solver
	Runner pyexec.Runner
	Usage  toolproto.UsageSink
}

func NewSolverSession(client llm.ToolCallingClient, solver *smt.Solver, runner pyexec.Runner, usage toolproto.UsageSink) *SolverSession {
	return &SolverSession{Client: client, Solver: solver, Runner: runner, Usage: usage}
}

func (s *SolverSession) Run(ctx context.Context, pathConstraint string) (SolverResult, error) {
	session := &toolproto.Session{
		Client: s.Client,
		System: solverSystemPrompt,
		Tools: []toolproto.Schema{
			toolproto.ThinkSchema, toolproto.SolveWithSMTSchema, toolproto.ExecutePythonSchema,
			toolproto.ProvideSolutionSchema, toolproto.BatchSchema,
		},
		Handlers: map[string]toolproto.HandlerFunc{
			toolproto.ToolThink:          thinkHandler,
			toolproto.ToolSolveWithSMT:   s.handleSolveWithSMT,
			toolproto.ToolExecutePython:  s.handleExecutePython,
			toolproto.ToolProvideSolution: s.handleProvideSolution,
		},
		Terminal: map[string]bool{toolproto.ToolProvideSolution: true},
		Usage:    s.Usage,
	}

	outcome, err := session.Run(ctx, fmt.Sprintf("<target_path_constraint>\n%s\n</target_path_constraint>", pathConstraint))
	if err != nil {
		return SolverResult{}, err
	}

	satisfiable, _ := toBool(outcome.TerminalArgs, "is_satisfiable")
	pythonExec, _ := toString(outcome.TerminalArgs, "python_execution")
	return SolverResult{IsSatisfiable: satisfiable, PythonExecution: pythonExec}, nil
}

func (s *SolverSession) handleSolveWithSMT(ctx context.Context, input map[string]any) (string, error) {
	smtInput, _ := toString(input, "smt_input")
	if smtInput == "" {
		return "", fmt.Errorf("smt_input is required")
	}
	res, err := s.Solver.Solve(ctx, smtInput)
	if err != nil {
		return "", err
	}
	return res.Render(), nil
}

func (s *SolverSession) handleExecutePython(ctx context.Context, input map[string]any) (string, error) {
	code, _ := toString(input, "code")
	if code == "" {
		return "", fmt.Errorf("code is required")
	}
	res, err := s.Runner.RunPython(ctx, code)
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", fmt.Errorf("execute_python: timed out after %s", pyexec.PythonTimeout)
	}
	return fmt.Sprintf("exit code: %d\nstdout:\n%s\nstderr:\n%s", res.ExitCode, res.Stdout, res.Stderr), nil
}

func (s *SolverSession) handleProvideSolution(ctx context.Context, input map[string]any) (string, error) {
	satisfiable, _ := toBool(input, "is_satisfiable")
	if !satisfiable {
		return "Recorded: constraint deemed unsatisfiable.", nil
	}

	code, _ := toString(input, "python_execution")
	if !strings.Contains(code, "def execute_program") {
		return "", fmt.Errorf("python_execution must define execute_program")
	}

	res, err := s.Runner.SmokeRun(ctx, code+"\nexecute_program(2)\n")
	if err != nil {
		return "", fmt.Errorf("smoke run failed to start: %w", err)
	}
	if res.TimedOut {
		return "", fmt.Errorf("smoke run timed out after %s", pyexec.SmokeRunTimeout)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("smoke run exited %d: %s", res.ExitCode, res.Stderr)
	}
	return "Solution accepted: smoke run succeeded.", nil
}
