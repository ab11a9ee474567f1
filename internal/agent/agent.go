// Package agent implements the four LLM-driven agent roles — scheduler,
// summarizer, solver, reviewer — each built on top of internal/toolproto's
// generic dispatch loop with the tool set and terminal conditions that
// role allows.
package agent

import (
	"context"

	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/pyexec"
	"github.com/zjy-dev/concolic-fuzz/internal/smt"
)

// Deps bundles the collaborators every agent role needs: the coverage
// registry backing request_code/select_target_branch, the subprocess
// runner backing execute_python/provide_solution's smoke run, and the
// bounded constraint solver backing solve_with_smt.
type Deps struct {
	Registry *coverage.Registry
	Runner   pyexec.Runner
	Solver   *smt.Solver
}

// thinkHandler is the think tool's handler, shared by every agent role: it
// acknowledges scratch reasoning without changing any state.
func thinkHandler(ctx context.Context, input map[string]any) (string, error) {
	return "Noted.", nil
}

// toInt64 extracts a JSON-numeric argument (decoded as float64 in a
// map[string]any) as an int64.
func toInt64(input map[string]any, key string) (int64, bool) {
	switch n := input[key].(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func toString(input map[string]any, key string) (string, bool) {
	v, ok := input[key].(string)
	return v, ok
}

func toBool(input map[string]any, key string) (bool, bool) {
	v, ok := input[key].(bool)
	return v, ok
}
