//go:build integration

package smt_test

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/smt"
)

func requireZ3(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("z3"); err != nil {
		t.Skip("z3 not found, skipping integration test")
	}
}

// TestSolveDialectA_Integration_SAT exercises the direct-expression dialect
// against a real z3 process.
func TestSolveDialectA_Integration_SAT(t *testing.T) {
	requireZ3(t)
	s := smt.NewSolver()
	res, err := s.Solve(context.Background(), "x > 0 && x < 5")
	require.NoError(t, err)
	require.Equal(t, smt.SAT, res.Status)

	x, ok := res.Assignments["x"].(int)
	require.True(t, ok)
	assert.True(t, x > 0 && x < 5)
}

func TestSolveDialectA_Integration_UNSAT(t *testing.T) {
	requireZ3(t)
	s := smt.NewSolver()
	res, err := s.Solve(context.Background(), "x > 0 && x < 0")
	require.NoError(t, err)
	assert.Equal(t, smt.UNSAT, res.Status)
	assert.Equal(t, "Constraints unsatisfiable.", res.Render())
}

func TestSolveDialectB_Integration_CodeBlock(t *testing.T) {
	requireZ3(t)
	s := smt.NewSolver()
	input := "```\n" +
		"import foo\n" +
		"a = 2\n" +
		"b = 3\n" +
		"final_constraint = a + b == 5\n" +
		"```"
	res, err := s.Solve(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, smt.SAT, res.Status)
	assert.Empty(t, res.Assignments) // a, b are bound, not free
}

func TestSolveRespectsContextCancellation_Integration(t *testing.T) {
	requireZ3(t)
	s := smt.NewSolver()
	s.Timeout = 1 * time.Nanosecond
	res, err := s.Solve(context.Background(), "x > 0 && y > 0 && z > 0 && w > 0")
	require.NoError(t, err)
	assert.Equal(t, smt.Unknown, res.Status)
}

// TestBalancedBracketsConstraint_Integration is the canonical four-free-
// variable scenario: a length-4 +-1 sequence with all prefix sums >= 0 and
// total sum 0. z3 must find a genuine satisfying assignment, not merely
// fail to refute one.
func TestBalancedBracketsConstraint_Integration(t *testing.T) {
	requireZ3(t)
	s := smt.NewSolver()
	code := "(a == 1 || a == -1) && (b == 1 || b == -1) && (c == 1 || c == -1) && (d == 1 || d == -1) && " +
		"a >= 0 && a + b >= 0 && a + b + c >= 0 && a + b + c + d == 0"
	res, err := s.Solve(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, smt.SAT, res.Status)

	sum := 0
	prefix := 0
	for _, name := range []string{"a", "b", "c", "d"} {
		v, ok := res.Assignments[name].(int)
		require.True(t, ok, "missing assignment for %s", name)
		require.True(t, v == 1 || v == -1)
		prefix += v
		require.True(t, prefix >= 0)
		sum += v
	}
	require.Equal(t, 0, sum)
}
