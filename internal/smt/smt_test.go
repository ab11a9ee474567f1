package smt_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zjy-dev/concolic-fuzz/internal/smt"
)

func TestSolveDialectB_MissingFinalConstraint(t *testing.T) {
	s := smt.NewSolver()
	input := "a = 2\nb = 3\n"
	_, err := s.Solve(context.Background(), input)
	assert.Error(t, err)
}

func TestSolveEmptyInput(t *testing.T) {
	s := smt.NewSolver()
	_, err := s.Solve(context.Background(), "   ")
	assert.Error(t, err)
}

func TestSolveUnknownZ3Binary(t *testing.T) {
	s := smt.NewSolver()
	s.Z3Path = "this-binary-does-not-exist-anywhere"
	_, err := s.Solve(context.Background(), "x > 0")
	assert.Error(t, err)
}

func TestRenderSortsAssignments(t *testing.T) {
	res := smt.Result{Status: smt.SAT, Assignments: map[string]any{"y": 1, "x": 2}}
	rendered := res.Render()
	assert.True(t, strings.Index(rendered, "x") < strings.Index(rendered, "y"))
}

func TestRenderUNSAT(t *testing.T) {
	res := smt.Result{Status: smt.UNSAT}
	assert.Equal(t, "Constraints unsatisfiable.", res.Render())
}
