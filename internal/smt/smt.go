// Package smt implements the constraint solver backing the solve_with_smt
// tool. It is not itself a decision procedure: it parses one of two input
// dialects into a boolean expression over free variables, then delegates
// satisfiability to a system z3 binary run as a subprocess.
package smt

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// DefaultTimeout is the solver's wall-clock budget.
const DefaultTimeout = 10 * time.Second

// Status classifies the outcome of a Solve call.
type Status int

const (
	Unknown Status = iota
	SAT
	UNSAT
)

// Result is the outcome of a Solve call.
type Result struct {
	Status      Status
	Assignments map[string]any
	// Reason explains an Unknown outcome, e.g. "timeout" or
	// "z3 returned unknown"; it is empty for SAT and UNSAT.
	Reason string
}

// Render formats Result the way the solve_with_smt tool reports it back to
// the model: a sorted "var = value" listing on SAT, the literal
// "Constraints unsatisfiable." on UNSAT, or a diagnostic otherwise.
func (r Result) Render() string {
	switch r.Status {
	case SAT:
		names := make([]string, 0, len(r.Assignments))
		for name := range r.Assignments {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := make([]string, 0, len(names))
		for _, name := range names {
			lines = append(lines, fmt.Sprintf("%s = %v", name, r.Assignments[name]))
		}
		return strings.Join(lines, "\n")
	case UNSAT:
		return "Constraints unsatisfiable."
	default:
		if r.Reason == "" {
			return "Solver could not determine result."
		}
		return "Solver could not determine result. Reason: " + r.Reason
	}
}

// Satisfiable reports whether the solve_with_smt tool should treat this
// result as a success.
func (r Result) Satisfiable() bool {
	return r.Status == SAT
}

// Solver delegates satisfiability to an external z3 process per input.
type Solver struct {
	// Timeout bounds wall-clock solve time; zero uses DefaultTimeout.
	Timeout time.Duration
	// Z3Path is the z3 executable to invoke; empty uses "z3" from PATH.
	Z3Path string
}

// NewSolver returns a Solver configured with the default 10-second
// timeout and "z3" resolved from PATH.
func NewSolver() *Solver {
	return &Solver{Timeout: DefaultTimeout, Z3Path: "z3"}
}

// Solve parses smtInput (either dialect) and asks z3 for a satisfying
// assignment. The returned error is non-nil only for malformed input (parse
// failures) or an unusable z3 invocation; solver-level non-answers (UNSAT,
// timeout, unknown) are reported through Result.Status.
func (s *Solver) Solve(ctx context.Context, smtInput string) (Result, error) {
	smtInput = strings.TrimSpace(smtInput)
	if smtInput == "" {
		return Result{}, fmt.Errorf("smt: smt_input is empty")
	}

	finalExpr, bound, err := parseDialect(smtInput)
	if err != nil {
		return Result{}, err
	}

	free, err := freeVariables(finalExpr, bound)
	if err != nil {
		return Result{}, err
	}

	z3Path := s.Z3Path
	if z3Path == "" {
		z3Path = "z3"
	}
	if _, err := exec.LookPath(z3Path); err != nil {
		return Result{}, fmt.Errorf("smt: z3 binary %q not found: %w", z3Path, err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := solveWithZ3(ctx, z3Path, finalExpr, bound, free)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

var finalConstraintAssign = regexp.MustCompile(`(?m)^\s*final_constraint\s*=\s*(.+)$`)
var importLine = regexp.MustCompile(`(?m)^\s*(import|from)\s+.*$`)
var fencedBlock = regexp.MustCompile("(?s)^```[a-zA-Z]*\n(.*)\n```$")

// parseDialect recognizes dialect A (a direct boolean expression) or dialect
// B (a fenced/bare code block of sequential assignments ending in a binding
// to final_constraint). It returns the boolean expression to
// evaluate plus the variable bindings established by earlier assignment
// lines (dialect B only).
func parseDialect(input string) (finalExpr string, bound map[string]any, err error) {
	if m := fencedBlock.FindStringSubmatch(input); m != nil {
		input = m[1]
	}

	if !finalConstraintAssign.MatchString(input) {
		// Dialect A: a direct expression, no assignment statements.
		return strings.TrimSpace(input), map[string]any{}, nil
	}

	// Dialect B: sequential assignments. Strip imports, normalize the
	// common leading-whitespace prefix, then evaluate each assignment in
	// turn against an accumulating environment.
	lines := strings.Split(input, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		if importLine.MatchString(line) {
			continue
		}
		filtered = append(filtered, line)
	}
	filtered = dedent(filtered)

	env := map[string]any{}
	for _, line := range filtered {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		name, rhs, ok := splitAssignment(trimmed)
		if !ok {
			return "", nil, fmt.Errorf("smt: non-assignment line in code block: %q", trimmed)
		}
		if name == "final_constraint" {
			return rhs, env, nil
		}
		value, evalErr := expr.Eval(rhs, env)
		if evalErr != nil {
			return "", nil, fmt.Errorf("smt: evaluating %q: %w", trimmed, evalErr)
		}
		env[name] = value
	}
	return "", nil, fmt.Errorf("smt: code block missing 'final_constraint' assignment")
}

func splitAssignment(line string) (name, rhs string, ok bool) {
	idx := strings.Index(line, "=")
	if idx <= 0 {
		return "", "", false
	}
	// Reject comparison operators misdetected as assignment.
	if idx+1 < len(line) && line[idx+1] == '=' {
		return "", "", false
	}
	if idx > 0 && (line[idx-1] == '!' || line[idx-1] == '<' || line[idx-1] == '>') {
		return "", "", false
	}
	name = strings.TrimSpace(line[:idx])
	if !isIdentifier(name) {
		return "", "", false
	}
	return name, strings.TrimSpace(line[idx+1:]), true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

// dedent removes the common leading-whitespace prefix of every non-blank
// line, matching the original tool's indentation-normalization rule.
func dedent(lines []string) []string {
	minIndent := -1
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		indent := len(trimmed) - len(strings.TrimLeft(trimmed, " \t"))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		if len(line) >= minIndent {
			out[i] = line[minIndent:]
		} else {
			out[i] = line
		}
	}
	return out
}

// freeVariables returns the identifiers finalExpr references that are not
// already present in bound, by walking its expr-lang AST.
func freeVariables(code string, bound map[string]any) ([]string, error) {
	tree, err := parser.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("smt: parsing constraint: %w", err)
	}

	seen := map[string]bool{}
	var names []string
	ast.Walk(&tree.Node, visitFn(func(n ast.Node) {
		id, ok := n.(*ast.IdentifierNode)
		if !ok {
			return
		}
		if _, isBound := bound[id.Value]; isBound {
			return
		}
		if seen[id.Value] {
			return
		}
		seen[id.Value] = true
		names = append(names, id.Value)
	}))
	sort.Strings(names)
	return names, nil
}

type visitFn func(ast.Node)

func (f visitFn) Visit(node *ast.Node) {
	if node == nil || *node == nil {
		return
	}
	f(*node)
}
