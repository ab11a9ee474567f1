// Package toolproto defines the tool-dispatch protocol shared by every
// agent role: the fixed tool schemas exposed to the model, the
// generic dispatch loop that drives a tool-calling session to a terminal
// tool, and the cost/usage attribution rules tying LLM usage back to the
// test case's per-state buckets.
package toolproto

// MaxCodeRequestAttempts bounds how many request_code calls a summarizer
// session may make.
const MaxCodeRequestAttempts = 10

// Tool names, used both as map keys in the dispatch table and as the
// "name" field sent to the model.
const (
	ToolProvideSelection       = "provide_selection"
	ToolThink                  = "think"
	ToolRequestCode            = "request_code"
	ToolSelectTargetBranch     = "select_target_branch"
	ToolGeneratePathConstraint = "generate_path_constraint"
	ToolSolveWithSMT           = "solve_with_smt"
	ToolExecutePython          = "execute_python"
	ToolProvideSolution        = "provide_solution"
	ToolReviewAnswer           = "review_answer"
	ToolFinish                 = "finish"
	ToolBatch                  = "batch_tool"
)

// Schema is a provider-agnostic tool definition: a JSON-schema "parameters"
// object plus a name/description, translated into the wire format each
// llm.ToolCallingClient implementation expects (Anthropic tool_use blocks, OpenAI
// function-calling, ...).
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

// ThinkSchema lets the model record scratch reasoning without changing any
// state.
var ThinkSchema = Schema{
	Name:        ToolThink,
	Description: "Think through a complex problem step by step before acting. Recorded but does not change program state.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning": strProp("Step-by-step reasoning"),
		},
		"required": []string{"reasoning"},
	},
}

// ProvideSelectionSchema is the scheduler agent's sole terminal tool: the
// id of the parent test case chosen as the basis for the next iteration.
var ProvideSelectionSchema = Schema{
	Name:        ToolProvideSelection,
	Description: "Provide the final selection of a test case, by id, for further exploration.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"test_case_id": map[string]any{"type": "integer", "description": "The id of the test case to select"},
		},
		"required": []string{"test_case_id"},
	},
}

// RequestCodeSchema requests one or more file/line-range snippets, up to
// MaxCodeRequestAttempts per session.
var RequestCodeSchema = Schema{
	Name:        ToolRequestCode,
	Description: "Request additional source code by file and line range to inform branch selection or constraint generation. Batch all needed regions into one call; limited attempts per session.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_requests": map[string]any{
				"type":        "array",
				"description": "Files and line ranges to request",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"filepath": strProp("Relative path to the file"),
						"lines":    strProp(`Line range "start-end", or empty for the whole file`),
					},
					"required": []string{"filepath"},
				},
			},
		},
		"required": []string{"file_requests"},
	},
}

// SelectTargetBranchSchema records the branch chosen for exploration plus
// the minimal set of lines expected to execute when it is reached.
var SelectTargetBranchSchema = Schema{
	Name:        ToolSelectTargetBranch,
	Description: "Select a target branch for exploration, with a justification and a conservative set of lines guaranteed to execute when the branch is taken.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target_branch":  strProp("The branch condition, its desired outcome, and its location"),
			"justification":  strProp("Why this branch was selected, referencing historical coverage"),
			"expected_covered_lines": map[string]any{
				"type":        "object",
				"description": "2-3 lines guaranteed to execute once the branch is reached",
				"properties": map[string]any{
					"filepath": strProp("Relative path to the file"),
					"lines":    strProp(`Line range "start-end"`),
				},
				"required": []string{"filepath", "lines"},
			},
		},
		"required": []string{"target_branch", "justification", "expected_covered_lines"},
	},
}

// GeneratePathConstraintSchema records the symbolic constraint needed to
// reach the currently selected branch.
var GeneratePathConstraintSchema = Schema{
	Name:        ToolGeneratePathConstraint,
	Description: "Generate the symbolic constraint, over program inputs only, required to reach the currently selected target branch.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path_constraint": strProp("The symbolic constraint required to reach the target branch"),
		},
		"required": []string{"path_constraint"},
	},
}

// SolveWithSMTSchema dispatches a constraint to the SMT tool, which
// supports two input dialects: a direct boolean expression, or a fenced
// code block of sequential assignments ending in final_constraint.
var SolveWithSMTSchema = Schema{
	Name:        ToolSolveWithSMT,
	Description: "Solve a symbolic constraint using an SMT-style solver and return a satisfying assignment, or report unsatisfiability.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"smt_input": strProp("Either a boolean expression over free variables, or a fenced code block assigning `final_constraint`"),
		},
		"required": []string{"smt_input"},
	},
}

// ExecutePythonSchema runs arbitrary Python for exploratory scratch work,
// distinct from provide_solution's final harness.
var ExecutePythonSchema = Schema{
	Name:        ToolExecutePython,
	Description: "Execute a Python snippet for exploratory analysis (e.g. computing candidate values). Runs with a 10 second timeout; stdout/stderr truncated at 10,000 characters.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": strProp("The Python source to execute"),
		},
		"required": []string{"code"},
	},
}

// ProvideSolutionSchema records the final satisfiability verdict and, when
// satisfiable, the concrete `execute_program` harness.
var ProvideSolutionSchema = Schema{
	Name:        ToolProvideSolution,
	Description: "Provide the final solution to the path constraint: whether it is satisfiable, and if so, a complete `def execute_program(timeout: int) -> tuple[str, int]` using the concrete values.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"is_satisfiable":   boolProp("Whether the path constraints are satisfiable"),
			"python_execution": strProp("The complete execute_program function; required only if is_satisfiable is true"),
		},
		"required": []string{"is_satisfiable"},
	},
}

// ReviewAnswerSchema is shared by every review_answer variant
// (REVIEW_SOLVER[_EXECUTE], REVIEW_SUMMARY[_SOLVE/_EXECUTE]); the field
// names generalize solve-review's need_adjust/new_python_execution and
// summary-review's equivalents under one schema, since in both cases the
// reviewer either accepts the prior artifact or replaces it.
var ReviewAnswerSchema = Schema{
	Name:        ToolReviewAnswer,
	Description: "Review the previous step's answer. If it needs adjustment, provide a replacement artifact of the same kind (a new execute_program function, a new target branch, or a new constraint, depending on what is under review). A solver-level review may instead escalate, when the generated code is sound but the path constraint itself is at fault.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"need_adjust": boolProp("Whether the previous answer needs adjustment"),
			"replacement": strProp("The replacement artifact; required only if need_adjust is true"),
			"escalate":    boolProp("Solver-level review only: true if the path constraint itself is wrong and must be re-reviewed at the summary level, rather than the generated code"),
		},
		"required": []string{"need_adjust"},
	},
}

// FinishSchema is the terminal tool for sessions that do not emit a
// solution/review artifact directly, such as the summarizer's branch
// selection handoff.
var FinishSchema = Schema{
	Name:        ToolFinish,
	Description: "Signal that this session's work is complete and no further tool calls are needed.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	},
}

// BatchSchema wraps multiple tool invocations into one call, letting a
// model request several code regions or run several independent checks in
// a single round trip.
var BatchSchema = Schema{
	Name:        ToolBatch,
	Description: "Invoke multiple other tool calls simultaneously. Wraps the other tools available in this session.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invocations": map[string]any{
				"type":        "array",
				"description": "The individual tool calls to invoke",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tool_name": strProp("Name of the tool to invoke"),
						"arguments": map[string]any{"type": "object", "description": "Arguments for the named tool"},
					},
					"required": []string{"tool_name", "arguments"},
				},
			},
		},
		"required": []string{"invocations"},
	},
}
