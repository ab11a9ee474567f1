package testcase

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// wireUsage is the nested text-block encoding of a Usage record.
type wireUsage struct {
	InputTokens  int64   `yaml:"input_tokens"`
	OutputTokens int64   `yaml:"output_tokens"`
	CacheRead    int64   `yaml:"cache_read"`
	CacheWrite   int64   `yaml:"cache_write"`
	CostUSD      float64 `yaml:"cost_usd"`
	LatencyMS    int64   `yaml:"latency_ms"`
	CallCount    int64   `yaml:"call_count"`
}

// wireCase is the on-disk, human-readable encoding of a TestCase.
// Multi-line fields are re-wrapped as YAML block scalars by multilineNode.
type wireCase struct {
	ID        uint64    `yaml:"id"`
	SrcID     *uint64   `yaml:"src_id,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	TimeTaken float64   `yaml:"time_taken"`

	States []string `yaml:"states"`

	TargetBranch       string `yaml:"target_branch,omitempty"`
	TargetFileLines    string `yaml:"target_file_lines,omitempty"` // "path:start-end" or empty
	TargetLinesContent string `yaml:"target_lines_content,omitempty"`

	TargetPathConstraint string `yaml:"target_path_constraint,omitempty"`

	ExecCode          string `yaml:"exec_code,omitempty"`
	SrcExecCode       string `yaml:"src_exec_code,omitempty"`
	SrcExecutionTrace string `yaml:"src_execution_trace,omitempty"`

	IsSatisfiable     bool   `yaml:"is_satisfiable"`
	IsTargetCovered   bool   `yaml:"is_target_covered"`
	NewCoverage       bool   `yaml:"new_coverage"`
	IsCrash           bool   `yaml:"is_crash"`
	IsHang            bool   `yaml:"is_hang"`
	NewlyCoveredLines int    `yaml:"newly_covered_lines"`
	ReturnCode        int    `yaml:"returncode"`
	ExecutionTrace    string `yaml:"execution_trace,omitempty"`
	ExecutionSummary  string `yaml:"execution_summary,omitempty"`

	SelectedCount             int64 `yaml:"selected_cnt"`
	SuccessfulGenerationCount int64 `yaml:"successful_generation_cnt"`

	Usage map[string]wireUsage `yaml:"usage"`
}

func encodeFileLines(f FileLines) string {
	if f.Empty() {
		return ""
	}
	return fmt.Sprintf("%s:%d-%d", f.File, f.Start, f.End)
}

func decodeFileLines(s string) (FileLines, error) {
	if s == "" {
		return FileLines{}, nil
	}
	var f FileLines
	var path string
	var start, end int
	// rsplit on the last ':' since file paths may contain ':' on some platforms
	idx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return f, fmt.Errorf("testcase: malformed target_file_lines %q", s)
	}
	path = s[:idx]
	if _, err := fmt.Sscanf(s[idx+1:], "%d-%d", &start, &end); err != nil {
		return f, fmt.Errorf("testcase: malformed target_file_lines %q: %w", s, err)
	}
	return FileLines{File: path, Start: start, End: end}, nil
}

func toWire(t *TestCase) wireCase {
	w := wireCase{
		ID:                        t.ID,
		SrcID:                     t.SrcID,
		CreatedAt:                 t.CreatedAt,
		TimeTaken:                 t.TimeTaken,
		TargetBranch:              t.TargetBranch,
		TargetFileLines:           encodeFileLines(t.TargetFileLines),
		TargetLinesContent:        t.TargetLinesContent,
		TargetPathConstraint:      t.TargetPathConstraint,
		ExecCode:                  t.ExecCode,
		SrcExecCode:               t.SrcExecCode,
		SrcExecutionTrace:         t.SrcExecutionTrace,
		IsSatisfiable:             t.IsSatisfiable,
		IsTargetCovered:           t.IsTargetCovered,
		NewCoverage:               t.NewCoverage,
		IsCrash:                   t.IsCrash,
		IsHang:                    t.IsHang,
		NewlyCoveredLines:         t.NewlyCoveredLines,
		ReturnCode:                t.ReturnCode,
		ExecutionTrace:            t.ExecutionTrace,
		ExecutionSummary:          t.ExecutionSummary,
		SelectedCount:             t.SelectedCount,
		SuccessfulGenerationCount: t.SuccessfulGenerationCount,
		Usage:                     map[string]wireUsage{},
	}
	for _, s := range t.States {
		w.States = append(w.States, string(s))
	}
	for k, u := range t.Usage {
		w.Usage[k] = wireUsage(u)
	}
	return w
}

func fromWire(w wireCase) (*TestCase, error) {
	fl, err := decodeFileLines(w.TargetFileLines)
	if err != nil {
		return nil, err
	}
	t := &TestCase{
		ID:                        w.ID,
		SrcID:                     w.SrcID,
		CreatedAt:                 w.CreatedAt,
		TimeTaken:                 w.TimeTaken,
		TargetBranch:              w.TargetBranch,
		TargetFileLines:           fl,
		TargetLinesContent:        w.TargetLinesContent,
		TargetPathConstraint:      w.TargetPathConstraint,
		ExecCode:                  w.ExecCode,
		SrcExecCode:               w.SrcExecCode,
		SrcExecutionTrace:         w.SrcExecutionTrace,
		IsSatisfiable:             w.IsSatisfiable,
		IsTargetCovered:           w.IsTargetCovered,
		NewCoverage:               w.NewCoverage,
		IsCrash:                   w.IsCrash,
		IsHang:                    w.IsHang,
		NewlyCoveredLines:         w.NewlyCoveredLines,
		ReturnCode:                w.ReturnCode,
		ExecutionTrace:            w.ExecutionTrace,
		ExecutionSummary:          w.ExecutionSummary,
		SelectedCount:             w.SelectedCount,
		SuccessfulGenerationCount: w.SuccessfulGenerationCount,
		Usage:                     map[string]Usage{},
	}
	for _, s := range w.States {
		t.States = append(t.States, State(s))
	}
	for k, u := range w.Usage {
		t.Usage[k] = Usage(u)
	}
	return t, nil
}

// blockScalarFields lists the wireCase yaml keys that must always be
// rendered as literal block scalars (the "|" style), even when short, so
// that multi-line fields round-trip exactly; empty ones are omitted by their
// omitempty tags.
var blockScalarFields = map[string]bool{
	"exec_code":             true,
	"src_exec_code":         true,
	"execution_trace":       true,
	"src_execution_trace":   true,
	"execution_summary":     true,
	"target_lines_content":  true,
	"target_path_constraint": true,
}

// Marshal encodes a test case to its on-disk YAML representation, using
// literal block scalars for multi-line fields.
func Marshal(t *TestCase) ([]byte, error) {
	var node yaml.Node
	if err := node.Encode(toWire(t)); err != nil {
		return nil, fmt.Errorf("testcase: encoding: %w", err)
	}
	applyBlockStyle(&node)
	return yaml.Marshal(&node)
}

// applyBlockStyle walks a mapping node produced from wireCase and marks the
// value nodes of blockScalarFields as literal-style scalars.
func applyBlockStyle(node *yaml.Node) {
	if node.Kind != yaml.DocumentNode {
		if node.Kind == yaml.MappingNode {
			walkMapping(node)
		}
		return
	}
	for _, c := range node.Content {
		applyBlockStyle(c)
	}
}

func walkMapping(m *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i], m.Content[i+1]
		if blockScalarFields[key.Value] && val.Kind == yaml.ScalarNode {
			val.Style = yaml.LiteralStyle
		}
	}
}

// Unmarshal decodes a test case from its on-disk YAML representation.
func Unmarshal(data []byte) (*TestCase, error) {
	var w wireCase
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("testcase: decoding: %w", err)
	}
	return fromWire(w)
}
