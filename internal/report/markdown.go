package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// MarkdownReporter implements Reporter by saving one markdown file per
// crash/hang, named by kind and case id and sectioned by target branch,
// path constraint, execution outcome, and usage.
type MarkdownReporter struct {
	outputDir string
}

// NewMarkdownReporter creates a new MarkdownReporter rooted at outputDir.
func NewMarkdownReporter(outputDir string) *MarkdownReporter {
	return &MarkdownReporter{outputDir: outputDir}
}

// Save writes a markdown report for tc, which must be finished with
// IsCrash or IsHang set.
func (r *MarkdownReporter) Save(tc *testcase.TestCase) error {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return fmt.Errorf("report: creating report directory: %w", err)
	}

	kind := "crash"
	if tc.IsHang {
		kind = "hang"
	}
	reportName := fmt.Sprintf("%s_%d_%d.md", kind, tc.ID, time.Now().UnixNano())
	reportPath := filepath.Join(r.outputDir, reportName)

	var content string
	content += fmt.Sprintf("# %s report: case %d\n\n", titleCase(kind), tc.ID)
	content += fmt.Sprintf("## Target branch\n\n%s\n\n", tc.TargetBranch)
	content += fmt.Sprintf("## Path constraint\n\n```\n%s\n```\n\n", tc.TargetPathConstraint)
	content += fmt.Sprintf("## Execution\n\n")
	content += fmt.Sprintf("- Return code: `%d`\n", tc.ReturnCode)
	content += fmt.Sprintf("- Is crash: `%v`\n", tc.IsCrash)
	content += fmt.Sprintf("- Is hang: `%v`\n", tc.IsHang)
	content += fmt.Sprintf("- Is target covered: `%v`\n\n", tc.IsTargetCovered)
	content += fmt.Sprintf("### Stderr\n\n```\n%s\n```\n\n", tc.ExecutionTrace)
	content += fmt.Sprintf("## exec_code\n\n```python\n%s\n```\n\n", tc.ExecCode)
	content += fmt.Sprintf("## States\n\n%v\n\n", tc.States)
	content += fmt.Sprintf("## Usage (total)\n\n%+v\n", tc.CostSummary())

	return os.WriteFile(reportPath, []byte(content), 0644)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
