package report

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

func TestMarkdownReporter_Save_Crash(t *testing.T) {
	dir := t.TempDir()
	r := NewMarkdownReporter(dir)

	tc := testcase.NewChild(7, 1)
	tc.TargetBranch = "example.py:10-12"
	tc.TargetPathConstraint = "x > 5"
	tc.ExecCode = "def execute_program(timeout):\n    return (\"\", 1)\n"
	tc.ExecutionTrace = "Traceback...\nValueError: boom"
	tc.ReturnCode = 1
	tc.IsCrash = true

	require.NoError(t, r.Save(tc))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name(), "crash_7_"))

	content, err := os.ReadFile(dir + "/" + files[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Crash report: case 7")
	assert.Contains(t, string(content), "x > 5")
	assert.Contains(t, string(content), "ValueError: boom")
}

func TestMarkdownReporter_Save_Hang(t *testing.T) {
	dir := t.TempDir()
	r := NewMarkdownReporter(dir)

	tc := testcase.NewChild(9, 1)
	tc.IsHang = true
	tc.ReturnCode = -9

	require.NoError(t, r.Save(tc))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name(), "hang_9_"))
}
