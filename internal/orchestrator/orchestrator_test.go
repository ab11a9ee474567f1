package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/pyexec"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// fakeRunner scripts a single RunHarness response, sufficient for testing
// execute()'s trace-ingestion and classification without spawning python3.
type fakeRunner struct {
	result pyexec.Result
	err    error
}

func (f *fakeRunner) RunPython(ctx context.Context, code string) (pyexec.Result, error) { return pyexec.Result{}, nil }
func (f *fakeRunner) RunTarget(ctx context.Context, binaryPath, stdin string, timeout time.Duration) (pyexec.Result, error) {
	return pyexec.Result{}, nil
}
func (f *fakeRunner) SmokeRun(ctx context.Context, code string) (pyexec.Result, error) {
	return pyexec.Result{}, nil
}
func (f *fakeRunner) RunHarness(ctx context.Context, code string, timeout time.Duration) (pyexec.Result, error) {
	return f.result, f.err
}

func harnessStdout(stderr string, returnCode int) string {
	b, _ := json.Marshal(harnessOutput{Stderr: stderr, ReturnCode: returnCode})
	return string(b)
}

const instrumentedSource = "def f(x):\n    # enter f 1\n    if x > 0:\n        return 1\n    return 0\n    # exit f 1\n"

func TestOrchestrator_Execute_NewCoverageAndTargetCovered(t *testing.T) {
	reg := coverage.New()
	reg.GetFromSource("target.py", instrumentedSource)

	o := &Orchestrator{
		Registry: reg,
		Runner:   &fakeRunner{result: pyexec.Result{Stdout: harnessStdout("enter f 1\nexit f 1\n", 0)}},
		runStart: time.Now(),
	}

	child := testcase.NewChild(2, 1)
	child.TargetFileLines = testcase.FileLines{File: "target.py", Start: 3, End: 3}

	require.NoError(t, o.execute(context.Background(), child))
	assert.True(t, child.NewCoverage)
	assert.Equal(t, 3, child.NewlyCoveredLines)
	assert.True(t, child.IsTargetCovered)
	assert.False(t, child.IsCrash)
	assert.False(t, child.IsHang)
}

func TestOrchestrator_Execute_ClassifiesCrash(t *testing.T) {
	reg := coverage.New()
	reg.GetFromSource("target.py", instrumentedSource)

	o := &Orchestrator{
		Registry: reg,
		Runner:   &fakeRunner{result: pyexec.Result{Stdout: harnessStdout("traceback...", 1)}},
		runStart: time.Now(),
	}

	child := testcase.NewChild(2, 1)
	child.TargetFileLines = testcase.FileLines{File: "target.py", Start: 3, End: 3}

	require.NoError(t, o.execute(context.Background(), child))
	assert.True(t, child.IsCrash)
	assert.False(t, child.IsHang)
}

func TestOrchestrator_Execute_HostTimeoutIsHang(t *testing.T) {
	reg := coverage.New()
	reg.GetFromSource("target.py", instrumentedSource)

	o := &Orchestrator{
		Registry: reg,
		Runner:   &fakeRunner{result: pyexec.Result{TimedOut: true}},
		runStart: time.Now(),
	}

	child := testcase.NewChild(2, 1)
	child.TargetFileLines = testcase.FileLines{File: "target.py", Start: 3, End: 3}

	require.NoError(t, o.execute(context.Background(), child))
	assert.True(t, child.IsHang)
	assert.False(t, child.IsCrash)
	assert.Equal(t, -9, child.ReturnCode)
}

func TestClassifyExecution(t *testing.T) {
	cases := []struct {
		name         string
		returnCode   int
		hostTimedOut bool
		wantCrash    bool
		wantHang     bool
	}{
		{"host timeout always hangs", 0, true, false, true},
		{"harness self-timeout signal is a hang", -9, false, false, true},
		{"nonzero exit is a crash", 1, false, true, false},
		{"zero exit is neither", 0, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			crash, hang := classifyExecution(tc.returnCode, tc.hostTimedOut)
			assert.Equal(t, tc.wantCrash, crash)
			assert.Equal(t, tc.wantHang, hang)
		})
	}
}

func TestTargetTimeout_DefaultsTo3s(t *testing.T) {
	o := &Orchestrator{}
	assert.Equal(t, 3*time.Second, o.targetTimeout())
}

func TestSummarizeTrace_TruncatesLongOutput(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'a'
	}
	out := summarizeTrace(string(long))
	assert.Contains(t, out, "[truncated]")
}
