package pyexec

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasPython3(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestSubprocessRunner_RunPython(t *testing.T) {
	hasPython3(t)
	r := NewSubprocessRunner()

	t.Run("captures stdout", func(t *testing.T) {
		res, err := r.RunPython(context.Background(), `print("hello from python")`)
		require.NoError(t, err)
		assert.Equal(t, "hello from python\n", res.Stdout)
		assert.Equal(t, 0, res.ExitCode)
		assert.False(t, res.TimedOut)
	})

	t.Run("truncates long stdout", func(t *testing.T) {
		res, err := r.RunPython(context.Background(), `print("x" * 20000)`)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.Stdout), MaxStreamChars)
	})

	t.Run("strips trace markers from stderr", func(t *testing.T) {
		res, err := r.RunPython(context.Background(), `import sys; sys.stderr.write("enter foo 1\nreal error\n")`)
		require.NoError(t, err)
		assert.NotContains(t, res.Stderr, "enter foo 1")
		assert.Contains(t, res.Stderr, "real error")
	})

	t.Run("times out on an infinite loop", func(t *testing.T) {
		r2 := &SubprocessRunner{PythonBin: r.pythonBin()}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		res, err := r2.RunPython(ctx, `while True: pass`)
		require.NoError(t, err)
		assert.True(t, res.TimedOut)
	})
}

func TestSubprocessRunner_RunTarget(t *testing.T) {
	r := NewSubprocessRunner()

	t.Run("normal exit", func(t *testing.T) {
		res, err := r.RunTarget(context.Background(), "/bin/echo", "", time.Second)
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.False(t, res.TimedOut)
	})

	t.Run("kills on timeout and reports exit code 124", func(t *testing.T) {
		res, err := r.RunTarget(context.Background(), "/usr/bin/yes", "", 20*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, res.TimedOut)
		assert.Equal(t, 124, res.ExitCode)
	})

	t.Run("defaults to 3s when given a non-positive timeout", func(t *testing.T) {
		start := time.Now()
		res, err := r.RunTarget(context.Background(), "/bin/echo", "", 0)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 3*time.Second)
		assert.False(t, res.TimedOut)
	})
}

func TestSubprocessRunner_RunHarness(t *testing.T) {
	hasPython3(t)
	r := NewSubprocessRunner()

	t.Run("recovers the stderr/return_code tuple as JSON", func(t *testing.T) {
		code := "def execute_program(timeout):\n    return (\"boom\", 7)\n"
		res, err := r.RunHarness(context.Background(), code, time.Second)
		require.NoError(t, err)
		assert.False(t, res.TimedOut)
		assert.Contains(t, res.Stdout, `"return_code": 7`)
		assert.Contains(t, res.Stdout, `"stderr": "boom"`)
	})

	t.Run("host backstop kills a harness that never honors its own timeout", func(t *testing.T) {
		code := "def execute_program(timeout):\n    while True:\n        pass\n"
		res, err := r.RunHarness(context.Background(), code, 20*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, res.TimedOut)
	})
}

func TestTruncateWithMarker(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, truncateWithMarker(short, 10))

	long := strings.Repeat("a", 20)
	out := truncateWithMarker(long, 5)
	assert.Equal(t, "aaaaa"+truncationMarker, out)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil, nil))
	assert.Equal(t, -1, exitCode(nil, assert.AnError))
}
