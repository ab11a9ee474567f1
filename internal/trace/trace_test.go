package trace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/trace"
)

const sampleSource = `// enter main 1
int main() {
    int x = 1;
    // enter a 2
    foo();
    // exit a 2
    return 0;
}
// exit main 1
`

func TestNewParsesBlocks(t *testing.T) {
	c := trace.New("main.c", sampleSource)
	require.Empty(t, c.Anomalies())

	blocks := c.Blocks()
	require.Len(t, blocks, 3) // Global + main + a (block "a" nested inside main is separate)
}

func TestIngestDoublesHitsOnRepeat(t *testing.T) {
	c := trace.New("main.c", sampleSource)
	trace1 := "enter main 1\nexit main 1"

	first := c.CollectTrace(trace1)
	require.NotEmpty(t, first)

	second := c.CollectTrace(trace1)
	// Second ingestion reports no newly-covered lines: the block was already hit.
	assert.Empty(t, second)

	// Each ingestion still counts its hits (one per enter and one per exit
	// marker), so main's count doubles from 2 to 4.
	for _, b := range c.Blocks() {
		if b.Key.Function == "main" {
			assert.Equal(t, 4, b.Hits)
		}
	}
}

func TestCompressCallChain(t *testing.T) {
	events := []trace.CallEvent{
		{File: "f.c", Function: "a", Line: 1},
		{File: "f.c", Function: "a", Line: 2},
		{File: "f.c", Function: "b", Line: 1},
	}
	nodes := trace.CompressCallChain(events)
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].Function)
	assert.Equal(t, []int{1, 2}, nodes[0].Lines)
	assert.Equal(t, "b", nodes[1].Function)
	assert.Equal(t, []int{1}, nodes[1].Lines)
}

func TestStructuralAnomalyDoesNotPanic(t *testing.T) {
	bad := "// exit orphan 9\nint x;\n"
	require.NotPanics(t, func() {
		c := trace.New("bad.c", bad)
		assert.NotEmpty(t, c.Anomalies())
	})
}

// branchSource gives "main" two sibling blocks (ids 2 and 3) nested under
// its own outer block (id 1), so a per-block unexecuted collapse can be
// told apart from a whole-function one.
const branchSource = `// enter main 1
int main() {
    int x = 1;
    if (x) {
        // enter main 2
        int y = 2;
        // exit main 2
    } else {
        // enter main 3
        int z = 3;
        // exit main 3
    }
    return 0;
}
// exit main 1
`

func TestSummaryScopesUnexecutedCoverageToItsOwnBlock(t *testing.T) {
	c := trace.New("branch.c", branchSource)
	// Hit the outer block and the "if" branch, but never the "else" branch.
	c.CollectTrace("enter main 1\nenter main 2\nexit main 2\nexit main 1")

	out := c.Summary()

	assert.Contains(t, out, "int y = 2;")    // executed branch reproduced verbatim
	assert.Contains(t, out, "unexecuted: (6-6), cov: 0/1 (0.0%)")

	// A collapse scoped to the whole "main" function (the bug) would have
	// reported 8/9 here instead of the one-line "else" block's own ratio.
	assert.NotContains(t, out, "8/9")
}
