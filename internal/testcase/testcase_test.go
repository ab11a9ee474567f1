package testcase_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

func TestSeedInvariants(t *testing.T) {
	s := testcase.NewSeed(0)
	assert.True(t, s.IsSeed())
	assert.Equal(t, []testcase.State{testcase.Finished}, s.States)
}

func TestWeightFormula(t *testing.T) {
	tc := testcase.NewChild(1, 0)
	tc.SelectedCount = 4
	tc.SuccessfulGenerationCount = 1
	tc.NewCoverage = true

	assert.InDelta(t, 0.75, tc.FailureRatio(), 1e-9)
	assert.InDelta(t, 1.25, tc.Weight(), 1e-9) // (1 - 0.75) + 1
}

func TestWeightZeroSelections(t *testing.T) {
	tc := testcase.NewChild(1, 0)
	assert.Equal(t, 0.0, tc.FailureRatio())
	assert.Equal(t, 1.0, tc.Weight())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	src := uint64(0)
	tc := &testcase.TestCase{
		ID:                 1,
		SrcID:              &src,
		States:             []testcase.State{testcase.Select, testcase.Summarize, testcase.Solve, testcase.Execute, testcase.Finished},
		TargetFileLines:    testcase.FileLines{File: "example.c", Start: 10, End: 12},
		TargetPathConstraint: "x > 5",
		ExecCode:           "def execute_program(timeout):\n    return '', 0\n",
		ExecutionTrace:     "enter main 1\nexit main 1\n",
		IsTargetCovered:    true,
		IsSatisfiable:      true,
		Usage:              map[string]testcase.Usage{testcase.TotalBucket: {InputTokens: 100}},
	}

	data, err := testcase.Marshal(tc)
	require.NoError(t, err)

	got, err := testcase.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, tc.ID, got.ID)
	assert.Equal(t, *tc.SrcID, *got.SrcID)
	assert.Equal(t, tc.States, got.States)
	assert.Equal(t, tc.TargetFileLines, got.TargetFileLines)
	assert.Equal(t, tc.ExecCode, got.ExecCode)
	assert.Equal(t, tc.ExecutionTrace, got.ExecutionTrace)
	assert.Equal(t, tc.IsTargetCovered, got.IsTargetCovered)
	assert.Equal(t, tc.Usage[testcase.TotalBucket].InputTokens, got.Usage[testcase.TotalBucket].InputTokens)
}

func TestFilenameRoundTrip(t *testing.T) {
	src := uint64(7)
	tc := &testcase.TestCase{ID: 12, SrcID: &src}
	name := testcase.Filename(tc, "yaml")
	assert.Equal(t, "id:000012,src:000007.yaml", name)

	id, srcID, ext, err := testcase.ParseFilename(name)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), id)
	require.NotNil(t, srcID)
	assert.Equal(t, uint64(7), *srcID)
	assert.Equal(t, "yaml", ext)
}

func TestManagerAllocateIDAndPersist(t *testing.T) {
	dir := t.TempDir()
	m := testcase.NewManager(dir)
	require.NoError(t, m.Initialize())

	id1 := m.AllocateID()
	id2 := m.AllocateID()
	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)

	tc := testcase.NewChild(id1, 0)
	require.NoError(t, m.Put(tc))

	_, err := os.Stat(filepath.Join(dir, testcase.QueueDir, testcase.Filename(tc, "yaml")))
	require.NoError(t, err)

	m2 := testcase.NewManager(dir)
	require.NoError(t, m2.Recover())
	assert.Equal(t, 1, m2.Len())
}

func TestManagerCrashDuplication(t *testing.T) {
	dir := t.TempDir()
	m := testcase.NewManager(dir)
	require.NoError(t, m.Initialize())

	tc := testcase.NewChild(1, 0)
	tc.IsCrash = true
	require.NoError(t, m.Put(tc))

	_, err := os.Stat(filepath.Join(dir, testcase.CrashDir, testcase.Filename(tc, "yaml")))
	require.NoError(t, err)
}
