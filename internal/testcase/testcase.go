// Package testcase implements the test-case entity and its on-disk,
// AFL-style corpus manager. A TestCase is a value
// updated by explicit state-transition functions and persisted at
// well-defined checkpoints; the "autosave on every attribute write" pattern
// is deliberately not implemented.
package testcase

import "time"

// State is one label from the test-case state machine.
type State string

const (
	Select              State = "SELECT"
	Summarize           State = "SUMMARIZE"
	Solve               State = "SOLVE"
	Execute             State = "EXECUTE"
	ReviewSolver        State = "REVIEW_SOLVER"
	ReviewSolverExecute State = "REVIEW_SOLVER_EXECUTE"
	ReviewSummary       State = "REVIEW_SUMMARY"
	ReviewSummarySolve  State = "REVIEW_SUMMARY_SOLVE"
	ReviewSummaryExec   State = "REVIEW_SUMMARY_EXECUTE"
	Finished            State = "FINISHED"
)

// TotalBucket is the aggregate usage key that always exists in Usage.
const TotalBucket = "TOTAL"

// Usage is one aggregate cost/usage record.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CacheRead    int64
	CacheWrite   int64
	CostUSD      float64
	LatencyMS    int64
	CallCount    int64
}

// Add merges o into u in place (incremental merge, not overwrite).
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheRead += o.CacheRead
	u.CacheWrite += o.CacheWrite
	u.CostUSD += o.CostUSD
	u.LatencyMS += o.LatencyMS
	u.CallCount += o.CallCount
}

// FileLines names a (file path, [start,end]) real-line range.
type FileLines struct {
	File  string
	Start int
	End   int
}

// Empty reports whether no target lines were set.
func (f FileLines) Empty() bool { return f.File == "" }

// TestCase represents one concrete input and its execution.
type TestCase struct {
	ID    uint64
	SrcID *uint64 // nil => seed

	CreatedAt time.Time
	TimeTaken float64 // seconds since run start, updated until FINISHED

	States []State

	TargetBranch       string
	TargetFileLines    FileLines
	TargetLinesContent string

	TargetPathConstraint string

	ExecCode         string
	SrcExecCode      string
	SrcExecutionTrace string

	IsSatisfiable    bool
	IsTargetCovered  bool
	NewCoverage      bool
	IsCrash          bool
	IsHang           bool
	NewlyCoveredLines int
	ReturnCode       int
	ExecutionTrace   string
	ExecutionSummary string

	SelectedCount            int64
	SuccessfulGenerationCount int64

	Usage map[string]Usage
}

// NewSeed constructs an initial (parentless) test case. Per spec invariant,
// a seed's state list contains only FINISHED.
func NewSeed(id uint64) *TestCase {
	return &TestCase{
		ID:        id,
		CreatedAt: time.Now(),
		States:    []State{Finished},
		Usage:     map[string]Usage{TotalBucket: {}},
	}
}

// NewChild constructs a test case descending from parent. Its initial
// state on creation from a parent is [SELECT, SUMMARIZE].
func NewChild(id uint64, parentID uint64) *TestCase {
	p := parentID
	return &TestCase{
		ID:        id,
		SrcID:     &p,
		CreatedAt: time.Now(),
		States:    []State{Select, Summarize},
		Usage:     map[string]Usage{TotalBucket: {}},
	}
}

// IsSeed reports whether this case has no parent.
func (t *TestCase) IsSeed() bool { return t.SrcID == nil }

// IsFinished reports whether the case has reached its terminal state.
func (t *TestCase) IsFinished() bool {
	return len(t.States) > 0 && t.States[len(t.States)-1] == Finished
}

// AppendState appends a new state label, enforcing the monotonic-growth
// invariant, and
// updates TimeTaken. runStart is the process-wide run start time.
func (t *TestCase) AppendState(s State, runStart time.Time) {
	t.States = append(t.States, s)
	if !t.IsFinished() || s == Finished {
		t.TimeTaken = time.Since(runStart).Seconds()
	}
}

// IsValuable reports whether this case qualifies for the scheduling view:
// it either covered its declared target or produced any new coverage.
func (t *TestCase) IsValuable() bool {
	return t.IsTargetCovered || t.NewCoverage
}

// FailureRatio and Weight implement the scheduling formulas:
//
//	failure_ratio = (selected - successful)/selected, 0 when selected = 0
//	weight = (1 - failure_ratio) + (1 if new_coverage else 0)
func (t *TestCase) FailureRatio() float64 {
	if t.SelectedCount == 0 {
		return 0
	}
	return float64(t.SelectedCount-t.SuccessfulGenerationCount) / float64(t.SelectedCount)
}

func (t *TestCase) Weight() float64 {
	w := 1 - t.FailureRatio()
	if t.NewCoverage {
		w++
	}
	return w
}

// AddUsage merges a usage record into the named state bucket and the TOTAL
// bucket.
func (t *TestCase) AddUsage(bucket string, u Usage) {
	if t.Usage == nil {
		t.Usage = map[string]Usage{}
	}
	b := t.Usage[bucket]
	b.Add(u)
	t.Usage[bucket] = b
	tot := t.Usage[TotalBucket]
	tot.Add(u)
	t.Usage[TotalBucket] = tot
}

// CostSummary returns the TOTAL usage bucket.
func (t *TestCase) CostSummary() Usage { return t.Usage[TotalBucket] }
