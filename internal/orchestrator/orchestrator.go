// Package orchestrator drives the main SELECT -> SUMMARIZE -> SOLVE ->
// EXECUTE -> [REVIEW ...] -> FINISHED loop, wiring
// together internal/agent's four roles, the on-disk corpus manager, the
// coverage registry, and the subprocess runner.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/zjy-dev/concolic-fuzz/internal/agent"
	"github.com/zjy-dev/concolic-fuzz/internal/config"
	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/logger"
	"github.com/zjy-dev/concolic-fuzz/internal/pyexec"
	"github.com/zjy-dev/concolic-fuzz/internal/report"
	"github.com/zjy-dev/concolic-fuzz/internal/smt"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
	"github.com/zjy-dev/concolic-fuzz/internal/toolproto"
)

// Orchestrator runs the fuzzing loop against one target program.
type Orchestrator struct {
	Config   config.RunConfig
	Manager  *testcase.Manager
	Registry *coverage.Registry
	Runner   pyexec.Runner
	Client   llm.ToolCallingClient
	Solver   *smt.Solver

	// Reporter writes a markdown report for every finished case with
	// IsCrash or IsHang set. Nil disables reporting.
	Reporter report.Reporter

	scheduler *agent.SchedulerSession
	reviewer  *agent.ReviewerSession
	runStart  time.Time
	log       *logger.Logger

	iteration int
}

// New constructs an Orchestrator from its collaborators. Config defaults
// (output dir, timeouts, checkpoint cadence) are expected to already be
// applied by config.LoadRunConfig.
func New(cfg config.RunConfig, mgr *testcase.Manager, reg *coverage.Registry, runner pyexec.Runner, client llm.ToolCallingClient, solver *smt.Solver) *Orchestrator {
	return &Orchestrator{
		Config:    cfg,
		Manager:   mgr,
		Registry:  reg,
		Runner:    runner,
		Client:    client,
		Solver:    solver,
		Reporter:  report.NewMarkdownReporter(cfg.OutputDir + "/" + testcase.CrashDir),
		scheduler: agent.NewSchedulerSession(client, nil),
		reviewer:  agent.NewReviewerSession(client, nil),
		log:       logger.Component("orchestrator"),
	}
}

// Run drives the main loop until MaxIterations completes (0 = unlimited) or
// ctx is canceled. It recovers from an existing corpus on disk, if any,
// before the first iteration.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Manager.Initialize(); err != nil {
		return fmt.Errorf("orchestrator: initialize corpus: %w", err)
	}
	if err := o.Manager.Recover(); err != nil {
		return fmt.Errorf("orchestrator: recover corpus: %w", err)
	}

	o.runStart = time.Now()

	for o.Config.MaxIterations <= 0 || o.iteration < o.Config.MaxIterations {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := o.runIteration(ctx); err != nil {
			o.log.Error("iteration %d failed: %v", o.iteration, err)
		}
		o.iteration++

		if o.Config.CheckpointEveryIterations > 0 && o.iteration%o.Config.CheckpointEveryIterations == 0 {
			o.checkpoint()
		}
	}

	o.checkpoint()
	return nil
}

func (o *Orchestrator) checkpoint() {
	path := o.Config.OutputDir + "/coverage.bin"
	if err := o.Registry.Save(path, true); err != nil {
		o.log.Error("checkpoint: save coverage registry: %v", err)
	}
}

// runIteration implements one SELECT -> ... round: build the scheduling
// view, have the scheduler pick a parent, have the summarizer propose
// branches, then process every proposed branch's solve+execute (and any
// review) in parallel.
func (o *Orchestrator) runIteration(ctx context.Context) error {
	view := testcase.BuildSchedulingView(o.Manager, nil)
	if len(view) == 0 {
		return fmt.Errorf("no valuable test cases available to schedule from; seed the corpus first")
	}

	parentID, err := o.scheduler.Select(ctx, view)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	o.Manager.MarkSelected(parentID)

	parent, ok := o.Manager.Get(parentID)
	if !ok {
		return fmt.Errorf("scheduler selected unknown test case %d", parentID)
	}

	summarizer := agent.NewSummarizerSession(o.Client, o.Registry, nil)
	targets, err := summarizer.Run(ctx, renderParent(parent))
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	if len(targets) == 0 {
		o.log.Info("summarizer proposed no branches for parent %d", parentID)
		return nil
	}

	maxParallel := o.Config.MaxParallelTasks
	if maxParallel <= 0 {
		maxParallel = 4
	}
	p := pool.New().WithContext(ctx).WithMaxGoroutines(maxParallel)

	var errs error
	for _, target := range targets {
		target := target
		p.Go(func(ctx context.Context) error {
			if err := o.processBranch(ctx, parent, target); err != nil {
				multierr.AppendInto(&errs, fmt.Errorf("branch %q: %w", target.Branch, err))
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		multierr.AppendInto(&errs, err)
	}
	return errs
}

func renderParent(t *testcase.TestCase) string {
	return fmt.Sprintf(
		"<parent_test_case id=%d>\n<path_constraint>%s</path_constraint>\n<execution_trace>%s</execution_trace>\n<execution_summary>%s</execution_summary>\n</parent_test_case>",
		t.ID, t.TargetPathConstraint, t.ExecutionTrace, t.ExecutionSummary,
	)
}

// processBranch runs one branch target's full child lifecycle: allocate the
// child, SOLVE, EXECUTE, then whatever review chain applies, finishing
// unconditionally at FINISHED. Every path out of this function ends with
// the child persisted.
func (o *Orchestrator) processBranch(ctx context.Context, parent *testcase.TestCase, target agent.BranchTarget) error {
	childID := o.Manager.AllocateID()
	child := testcase.NewChild(childID, parent.ID)
	child.TargetBranch = target.Branch
	child.TargetFileLines = target.ExpectedLines
	child.TargetPathConstraint = target.PathConstraint

	usage := func(bucket string, u testcase.Usage) { child.AddUsage(bucket, u) }

	solver := agent.NewSolverSession(o.Client, o.Solver, o.Runner, usage)

	child.AppendState(testcase.Solve, o.runStart)
	solved, err := solver.Run(ctx, target.PathConstraint)
	if err != nil {
		return o.finish(child, fmt.Errorf("solver: %w", err))
	}

	child.IsSatisfiable = solved.IsSatisfiable
	if !solved.IsSatisfiable {
		child.AppendState(testcase.Finished, o.runStart)
		return o.persist(child)
	}

	child.ExecCode = solved.PythonExecution
	if err := o.execute(ctx, child); err != nil {
		return o.finish(child, fmt.Errorf("execute: %w", err))
	}

	if child.IsCrash || child.IsHang {
		child.AppendState(testcase.Finished, o.runStart)
		return o.persist(child)
	}
	if child.IsValuable() {
		o.Manager.MarkSuccessfulGeneration(parent.ID)
		child.AppendState(testcase.Finished, o.runStart)
		return o.persist(child)
	}

	return o.review(ctx, parent, child, usage)
}

// review runs the single-correction-chance chain for a non-valuable,
// non-crashing execution: REVIEW_SOLVER decides whether to
// patch the generated code (REVIEW_SOLVER_EXECUTE) or escalate to a
// summary-level re-review (REVIEW_SUMMARY -> REVIEW_SUMMARY_SOLVE ->
// REVIEW_SUMMARY_EXECUTE). Either path finishes unconditionally afterward.
func (o *Orchestrator) review(ctx context.Context, parent *testcase.TestCase, child *testcase.TestCase, usage toolproto.UsageSink) error {
	child.AppendState(testcase.ReviewSolver, o.runStart)
	solverReview, err := o.reviewer.Review(ctx, "execute_program function", child.ExecCode,
		fmt.Sprintf("execution neither crashed, hung, nor produced new coverage; stderr: %s", child.ExecutionTrace))
	if err != nil {
		return o.finish(child, fmt.Errorf("review_solver: %w", err))
	}

	if solverReview.Escalate {
		child.AppendState(testcase.ReviewSummary, o.runStart)
		summaryReview, err := o.reviewer.Review(ctx, "path constraint", child.TargetPathConstraint,
			fmt.Sprintf("solver-generated code for this constraint did not produce a valuable execution against branch %q", child.TargetBranch))
		if err != nil {
			return o.finish(child, fmt.Errorf("review_summary: %w", err))
		}
		if summaryReview.NeedAdjust && summaryReview.Replacement != "" {
			child.TargetPathConstraint = summaryReview.Replacement
		}

		child.AppendState(testcase.ReviewSummarySolve, o.runStart)
		solver := agent.NewSolverSession(o.Client, o.Solver, o.Runner, usage)
		resolved, err := solver.Run(ctx, child.TargetPathConstraint)
		if err != nil {
			return o.finish(child, fmt.Errorf("review_summary_solve: %w", err))
		}
		child.IsSatisfiable = resolved.IsSatisfiable
		if resolved.IsSatisfiable {
			child.ExecCode = resolved.PythonExecution
		}

		child.AppendState(testcase.ReviewSummaryExec, o.runStart)
		if child.IsSatisfiable {
			if err := o.execute(ctx, child); err != nil {
				return o.finish(child, fmt.Errorf("review_summary_execute: %w", err))
			}
			if child.IsValuable() {
				o.Manager.MarkSuccessfulGeneration(parent.ID)
			}
		}
		return o.finish(child, nil)
	}

	if solverReview.NeedAdjust && solverReview.Replacement != "" {
		child.ExecCode = solverReview.Replacement
	}
	child.AppendState(testcase.ReviewSolverExecute, o.runStart)
	if err := o.execute(ctx, child); err != nil {
		return o.finish(child, fmt.Errorf("review_solver_execute: %w", err))
	}
	if child.IsValuable() {
		o.Manager.MarkSuccessfulGeneration(parent.ID)
	}
	return o.finish(child, nil)
}

func (o *Orchestrator) finish(child *testcase.TestCase, cause error) error {
	child.AppendState(testcase.Finished, o.runStart)
	if persistErr := o.persist(child); persistErr != nil {
		return multierr.Append(cause, persistErr)
	}
	return cause
}

func (o *Orchestrator) persist(child *testcase.TestCase) error {
	if err := o.Manager.Put(child); err != nil {
		return err
	}
	if o.Reporter != nil && (child.IsCrash || child.IsHang) {
		if err := o.Reporter.Save(child); err != nil {
			o.log.Error("report: save case %d: %v", child.ID, err)
		}
	}
	return nil
}

// harnessOutput is the JSON tuple a RunHarness driver prints to stdout.
type harnessOutput struct {
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

// targetTimeout resolves the configured target-program timeout, defaulting
// to 3 seconds.
func (o *Orchestrator) targetTimeout() time.Duration {
	if o.Config.TargetTimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(o.Config.TargetTimeoutSeconds) * time.Second
}

// execute runs child.ExecCode's execute_program harness, ingests the
// resulting trace into the coverage registry, and
// classifies the outcome as crash, hang, target-covered, and/or
// newly-covering.
func (o *Orchestrator) execute(ctx context.Context, child *testcase.TestCase) error {
	child.AppendState(testcase.Execute, o.runStart)

	res, err := o.Runner.RunHarness(ctx, child.ExecCode, o.targetTimeout())
	if err != nil {
		return err
	}

	var out harnessOutput
	rawTrace := res.Stderr
	if res.TimedOut {
		child.IsHang = true
		child.ReturnCode = -9
		child.ExecutionTrace = res.Stderr
	} else if jsonErr := json.Unmarshal([]byte(res.Stdout), &out); jsonErr == nil {
		child.ReturnCode = out.ReturnCode
		child.ExecutionTrace = out.Stderr
		rawTrace = out.Stderr
		child.IsCrash, child.IsHang = classifyExecution(out.ReturnCode, false)
	} else {
		// The harness crashed before reaching its own driver's print
		// statement; fall back to the raw captured stderr.
		child.ReturnCode = res.ExitCode
		child.ExecutionTrace = res.Stderr
		child.IsCrash, child.IsHang = classifyExecution(res.ExitCode, false)
	}

	child.ExecutionSummary = summarizeTrace(rawTrace)

	if !child.TargetFileLines.Empty() {
		// The general (untargeted) ingestion must run first: it only credits
		// a block as newly-covered on its zero-to-nonzero hit transition, so
		// running the targeted call first would consume that transition and
		// leave the general call seeing an already-nonzero block.
		generalRes, err := o.Registry.CollectTrace(child.TargetFileLines.File, rawTrace, 0, 0)
		if err != nil {
			return fmt.Errorf("collect general trace: %w", err)
		}
		newLines := 0
		for _, n := range generalRes.NewlyCoveredByBlock {
			newLines += n
		}
		child.NewlyCoveredLines = newLines
		child.NewCoverage = newLines > 0

		targetRes, err := o.Registry.CollectTrace(child.TargetFileLines.File, rawTrace, child.TargetFileLines.Start, child.TargetFileLines.End)
		if err != nil {
			return fmt.Errorf("collect target trace: %w", err)
		}
		child.IsTargetCovered = targetRes.TargetCovered
	}

	return nil
}

// classifyExecution applies the crash/hang rule: a
// host-level timeout is always a hang; otherwise a negative return code
// equal to -SIGKILL is the harness's own timeout guard (also a hang), and
// any other non-zero code is a crash.
func classifyExecution(returnCode int, hostTimedOut bool) (isCrash, isHang bool) {
	if hostTimedOut {
		return false, true
	}
	if returnCode == -9 {
		return false, true
	}
	if returnCode != 0 {
		return true, false
	}
	return false, false
}

// summarizeTrace returns raw unchanged when it is at most 2000 bytes long,
// and otherwise its first 2000 bytes followed by "...[truncated]". The
// result is stored as the case's ExecutionSummary, which renderParent shows
// to the summarizer.
func summarizeTrace(raw string) string {
	const max = 2000
	if len(raw) <= max {
		return raw
	}
	return raw[:max] + "...[truncated]"
}
