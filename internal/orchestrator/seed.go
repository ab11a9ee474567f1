package orchestrator

import (
	"fmt"

	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// IngestSeed builds an initial, parentless test case from externally
// supplied exec_code/execution_trace pair and persists
// it to the corpus. sourceFile is the instrumented source the trace was
// collected against; it must already be registered in the registry (or
// source must be non-empty so it can be parsed here).
func (o *Orchestrator) IngestSeed(sourceFile, source, execCode, executionTrace string) (*testcase.TestCase, error) {
	if !o.Registry.Has(sourceFile) {
		if source == "" {
			return nil, fmt.Errorf("orchestrator: seed ingestion: %s not registered and no source given to parse", sourceFile)
		}
		o.Registry.GetFromSource(sourceFile, source)
	}

	id := o.Manager.AllocateID()
	tc := testcase.NewSeed(id)
	tc.ExecCode = execCode
	tc.SrcExecCode = execCode
	tc.SrcExecutionTrace = executionTrace
	tc.ExecutionTrace = executionTrace
	tc.ExecutionSummary = summarizeTrace(executionTrace)

	res, err := o.Registry.CollectTrace(sourceFile, executionTrace, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: seed ingestion: collect trace: %w", err)
	}
	newLines := 0
	for _, n := range res.NewlyCoveredByBlock {
		newLines += n
	}
	tc.NewlyCoveredLines = newLines
	tc.NewCoverage = newLines > 0

	if err := o.Manager.Put(tc); err != nil {
		return nil, fmt.Errorf("orchestrator: seed ingestion: persist: %w", err)
	}
	return tc, nil
}
