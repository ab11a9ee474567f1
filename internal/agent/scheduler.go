package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zjy-dev/concolic-fuzz/internal/llm"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
	"github.com/zjy-dev/concolic-fuzz/internal/toolproto"
)

const schedulerSystemPrompt = `You are the scheduler for a concolic execution fuzzer. You will be shown every test case currently available, each with its path constraint, the program execution it produced, its position in the call chain, and how often it has previously been selected versus how often that led to new coverage.

Pick exactly one test case to serve as the parent for the next round of exploration. Favor test cases that: reach deeper or rarer parts of the program, have been selected rarely (or never) so far, historically led to new coverage when selected, and diversify away from branches already explored heavily in recent rounds.

Call think to reason about the candidates, then call provide_selection with the chosen test case's id.`

// SchedulerSession runs the scheduler agent over one iteration's scheduling
// view. It caches which test case ids have already been
// described to the model: when every id from a previous round is still
// present in the current view, only entries with ids not yet described are
// rendered in the prompt instead of the full view; an already-described
// entry is not re-rendered even if its contents have changed.
type SchedulerSession struct {
	Client llm.ToolCallingClient
	Usage  toolproto.UsageSink

	seen map[uint64]bool
}

func NewSchedulerSession(client llm.ToolCallingClient, usage toolproto.UsageSink) *SchedulerSession {
	return &SchedulerSession{Client: client, Usage: usage, seen: map[uint64]bool{}}
}

// Select runs the dispatch loop (think, provide_selection only) and returns
// the chosen test case's id.
func (s *SchedulerSession) Select(ctx context.Context, view map[uint64]testcase.SchedulingEntry) (uint64, error) {
	if len(view) == 0 {
		return 0, fmt.Errorf("agent: scheduler: scheduling view is empty")
	}

	reuse := len(s.seen) > 0
	for id := range s.seen {
		if _, ok := view[id]; !ok {
			reuse = false
			break
		}
	}

	ids := make([]uint64, 0, len(view))
	for id := range view {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	newCount := 0
	for _, id := range ids {
		if reuse && s.seen[id] {
			continue // already described to the model in a prior round
		}
		sb.WriteString(renderSchedulingEntry(view[id]))
		sb.WriteString("\n")
		newCount++
	}
	if newCount == 0 {
		sb.WriteString("No new test cases since the last round; re-evaluate the same candidates.\n")
	}
	fmt.Fprintf(&sb, "\nAvailable test case ids: %v\n", ids)

	session := &toolproto.Session{
		Client: s.Client,
		System: schedulerSystemPrompt,
		Tools:  []toolproto.Schema{toolproto.ThinkSchema, toolproto.ProvideSelectionSchema},
		Handlers: map[string]toolproto.HandlerFunc{
			toolproto.ToolThink: thinkHandler,
			toolproto.ToolProvideSelection: func(ctx context.Context, input map[string]any) (string, error) {
				return processSelection(input, ids)
			},
		},
		Terminal: map[string]bool{toolproto.ToolProvideSelection: true},
		Usage:    s.Usage,
	}

	outcome, err := session.Run(ctx, sb.String())
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		s.seen[id] = true
	}

	selected, ok := toInt64(outcome.TerminalArgs, "test_case_id")
	if !ok {
		return 0, fmt.Errorf("agent: scheduler: terminal call missing test_case_id")
	}
	return uint64(selected), nil
}

func processSelection(input map[string]any, validIDs []uint64) (string, error) {
	raw, ok := toInt64(input, "test_case_id")
	if !ok {
		return "", fmt.Errorf("test_case_id must be an integer")
	}
	id := uint64(raw)
	for _, v := range validIDs {
		if v == id {
			return fmt.Sprintf("Test case %d selected for further exploration.", id), nil
		}
	}
	return "", fmt.Errorf("test case id %d is not among the provided ids %v", id, validIDs)
}

func renderSchedulingEntry(e testcase.SchedulingEntry) string {
	src := "none (seed)"
	if e.SrcID != nil {
		src = fmt.Sprintf("%d", *e.SrcID)
	}
	return fmt.Sprintf(
		"<test_case id=%d src_id=%s selected=%d successful=%d weight=%.4f>\n"+
			"<path_constraint>%s</path_constraint>\n"+
			"<execution>%s</execution>\n"+
			"<call_chain>%s</call_chain>\n"+
			"</test_case>",
		e.ID, src, e.SelectedCount, e.SuccessfulCount, e.Weight,
		e.PathConstraint, e.ExecCode, e.CallChainRendering,
	)
}
