package testcase

import (
	"fmt"
	"sort"
)

// MaxSchedulingTokens is the token budget for the scheduling view.
const MaxSchedulingTokens = 180_000

// charsPerToken is the estimation ratio used to convert the character
// budget to an approximate token count (~3.5 chars/token).
const charsPerToken = 3.5

// SchedulingEntry is one row of the scheduling view fed to the scheduler
// agent.
type SchedulingEntry struct {
	ID                 uint64
	SrcID              *uint64
	PathConstraint     string
	ExecCode           string
	CallChainRendering string
	SelectedCount      int64
	SuccessfulCount    int64
	Weight             float64
	text               string // rendered form, cached for the token estimate
}

func renderEntry(t *TestCase, callChain string) SchedulingEntry {
	e := SchedulingEntry{
		ID:                 t.ID,
		SrcID:              t.SrcID,
		PathConstraint:     t.TargetPathConstraint,
		ExecCode:           t.ExecCode,
		CallChainRendering: callChain,
		SelectedCount:      t.SelectedCount,
		SuccessfulCount:    t.SuccessfulGenerationCount,
		Weight:             t.Weight(),
	}
	src := "none (seed)"
	if e.SrcID != nil {
		src = fmt.Sprintf("%d", *e.SrcID)
	}
	e.text = fmt.Sprintf(
		"<test_case_id>%d</test_case_id>\n<src_id>%s</src_id>\n<path_constraint>%s</path_constraint>\n<execution_information>%s</execution_information>\n<function_call_chain>%s</function_call_chain>\n<historical_information>%d/%d selections</historical_information>\n",
		e.ID, src, e.PathConstraint, e.ExecCode, e.CallChainRendering, t.SelectedCount-t.SuccessfulGenerationCount, t.SelectedCount,
	)
	return e
}

func estimateTokens(s string) int {
	return int(float64(len(s))/charsPerToken) + 1
}

// BuildSchedulingView projects every valuable case in m into a
// token-budget-bounded scheduling view, keyed by id. callChains supplies
// the pre-rendered function call-chain text per id (produced by the
// orchestrator from trace data, kept out of this package to avoid an
// import cycle with internal/trace). Entries are ordered by descending
// weight, then ascending id, and kept in that order until the next entry
// would push the estimated token total past MaxSchedulingTokens; that entry
// and every one after it are dropped, so the lowest weights go first and,
// among equal weights, the highest ids.
func BuildSchedulingView(m *Manager, callChains map[uint64]string) map[uint64]SchedulingEntry {
	m.mu.Lock()
	var valuable []*TestCase
	for _, t := range m.cases {
		if t.IsValuable() {
			valuable = append(valuable, t)
		}
	}
	m.mu.Unlock()

	entries := make([]SchedulingEntry, 0, len(valuable))
	for _, t := range valuable {
		entries = append(entries, renderEntry(t, callChains[t.ID]))
	}

	// Descending weight, then ascending id, matching the truncation order
	// the testable properties require.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Weight != entries[j].Weight {
			return entries[i].Weight > entries[j].Weight
		}
		return entries[i].ID < entries[j].ID
	})

	total := 0
	kept := entries[:0:0]
	for _, e := range entries {
		total += estimateTokens(e.text)
		if total > MaxSchedulingTokens {
			break
		}
		kept = append(kept, e)
	}

	view := make(map[uint64]SchedulingEntry, len(kept))
	for _, e := range kept {
		view[e.ID] = e
	}
	return view
}
