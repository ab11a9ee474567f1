package trace

// CallEvent is one (file, function, line) observation taken from a raw
// execution trace, in the order it occurred.
type CallEvent struct {
	File     string
	Function string
	Line     int
}

// CallChainNode is one collapsed run of a function call chain: a
// contiguous sequence of events sharing (File, Function), with the lines
// touched during that run.
type CallChainNode struct {
	File     string
	Function string
	Lines    []int
}

// CompressCallChain collapses a raw sequence of call events into contiguous
// same-(file,function) runs: consecutive events for the same function
// collapse into one node recording every line touched during that run, and
// re-entering a function after leaving it starts a new node.
func CompressCallChain(events []CallEvent) []CallChainNode {
	var nodes []CallChainNode
	for _, e := range events {
		if n := len(nodes); n > 0 && nodes[n-1].File == e.File && nodes[n-1].Function == e.Function {
			last := &nodes[n-1]
			if len(last.Lines) == 0 || last.Lines[len(last.Lines)-1] != e.Line {
				last.Lines = append(last.Lines, e.Line)
			}
			continue
		}
		nodes = append(nodes, CallChainNode{File: e.File, Function: e.Function, Lines: []int{e.Line}})
	}
	return nodes
}

// MaxRenderedFunctions bounds the call-chain renderer to the first,
// last, and the lowest-coverage middle functions, with elision markers.
const MaxRenderedFunctions = 20

// RenderedNode is a CallChainNode annotated with the overall coverage of its
// function, as shown to the scheduler agent.
type RenderedNode struct {
	CallChainNode
	OverallCoveredLines int
	OverallTotalLines   int
}

// RenderCallChain compresses nodes to at most MaxRenderedFunctions entries:
// the first and last node are always kept; among the remaining middle
// nodes the 18 with the lowest overall coverage ratio are kept, in their
// original relative order, with an elision count recorded for what was
// dropped.
func RenderCallChain(nodes []RenderedNode) (kept []RenderedNode, elided int) {
	if len(nodes) <= MaxRenderedFunctions {
		return nodes, 0
	}

	first, last := nodes[0], nodes[len(nodes)-1]
	middle := nodes[1 : len(nodes)-1]

	type idxed struct {
		idx   int
		ratio float64
	}
	ranked := make([]idxed, len(middle))
	for i, n := range middle {
		ratio := 1.0
		if n.OverallTotalLines > 0 {
			ratio = float64(n.OverallCoveredLines) / float64(n.OverallTotalLines)
		}
		ranked[i] = idxed{idx: i, ratio: ratio}
	}
	// Partial selection: keep the 18 lowest-coverage-ratio entries.
	keepN := MaxRenderedFunctions - 2
	if keepN > len(ranked) {
		keepN = len(ranked)
	}
	for i := 0; i < keepN; i++ {
		minJ := i
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].ratio < ranked[minJ].ratio {
				minJ = j
			}
		}
		ranked[i], ranked[minJ] = ranked[minJ], ranked[i]
	}
	keptIdx := map[int]bool{}
	for i := 0; i < keepN; i++ {
		keptIdx[ranked[i].idx] = true
	}

	kept = append(kept, first)
	for i, n := range middle {
		if keptIdx[i] {
			kept = append(kept, n)
		} else {
			elided++
		}
	}
	kept = append(kept, last)
	return kept, elided
}
