package trace

import (
	"fmt"
	"strings"
)

// Summary renders the annotated source view: executed blocks reproduced
// verbatim, unexecuted blocks collapsed into a
// single "unexecuted: (start-end), cov: covered/total (pct)" comment,
// consecutive unexecuted comments merged by summing numerators/denominators,
// and blocks whose ancestors are themselves unexecuted fully elided.
func (c *Collector) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d lines total)\n", c.FilePath, c.totalRealLines)

	type run struct {
		startReal, endReal int
		blocks             []BlockKey // every leaf block collapsed into this run, across functions
	}
	var pendingRun *run
	flush := func() {
		if pendingRun == nil {
			return
		}
		byFunc := map[string][]int{}
		for _, k := range pendingRun.blocks {
			byFunc[k.Function] = append(byFunc[k.Function], k.ID)
		}
		var covered, total int
		for fn, ids := range byFunc {
			c2, t2 := c.ExecutedBlockCoverage(fn, ids)
			covered += c2
			total += t2
		}
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(covered) / float64(total)
		}
		fmt.Fprintf(&b, "// unexecuted: (%d-%d), cov: %d/%d (%.1f%%)\n",
			pendingRun.startReal, pendingRun.endReal, covered, total, pct)
		pendingRun = nil
	}

	start := c.copyrightPrefixLines + 1
	real := start
	for real <= c.totalRealLines {
		leaf, ok := c.leafBlock(real)
		if !ok {
			real++
			continue
		}
		blk := c.blocks[leaf]
		if c.ancestryExecuted(leaf) {
			flush()
			fmt.Fprintln(&b, c.lineText[real])
			real++
			continue
		}

		// Entire leaf block (and, transitively, its unexecuted ancestors) is
		// unexecuted: collapse its real range into one comment and skip past it.
		end := blk.RealEnd
		if end < real {
			end = real
		}
		if pendingRun != nil && pendingRun.endReal+1 == blk.RealStart {
			pendingRun.endReal = end
			pendingRun.blocks = append(pendingRun.blocks, blk.Key)
		} else {
			flush()
			pendingRun = &run{startReal: blk.RealStart, endReal: end, blocks: []BlockKey{blk.Key}}
		}
		real = end + 1
	}
	flush()

	return b.String()
}

// ancestryExecuted reports whether the given block and every ancestor up to
// (but not including) Global has been hit at least once.
func (c *Collector) ancestryExecuted(leaf BlockKey) bool {
	blk, ok := c.blocks[leaf]
	if !ok || blk.Hits == 0 {
		return false
	}
	if leaf.Function == Global {
		return true
	}
	// Find the line stack containing this leaf to walk ancestors.
	for real := blk.RealStart; real <= blk.RealEnd; real++ {
		st, ok := c.lineStack[real]
		if !ok {
			continue
		}
		for _, k := range st {
			if k.Function == Global {
				continue
			}
			if c.blocks[k].Hits == 0 {
				return false
			}
		}
		return true
	}
	return true
}
