package trace

import (
	"strconv"
	"strings"
)

// Ingest applies the marker regex line-wise over raw trace text and
// increments the hit count of every block observed. It returns the set of
// blocks seen in this call (regardless of whether they were already hit).
func (c *Collector) Ingest(rawTrace string) []BlockKey {
	seen := map[BlockKey]bool{}
	var order []BlockKey
	for _, line := range strings.Split(rawTrace, "\n") {
		for _, m := range markerRe.FindAllStringSubmatch(line, -1) {
			id, err := strconv.Atoi(m[3])
			if err != nil {
				continue
			}
			key := BlockKey{Function: m[2], ID: id}
			b, ok := c.blocks[key]
			if !ok {
				// Trace references a block this file doesn't know about; per the
				// collector's failure semantics this is silently ignored rather
				// than raised.
				continue
			}
			b.Hits++
			if !seen[key] {
				seen[key] = true
				order = append(order, key)
			}
		}
	}
	return order
}

// NewlyCoveredLines reports, for a block that just transitioned from
// zero to at least one hit, the count of non-empty real lines within its
// real range that are not claimed by any nested child block (i.e. lines
// whose leaf block, per the per-line block stack, is exactly this block).
func (c *Collector) NewlyCoveredLines(key BlockKey) int {
	b, ok := c.blocks[key]
	if !ok || b.RealEnd < b.RealStart {
		return 0
	}
	n := 0
	for real := b.RealStart; real <= b.RealEnd; real++ {
		leaf, ok := c.leafBlock(real)
		if !ok || leaf != key {
			continue
		}
		if strings.TrimSpace(c.lineText[real]) == "" {
			continue
		}
		n++
	}
	return n
}

// CollectTrace ingests a trace and reports, per newly-hit block (0 -> >=1
// transition caused by this call), the number of newly covered real lines.
// Blocks that were already hit before this call contribute nothing, even if
// hit again, matching the "newly-covered-lines reported only on the first
// ingestion" property.
func (c *Collector) CollectTrace(rawTrace string) map[BlockKey]int {
	before := map[BlockKey]int{}
	for k, b := range c.blocks {
		before[k] = b.Hits
	}
	seen := c.Ingest(rawTrace)
	result := map[BlockKey]int{}
	for _, k := range seen {
		if before[k] == 0 && c.blocks[k].Hits > 0 {
			result[k] = c.NewlyCoveredLines(k)
		}
	}
	return result
}

// TargetCovered reports whether any line in [startReal, endReal] has a
// strictly higher hit count (via its owning block) after ingesting rawTrace
// than it did before.
func (c *Collector) TargetCovered(startReal, endReal int, rawTrace string) bool {
	before := map[BlockKey]int{}
	for real := startReal; real <= endReal; real++ {
		if leaf, ok := c.leafBlock(real); ok {
			before[leaf] = c.blocks[leaf].Hits
		}
	}
	c.Ingest(rawTrace)
	for real := startReal; real <= endReal; real++ {
		leaf, ok := c.leafBlock(real)
		if !ok {
			continue
		}
		if c.blocks[leaf].Hits > before[leaf] {
			return true
		}
	}
	return false
}

// FunctionLineCoverage returns (covered, total) real lines across every
// block belonging to the named function, where a line is credited to the
// function if its leaf block belongs to it.
func (c *Collector) FunctionLineCoverage(function string) (covered, total int) {
	for real := 1; real <= c.totalRealLines; real++ {
		leaf, ok := c.leafBlock(real)
		if !ok || leaf.Function != function {
			continue
		}
		if strings.TrimSpace(c.lineText[real]) == "" {
			continue
		}
		total++
		if c.blocks[leaf].Hits > 0 {
			covered++
		}
	}
	return covered, total
}

// ExecutedBlockCoverage returns (covered, total) real lines across exactly
// the named blocks of a function (not the whole function), used by the
// function call-chain renderer to show per-call coverage.
func (c *Collector) ExecutedBlockCoverage(function string, blockIDs []int) (covered, total int) {
	want := map[int]bool{}
	for _, id := range blockIDs {
		want[id] = true
	}
	for real := 1; real <= c.totalRealLines; real++ {
		leaf, ok := c.leafBlock(real)
		if !ok || leaf.Function != function || !want[leaf.ID] {
			continue
		}
		if strings.TrimSpace(c.lineText[real]) == "" {
			continue
		}
		total++
		if c.blocks[leaf].Hits > 0 {
			covered++
		}
	}
	return covered, total
}
