// Package trace parses instrumented source files into nested block ranges
// and ingests runtime execution traces against them, producing annotated
// coverage summaries for a single file. One Collector is long-lived per
// instrumented file; the coverage registry owns one per path (see
// internal/coverage).
package trace

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// markerRe matches an (enter|exit) <function> <block_id> marker, however it
// is wrapped by the target language's comment or print syntax. The
// file-qualified variant used by the target-program runtime prefixes each
// marker with "[<path>]"; this pattern ignores any such prefix and matches
// the marker fragment wherever it occurs on the line.
var markerRe = regexp.MustCompile(`(?:\[[^\]\s]*\]\s*)?\b(enter|exit)\s+([A-Za-z_][A-Za-z0-9_]*)\s+(\d+)\b`)

// instrumentationLineRe recognizes a line that consists solely of a marker
// (optionally wrapped in comment delimiters or a print/log call) and nothing
// else of substance; such lines are elided from the de-instrumented
// ("real") view.
var instrumentationLineRe = regexp.MustCompile(`^\s*(?://|#|/\*|printf\(|print\(|fprintf\([^,]*,)?\s*"?(?:\[[^\]\s]*\]\s*)?(enter|exit)\s+[A-Za-z_][A-Za-z0-9_]*\s+\d+.*$`)

var copyrightWordsRe = regexp.MustCompile(`(?i)copyright|license|redistribution|permission|author|rights reserved|licensed`)

// Global is the synthetic outermost block every file is seeded with.
const Global = "Global"

// BlockKey identifies a block uniquely within a file.
type BlockKey struct {
	Function string
	ID       int
}

func (k BlockKey) String() string { return fmt.Sprintf("%s#%d", k.Function, k.ID) }

// Block is one lexical instrumentation unit delimited by matching enter/exit
// markers.
type Block struct {
	Key                  BlockKey
	StartLine, EndLine   int // instrumented-file line numbers (1-indexed)
	RealStart, RealEnd   int // de-instrumented line numbers; 0 if the block has no real content
	Hits                 int
}

// Anomaly records a structural parsing problem. Anomalies are reported but
// never raise: the collector stays usable.
type Anomaly struct {
	Line    int
	Message string
}

// Collector is the per-file trace collector.
type Collector struct {
	FilePath string

	lineText map[int]string // real line -> text, after copyright-prefix removal accounting
	blocks   map[BlockKey]*Block
	order    []BlockKey // parse order, stable iteration for rendering

	instrToReal map[int]int
	realToInstr map[int]int
	lineStack   map[int][]BlockKey // real line -> active block stack (outer..inner) at that line

	copyrightPrefixLines int
	totalRealLines        int
	anomalies             []Anomaly
}

// New parses instrumented source text and returns a ready Collector.
func New(filePath, source string) *Collector {
	c := &Collector{
		FilePath:    filePath,
		lineText:    map[int]string{},
		blocks:      map[BlockKey]*Block{},
		instrToReal: map[int]int{},
		realToInstr: map[int]int{},
		lineStack:   map[int][]BlockKey{},
	}
	c.parse(source)
	c.detectCopyrightPrefix()
	return c
}

func (c *Collector) parse(source string) {
	lines := strings.Split(source, "\n")

	type openBlock struct {
		key   BlockKey
		start int
	}
	stack := []openBlock{{key: BlockKey{Function: Global, ID: 0}, start: 1}}
	c.blocks[stack[0].key] = &Block{Key: stack[0].key, StartLine: 1}
	c.order = append(c.order, stack[0].key)

	real := 0
	for i, raw := range lines {
		instrLine := i + 1
		isMarker := instrumentationLineRe.MatchString(raw)

		if !isMarker {
			real++
			c.instrToReal[instrLine] = real
			c.realToInstr[real] = instrLine
			c.lineText[real] = raw
			// record the active block stack (outer..inner) for this real line
			st := make([]BlockKey, len(stack))
			for j, ob := range stack {
				st[j] = ob.key
			}
			c.lineStack[real] = st
		}

		m := markerRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		kind, fn := m[1], m[2]
		id, err := strconv.Atoi(m[3])
		if err != nil {
			c.anomalies = append(c.anomalies, Anomaly{Line: instrLine, Message: "non-numeric block id"})
			continue
		}
		key := BlockKey{Function: fn, ID: id}

		switch kind {
		case "enter":
			stack = append(stack, openBlock{key: key, start: instrLine + 1})
			if _, ok := c.blocks[key]; !ok {
				c.blocks[key] = &Block{Key: key, StartLine: instrLine + 1}
				c.order = append(c.order, key)
			}
		case "exit":
			if len(stack) <= 1 {
				c.anomalies = append(c.anomalies, Anomaly{Line: instrLine, Message: "exit with no matching open block"})
				continue
			}
			top := stack[len(stack)-1]
			if top.key != key {
				c.anomalies = append(c.anomalies, Anomaly{Line: instrLine, Message: fmt.Sprintf("stack mismatch: exit %s while top is %s", key, top.key)})
				// Best-effort: pop anyway to keep the collector usable.
			}
			stack = stack[:len(stack)-1]
			b := c.blocks[top.key]
			b.EndLine = instrLine - 1
			if b.EndLine < b.StartLine {
				// Empty block (back-to-back enter/exit); leave range inverted-empty
				// rather than raising, per the collector's failure semantics.
				b.EndLine = b.StartLine - 1
			}
		}
	}

	// Close any still-open blocks at EOF (defensive: malformed input).
	for len(stack) > 1 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b := c.blocks[top.key]
		b.EndLine = len(lines)
		c.anomalies = append(c.anomalies, Anomaly{Line: len(lines), Message: fmt.Sprintf("unclosed block %s at EOF", top.key)})
	}
	c.blocks[BlockKey{Function: Global, ID: 0}].EndLine = len(lines)

	c.totalRealLines = real
	c.computeRealRanges()
}

// computeRealRanges shrinks each block's instrumented range inward to the
// nearest real (non-marker) lines, producing RealStart/RealEnd.
func (c *Collector) computeRealRanges() {
	for _, key := range c.order {
		b := c.blocks[key]
		if b.EndLine < b.StartLine {
			continue // empty block
		}
		start, ok := c.firstRealAtOrAfter(b.StartLine, b.EndLine)
		if !ok {
			continue
		}
		end, ok := c.lastRealAtOrBefore(b.EndLine, b.StartLine)
		if !ok || end < start {
			continue
		}
		b.RealStart = c.instrToReal[start]
		b.RealEnd = c.instrToReal[end]
	}
}

func (c *Collector) firstRealAtOrAfter(from, to int) (int, bool) {
	for i := from; i <= to; i++ {
		if _, ok := c.instrToReal[i]; ok {
			return i, true
		}
	}
	return 0, false
}

func (c *Collector) lastRealAtOrBefore(from, to int) (int, bool) {
	for i := from; i >= to; i-- {
		if _, ok := c.instrToReal[i]; ok {
			return i, true
		}
	}
	return 0, false
}

func (c *Collector) detectCopyrightPrefix() {
	// Leading block comment.
	first := strings.TrimSpace(c.lineText[1])
	if strings.HasPrefix(first, "/*") {
		n := 0
		for i := 1; i <= c.totalRealLines; i++ {
			n++
			if strings.Contains(c.lineText[i], "*/") {
				break
			}
		}
		if copyrightWordsRe.MatchString(c.joinRange(1, n)) {
			c.copyrightPrefixLines = n
		}
		return
	}
	// Leading run of line comments.
	n := 0
	for i := 1; i <= c.totalRealLines; i++ {
		t := strings.TrimSpace(c.lineText[i])
		if strings.HasPrefix(t, "//") || strings.HasPrefix(t, "#") {
			n++
			continue
		}
		break
	}
	if n > 0 && copyrightWordsRe.MatchString(c.joinRange(1, n)) {
		c.copyrightPrefixLines = n
	}
}

func (c *Collector) joinRange(from, to int) string {
	var sb strings.Builder
	for i := from; i <= to; i++ {
		sb.WriteString(c.lineText[i])
		sb.WriteString("\n")
	}
	return sb.String()
}

// LineText returns the de-instrumented text of real line n.
func (c *Collector) LineText(n int) (string, bool) {
	t, ok := c.lineText[n]
	return t, ok
}

// LineCovered reports whether real line n's innermost block has been hit at
// least once, for the request_code tool's per-line "+"/"-" coverage marks.
func (c *Collector) LineCovered(n int) (covered, ok bool) {
	key, ok := c.leafBlock(n)
	if !ok {
		return false, false
	}
	b, ok := c.blocks[key]
	if !ok {
		return false, false
	}
	return b.Hits > 0, true
}

// StripMarkerLines removes lines that are pure instrumentation markers
// (enter/exit), for callers that need to show a subprocess's raw stderr
// without the instrumentation noise.
func StripMarkerLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if instrumentationLineRe.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Anomalies returns all structural parsing anomalies observed so far.
func (c *Collector) Anomalies() []Anomaly { return append([]Anomaly(nil), c.anomalies...) }

// Blocks returns all parsed blocks, in parse order.
func (c *Collector) Blocks() []*Block {
	out := make([]*Block, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.blocks[k])
	}
	return out
}

// RestoreHits sets each named block's Hits count, for reconstructing a
// Collector's accumulated coverage after reparsing its source from a
// persisted snapshot. Keys with no matching block (e.g. a stale snapshot
// against edited source) are ignored.
func (c *Collector) RestoreHits(hits map[BlockKey]int) {
	for key, h := range hits {
		if b, ok := c.blocks[key]; ok {
			b.Hits = h
		}
	}
}

// TotalRealLines is the number of lines in the de-instrumented view.
func (c *Collector) TotalRealLines() int { return c.totalRealLines }

// leafBlock returns the innermost block active at a real line.
func (c *Collector) leafBlock(real int) (BlockKey, bool) {
	st, ok := c.lineStack[real]
	if !ok || len(st) == 0 {
		return BlockKey{}, false
	}
	return st[len(st)-1], true
}
