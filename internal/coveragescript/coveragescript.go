// Package coveragescript runs the external coverage script the replay
// contract names and parses its
// output.
package coveragescript

import (
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Stats is one coverage script invocation's result: line/branch coverage
// percentage and absolute counts for the queried file, plus the hit count
// of the specific line queried (when a line/content argument was given).
type Stats struct {
	LinePercent   float64
	LineAbsolute  string
	BranchPercent float64
	BranchAbsolute string
	LineHits      int
}

// Run invokes `bash <script> [<file> <line> <line_content>]` and parses its
// single CSV output line. file/line/lineContent are optional; pass an empty
// file to query whole-report stats rather than a single line.
func Run(ctx context.Context, script string, timeout time.Duration, file string, line int, lineContent string) (Stats, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{script}
	if file != "" {
		args = append(args, file, strconv.Itoa(line), lineContent)
	}

	cmd := exec.CommandContext(ctx, "bash", args...)
	out, err := cmd.Output()
	if err != nil {
		return Stats{}, fmt.Errorf("coveragescript: run %s: %w", script, err)
	}

	return parseLine(string(out))
}

// parseLine parses the contract's CSV line: line_pct,line_abs,branch_pct,branch_abs,line_hits.
func parseLine(raw string) (Stats, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(raw)))
	fields, err := r.Read()
	if err != nil {
		return Stats{}, fmt.Errorf("coveragescript: parse csv output %q: %w", raw, err)
	}
	if len(fields) != 5 {
		return Stats{}, fmt.Errorf("coveragescript: expected 5 csv fields, got %d in %q", len(fields), raw)
	}

	linePct, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return Stats{}, fmt.Errorf("coveragescript: parse line_pct: %w", err)
	}
	branchPct, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return Stats{}, fmt.Errorf("coveragescript: parse branch_pct: %w", err)
	}
	lineHits, err := strconv.Atoi(strings.TrimSpace(fields[4]))
	if err != nil {
		return Stats{}, fmt.Errorf("coveragescript: parse line_hits: %w", err)
	}

	return Stats{
		LinePercent:    linePct,
		LineAbsolute:   strings.TrimSpace(fields[1]),
		BranchPercent:  branchPct,
		BranchAbsolute: strings.TrimSpace(fields[3]),
		LineHits:       lineHits,
	}, nil
}
