package agent

import (
	"fmt"
	"strings"

	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
)

// FileRequest is one (file, line-range) pair requested by request_code.
type FileRequest struct {
	Filepath string
	Lines    string // "start-end", or empty for the whole file
}

// RenderFileRequest returns an annotated source slice for one request: a
// header with the file's total real-line count, a warning line if the
// requested range was clipped or invalid, then each line prefixed with "+"
// (covered) or "-" (uncovered).
func RenderFileRequest(reg *coverage.Registry, req FileRequest) (string, error) {
	collector, err := reg.Get(req.Filepath)
	if err != nil {
		return "", err
	}

	total := collector.TotalRealLines()
	start, end, warning := parseLineRange(req.Lines, total)

	var sb strings.Builder
	fmt.Fprintf(&sb, "File: %s (%d lines)\n", req.Filepath, total)
	if warning != "" {
		fmt.Fprintf(&sb, "Warning: %s\n", warning)
	}
	for n := start; n <= end; n++ {
		text, ok := collector.LineText(n)
		if !ok {
			continue
		}
		mark := "-"
		if covered, ok := collector.LineCovered(n); ok && covered {
			mark = "+"
		}
		fmt.Fprintf(&sb, "%s %5d| %s\n", mark, n, text)
	}
	return sb.String(), nil
}

// parseLineRange interprets a "start-end" spec against a file's total real
// line count, clipping or falling back to the whole file when the request
// is out of bounds rather than failing the tool call outright.
func parseLineRange(spec string, total int) (start, end int, warning string) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 1, total, ""
	}

	parts := strings.SplitN(spec, "-", 2)
	var s, e int
	if len(parts) == 2 {
		fmt.Sscanf(parts[0], "%d", &s)
		fmt.Sscanf(parts[1], "%d", &e)
	} else {
		fmt.Sscanf(parts[0], "%d", &s)
		e = s
	}

	if s < 1 {
		s = 1
		warning = "requested range clipped to file bounds"
	}
	if e > total {
		e = total
		warning = "requested range clipped to file bounds"
	}
	if e < s {
		s, e = 1, total
		warning = "requested range was invalid; returning the whole file"
	}
	return s, e, warning
}

// parseExactRange interprets a "start-end" spec strictly, for
// select_target_branch's expected_covered_lines where an invalid range is a
// genuine tool-call error rather than something to clip silently.
func parseExactRange(spec string) (start, end int, err error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		if _, err = fmt.Sscanf(spec, "%d", &start); err != nil {
			return 0, 0, fmt.Errorf("invalid line range %q", spec)
		}
		return start, start, nil
	}
	if _, err = fmt.Sscanf(parts[0], "%d", &start); err != nil {
		return 0, 0, fmt.Errorf("invalid line range %q", spec)
	}
	if _, err = fmt.Sscanf(parts[1], "%d", &end); err != nil {
		return 0, 0, fmt.Errorf("invalid line range %q", spec)
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid line range %q: end before start", spec)
	}
	return start, end, nil
}
