// Package report generates markdown crash/hang reports from finished test
// cases: a crash or hang is a finished test case with IsCrash/IsHang set.
package report

import "github.com/zjy-dev/concolic-fuzz/internal/testcase"

// Reporter saves a crash/hang report for a finished test case to disk.
type Reporter interface {
	Save(tc *testcase.TestCase) error
}
