package coveragescript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func TestRun_ParsesContractLine(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\necho '87.50,35/40,66.00,4/6,3'\n")

	stats, err := Run(context.Background(), script, time.Second, "target.py", 12, "if x > 0:")
	require.NoError(t, err)
	assert.Equal(t, 87.5, stats.LinePercent)
	assert.Equal(t, "35/40", stats.LineAbsolute)
	assert.Equal(t, 66.0, stats.BranchPercent)
	assert.Equal(t, "4/6", stats.BranchAbsolute)
	assert.Equal(t, 3, stats.LineHits)
}

func TestRun_WholeReportQuery(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\necho '100.00,10/10,50.00,1/2,0'\n")

	stats, err := Run(context.Background(), script, time.Second, "", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, stats.LinePercent)
}

func TestRun_MalformedOutput(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\necho 'not,enough,fields'\n")

	_, err := Run(context.Background(), script, time.Second, "target.py", 1, "x")
	assert.Error(t, err)
}

func TestParseLine(t *testing.T) {
	stats, err := parseLine("12.30,1/8,0.00,0/0,5\n")
	require.NoError(t, err)
	assert.Equal(t, 12.3, stats.LinePercent)
	assert.Equal(t, 5, stats.LineHits)
}
