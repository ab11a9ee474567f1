//go:build integration

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configFilesPresent(name string) bool {
	for _, path := range []string{"configs/" + name, "../configs/" + name, "../../configs/" + name} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

func TestLoadConfig_Integration(t *testing.T) {
	if !configFilesPresent("concofuzz.yaml") || !configFilesPresent("llm.yaml") {
		t.Skip("Skipping integration test: config files not found")
	}

	run, err := LoadRunConfig()
	require.NoError(t, err, "LoadRunConfig should succeed with real config files")
	assert.NotEmpty(t, run.OutputDir)

	cfg, err := LoadConfig("anthropic")
	require.NoError(t, err, "LoadConfig should succeed with real config files")
	assert.NotEmpty(t, cfg.LLM.Provider)
	assert.NotEmpty(t, cfg.LLM.Model)
}
