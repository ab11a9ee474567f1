package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the top-level configuration for concofuzz.
type Config struct {
	LLM LLMConfig `mapstructure:"llm"`
	Run RunConfig `mapstructure:"run"`

	LogLevel string `mapstructure:"log_level"`
	LogDir   string `mapstructure:"log_dir"`
}

// RunConfig holds the per-run parameters of the orchestrator loop. These
// values serve as defaults and can be overridden by CLI flags.
type RunConfig struct {
	// OutputDir is the root directory for the on-disk corpus (queue/,
	// crashes_or_hangs/) and the coverage registry snapshot.
	OutputDir string `mapstructure:"output_dir"`

	// MaxIterations bounds the number of SELECT->...->FINISHED cycles the
	// orchestrator runs (0 = unlimited).
	MaxIterations int `mapstructure:"max_iterations"`

	// TargetTimeoutSeconds is the default timeout for executing the
	// target program under test.
	TargetTimeoutSeconds int `mapstructure:"target_timeout_seconds"`

	// PythonTimeoutSeconds is loaded and defaulted (10) but not consulted:
	// execute_python uses pyexec.PythonTimeout and SMT calls use
	// smt.DefaultTimeout.
	PythonTimeoutSeconds int `mapstructure:"python_timeout_seconds"`

	// SchedulingTokenBudget is loaded and defaulted (180,000) but not
	// consulted: BuildSchedulingView always uses testcase.MaxSchedulingTokens.
	SchedulingTokenBudget int `mapstructure:"scheduling_token_budget"`

	// CheckpointEveryIterations saves the coverage registry snapshot every N
	// completed iterations; corpus cases are persisted by each Put on its
	// own, not by the checkpoint.
	CheckpointEveryIterations int `mapstructure:"checkpoint_every_iterations"`

	// MaxParallelTasks bounds concurrent solve+execute tasks.
	MaxParallelTasks int `mapstructure:"max_parallel_tasks"`
}

// LLMConfig holds the configuration for one Large Language Model provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	Endpoint    string  `mapstructure:"endpoint"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// envVarPattern matches environment variable placeholders: ${VAR_NAME} or $VAR_NAME
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// resolveEnvVars replaces environment variable placeholders in a string with
// their values. Supports ${VAR_NAME} and $VAR_NAME; unset variables are left
// as-is in the string.
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			varName = match[2 : len(match)-1]
		} else if strings.HasPrefix(match, "$") {
			varName = match[1:]
		}
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

// LoadEnvFromDotEnv loads KEY=value pairs from a .env file in dir, if one
// exists. Existing environment variables are not overwritten.
func LoadEnvFromDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("config: reading .env file: %w", err)
	}

	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return fmt.Errorf("config: invalid .env line %d: missing '='", lineNum+1)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
			value = value[1 : len(value)-1]
		} else if strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
			value = value[1 : len(value)-1]
		}

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return nil
}

// LoadEnvFromDotEnvRecursive searches startDir and its ancestors (and, as a
// fallback, the ancestors of the process working directory) for a .env file.
func LoadEnvFromDotEnvRecursive(startDir string) error {
	dir := startDir
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, ".env")); err == nil {
			return LoadEnvFromDotEnv(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	wd, _ := os.Getwd()
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(filepath.Join(wd, ".env")); err == nil {
			return LoadEnvFromDotEnv(wd)
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			break
		}
		wd = parent
	}
	return nil
}

// applyEnvResolution resolves environment variable placeholders across every
// string setting viper has loaded, then replaces v's contents in place.
func applyEnvResolution(v *viper.Viper) {
	settings := v.AllSettings()
	resolveInMap(settings)
	for key, value := range settings {
		v.Set(key, value)
	}
}

func resolveInMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if resolved := resolveEnvVars(val); resolved != val {
				m[k] = resolved
			}
		case map[string]interface{}:
			resolveInMap(val)
		case []interface{}:
			resolveInSlice(val)
		}
	}
}

func resolveInSlice(s []interface{}) {
	for i, v := range s {
		switch val := v.(type) {
		case string:
			s[i] = resolveEnvVars(val)
		case map[string]interface{}:
			resolveInMap(val)
		}
	}
}

func newConfigViper(name string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")
	return v
}

// LoadRunConfig loads configs/concofuzz.yaml into a RunConfig, applying
// defaults for anything unset. Provider/model settings live in the
// separate llm.yaml, loaded by LoadLLMConfig.
func LoadRunConfig() (RunConfig, error) {
	v := newConfigViper("concofuzz")
	if err := v.ReadInConfig(); err != nil {
		return RunConfig{}, fmt.Errorf("config: reading concofuzz.yaml: %w", err)
	}
	applyEnvResolution(v)

	var cfg Config
	if v.IsSet("config") {
		if err := v.UnmarshalKey("config", &cfg); err != nil {
			return RunConfig{}, fmt.Errorf("config: unmarshaling concofuzz.yaml: %w", err)
		}
	} else if err := v.Unmarshal(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("config: unmarshaling concofuzz.yaml: %w", err)
	}

	applyRunDefaults(&cfg.Run)
	return cfg.Run, nil
}

func applyRunDefaults(r *RunConfig) {
	if r.OutputDir == "" {
		r.OutputDir = "concofuzz_out"
	}
	if r.TargetTimeoutSeconds == 0 {
		r.TargetTimeoutSeconds = 3
	}
	if r.PythonTimeoutSeconds == 0 {
		r.PythonTimeoutSeconds = 10
	}
	if r.SchedulingTokenBudget == 0 {
		r.SchedulingTokenBudget = 180_000
	}
	if r.CheckpointEveryIterations == 0 {
		r.CheckpointEveryIterations = 10
	}
	if r.MaxParallelTasks == 0 {
		r.MaxParallelTasks = 4
	}
}

// LoadLLMConfig loads configs/llm.yaml, which holds an array of provider
// configurations under the "llms" key, and returns the one matching
// provider. Each field supports ${VAR}/$VAR environment substitution, so
// API keys need not be committed to the config file.
func LoadLLMConfig(provider string) (LLMConfig, error) {
	v := newConfigViper("llm")
	if err := v.ReadInConfig(); err != nil {
		return LLMConfig{}, fmt.Errorf("config: reading llm.yaml: %w", err)
	}

	settings := v.AllSettings()
	rawList, ok := settings["llms"].([]interface{})
	if !ok {
		return LLMConfig{}, fmt.Errorf("config: llm.yaml missing 'llms' array")
	}

	for _, item := range rawList {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		cfg := LLMConfig{}
		if s, ok := entry["provider"].(string); ok {
			cfg.Provider = resolveEnvVars(s)
		}
		if s, ok := entry["model"].(string); ok {
			cfg.Model = resolveEnvVars(s)
		}
		if s, ok := entry["api_key"].(string); ok {
			cfg.APIKey = resolveEnvVars(s)
		}
		if s, ok := entry["endpoint"].(string); ok {
			cfg.Endpoint = resolveEnvVars(s)
		}
		if f, ok := entry["temperature"].(float64); ok {
			cfg.Temperature = f
		}
		if n, ok := entry["max_tokens"].(int); ok {
			cfg.MaxTokens = n
		}
		if cfg.Provider == provider {
			return cfg, nil
		}
	}

	return LLMConfig{}, fmt.Errorf("config: llm provider %q not found in llm.yaml", provider)
}

// LoadConfig loads both configuration files and the .env file, returning a
// fully assembled Config for the given LLM provider selection.
func LoadConfig(provider string) (*Config, error) {
	if err := LoadEnvFromDotEnvRecursive("."); err != nil {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	run, err := LoadRunConfig()
	if err != nil {
		return nil, err
	}
	llmCfg, err := LoadLLMConfig(provider)
	if err != nil {
		return nil, err
	}

	v := newConfigViper("concofuzz")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading concofuzz.yaml: %w", err)
	}
	applyEnvResolution(v)
	prefix := ""
	if v.IsSet("config") {
		prefix = "config."
	}

	return &Config{LLM: llmCfg, Run: run, LogLevel: v.GetString(prefix + "log_level"), LogDir: v.GetString(prefix + "log_dir")}, nil
}
