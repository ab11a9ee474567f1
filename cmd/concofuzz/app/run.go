package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/concolic-fuzz/internal/config"
	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/logger"
	"github.com/zjy-dev/concolic-fuzz/internal/orchestrator"
	"github.com/zjy-dev/concolic-fuzz/internal/pyexec"
	"github.com/zjy-dev/concolic-fuzz/internal/smt"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// NewRunCommand creates the "run" subcommand, which drives the main
// SELECT->SUMMARIZE->SOLVE->EXECUTE->...->FINISHED loop until MaxIterations
// completes or the process is interrupted.
func NewRunCommand() *cobra.Command {
	var (
		provider string
		output   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the main concolic fuzzing loop.",
		Long: `Start the main concolic fuzzing loop against the target seeded into
the output directory's queue.

This command:
  1. Schedules an uncovered-leaning test case from the corpus
  2. Summarizes it into candidate target branches
  3. Solves each branch's path constraint into Python source
  4. Executes the result and classifies crash/hang/new-coverage
  5. Reviews non-valuable executions once before giving up on a branch

The engine resumes automatically from an existing corpus and coverage
snapshot under the output directory.

Configuration:
  Default values are loaded from configs/concofuzz.yaml and configs/llm.yaml.
  Command line flags override the config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(provider)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if cmd.Flags().Changed("output") {
				cfg.Run.OutputDir = output
			}
			if cmd.Flags().Changed("limit") {
				cfg.Run.MaxIterations = limit
			}

			return runEngine(cfg)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "anthropic", "LLM provider to use (must match an entry in llm.yaml)")
	cmd.Flags().StringVar(&output, "output", "", "Output directory for the corpus and coverage registry (overrides config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max number of SELECT->...->FINISHED iterations (0 = unlimited, overrides config)")

	return cmd
}

func runEngine(cfg *config.Config) error {
	logLevel := cfg.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(logLevel, cfg.LogDir); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	} else {
		logger.Init(logLevel)
	}
	defer logger.Close()

	logger.Info("provider: %s / model: %s", cfg.LLM.Provider, cfg.LLM.Model)
	logger.Info("output directory: %s", cfg.Run.OutputDir)

	manager := testcase.NewManager(cfg.Run.OutputDir)
	registry := coverage.New()
	if path := cfg.Run.OutputDir + "/coverage.bin"; fileExists(path) {
		if err := registry.Load(path); err != nil {
			logger.Warn("could not load coverage snapshot %s: %v", path, err)
		}
	}

	runner := pyexec.NewSubprocessRunner()
	solver := smt.NewSolver()

	client, err := orchestrator.NewToolCallingClient(cfg.LLM)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	eng := orchestrator.New(cfg.Run, manager, registry, runner, client, solver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, finishing current iteration and checkpointing")
		cancel()
	}()

	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
