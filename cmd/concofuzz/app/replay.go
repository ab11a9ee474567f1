package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/concolic-fuzz/internal/config"
	"github.com/zjy-dev/concolic-fuzz/internal/coveragescript"
	"github.com/zjy-dev/concolic-fuzz/internal/logger"
	"github.com/zjy-dev/concolic-fuzz/internal/pyexec"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// NewReplayCommand creates the "replay" subcommand: re-executes a persisted
// test case's exec_code and, if a coverage script is configured, reports the
// external coverage-script contract's CSV stats for the case's target lines.
func NewReplayCommand() *cobra.Command {
	var (
		output         string
		coverageScript string
		timeout        int
	)

	cmd := &cobra.Command{
		Use:   "replay <case-id>",
		Short: "Re-execute a persisted test case's exec_code.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRunConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("output") {
				cfg.OutputDir = output
			}
			logger.Init("info")

			var id uint64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid case id %q: %w", args[0], err)
			}

			manager := testcase.NewManager(cfg.OutputDir)
			if err := manager.Initialize(); err != nil {
				return fmt.Errorf("initialize corpus: %w", err)
			}
			if err := manager.Recover(); err != nil {
				return fmt.Errorf("recover corpus: %w", err)
			}

			tc, ok := manager.Get(id)
			if !ok {
				return fmt.Errorf("no test case with id %d", id)
			}

			runner := pyexec.NewSubprocessRunner()
			to := time.Duration(cfg.TargetTimeoutSeconds) * time.Second
			if timeout > 0 {
				to = time.Duration(timeout) * time.Second
			}

			res, err := runner.RunHarness(context.Background(), tc.ExecCode, to)
			if err != nil {
				return fmt.Errorf("replay exec_code: %w", err)
			}

			logger.Info("replay case %d: exit=%d timed_out=%v", tc.ID, res.ExitCode, res.TimedOut)
			fmt.Println(res.Stdout)
			if res.Stderr != "" {
				fmt.Println("stderr:", res.Stderr)
			}

			if coverageScript != "" && !tc.TargetFileLines.Empty() {
				stats, err := coveragescript.Run(context.Background(), coverageScript, to, tc.TargetFileLines.File, tc.TargetFileLines.Start, tc.TargetLinesContent)
				if err != nil {
					return fmt.Errorf("coverage script: %w", err)
				}
				fmt.Printf("line_pct=%.2f line_abs=%s branch_pct=%.2f branch_abs=%s line_hits=%d\n",
					stats.LinePercent, stats.LineAbsolute, stats.BranchPercent, stats.BranchAbsolute, stats.LineHits)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Corpus output directory (overrides config)")
	cmd.Flags().StringVar(&coverageScript, "coverage-script", "", "External coverage script for the replay contract")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Execution timeout in seconds (overrides config default)")

	return cmd
}
