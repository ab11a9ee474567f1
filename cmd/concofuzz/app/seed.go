package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/concolic-fuzz/internal/config"
	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/orchestrator"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// NewSeedCommand creates the "seed" subcommand: ingests an externally
// supplied exec_code/execution_trace pair as an initial, parentless test
// case.
func NewSeedCommand() *cobra.Command {
	var (
		output     string
		sourceFile string
		sourcePath string
		execFile   string
		traceFile  string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Ingest an exec_code/execution_trace pair as an initial test case.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRunConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("output") {
				cfg.OutputDir = output
			}

			execCode, err := os.ReadFile(execFile)
			if err != nil {
				return fmt.Errorf("read exec-code file: %w", err)
			}
			trace, err := os.ReadFile(traceFile)
			if err != nil {
				return fmt.Errorf("read trace file: %w", err)
			}
			var source []byte
			if sourcePath != "" {
				source, err = os.ReadFile(sourcePath)
				if err != nil {
					return fmt.Errorf("read source file: %w", err)
				}
			}

			manager := testcase.NewManager(cfg.OutputDir)
			if err := manager.Initialize(); err != nil {
				return fmt.Errorf("initialize corpus: %w", err)
			}
			if err := manager.Recover(); err != nil {
				return fmt.Errorf("recover corpus: %w", err)
			}

			registry := coverage.New()
			coverageSnapshot := cfg.OutputDir + "/coverage.bin"
			if fileExists(coverageSnapshot) {
				if err := registry.Load(coverageSnapshot); err != nil {
					return fmt.Errorf("load coverage snapshot: %w", err)
				}
			}

			o := &orchestrator.Orchestrator{Manager: manager, Registry: registry}
			tc, err := o.IngestSeed(sourceFile, string(source), string(execCode), string(trace))
			if err != nil {
				return err
			}

			if err := registry.Save(coverageSnapshot, false); err != nil {
				return fmt.Errorf("save coverage snapshot: %w", err)
			}

			fmt.Printf("seeded case %d (new_coverage=%v, newly_covered_lines=%d)\n", tc.ID, tc.NewCoverage, tc.NewlyCoveredLines)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Corpus output directory (overrides config)")
	cmd.Flags().StringVar(&sourceFile, "file", "", "Instrumented source file path, as recorded in the coverage registry")
	cmd.Flags().StringVar(&sourcePath, "source", "", "Path to the instrumented source on disk, read if --file is not already registered")
	cmd.Flags().StringVar(&execFile, "exec-code", "", "Path to a file containing the seed's exec_code")
	cmd.Flags().StringVar(&traceFile, "trace", "", "Path to a file containing the seed's execution_trace")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("exec-code")
	_ = cmd.MarkFlagRequired("trace")

	return cmd
}
