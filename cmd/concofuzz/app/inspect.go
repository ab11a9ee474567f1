package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/concolic-fuzz/internal/config"
	"github.com/zjy-dev/concolic-fuzz/internal/coverage"
	"github.com/zjy-dev/concolic-fuzz/internal/testcase"
)

// NewInspectCommand creates the "inspect" subcommand: prints a test case or
// the coverage registry's annotated summary for a file.
func NewInspectCommand() *cobra.Command {
	var (
		output string
		file   string
		caseID uint64
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a test case or a file's coverage summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadRunConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("output") {
				cfg.OutputDir = output
			}

			if cmd.Flags().Changed("case") {
				manager := testcase.NewManager(cfg.OutputDir)
				if err := manager.Initialize(); err != nil {
					return fmt.Errorf("initialize corpus: %w", err)
				}
				if err := manager.Recover(); err != nil {
					return fmt.Errorf("recover corpus: %w", err)
				}
				tc, ok := manager.Get(caseID)
				if !ok {
					return fmt.Errorf("no test case with id %d", caseID)
				}
				printCase(tc)
				return nil
			}

			if file == "" {
				return fmt.Errorf("either --case or --file must be given")
			}

			registry := coverage.New()
			coverageSnapshot := cfg.OutputDir + "/coverage.bin"
			if fileExists(coverageSnapshot) {
				if err := registry.Load(coverageSnapshot); err != nil {
					return fmt.Errorf("load coverage snapshot: %w", err)
				}
			}
			collector, err := registry.Get(file)
			if err != nil {
				return fmt.Errorf("no coverage recorded for %s: %w", file, err)
			}
			fmt.Println(collector.Summary())
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Corpus output directory (overrides config)")
	cmd.Flags().StringVar(&file, "file", "", "Instrumented source file to print coverage for")
	cmd.Flags().Uint64Var(&caseID, "case", 0, "Test case id to print")

	return cmd
}

func printCase(tc *testcase.TestCase) {
	fmt.Printf("case %d (src=%v)\n", tc.ID, tc.SrcID)
	fmt.Printf("  states: %v\n", tc.States)
	fmt.Printf("  target_branch: %s\n", tc.TargetBranch)
	fmt.Printf("  path_constraint: %s\n", tc.TargetPathConstraint)
	fmt.Printf("  satisfiable=%v crash=%v hang=%v target_covered=%v new_coverage=%v\n",
		tc.IsSatisfiable, tc.IsCrash, tc.IsHang, tc.IsTargetCovered, tc.NewCoverage)
	fmt.Printf("  usage: %+v\n", tc.CostSummary())
}
