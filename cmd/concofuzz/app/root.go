package app

import (
	"github.com/spf13/cobra"
)

// NewConcofuzzCommand creates the root command for the concofuzz tool.
func NewConcofuzzCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "concofuzz",
		Short: "An LLM-driven concolic execution engine for Python targets.",
		Long: `concofuzz drives a coverage-guided fuzzing loop over a Python target
program whose mutator is a tool-calling LLM, guided by an SMT-style solver
over symbolic path constraints.`,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewReplayCommand())
	cmd.AddCommand(NewSeedCommand())
	cmd.AddCommand(NewInspectCommand())

	return cmd
}
