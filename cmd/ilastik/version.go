package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/FynnBe/ilastik/internal/workflow"
)

func versionString() string {
	return fmt.Sprintf("ilastik %s (commit: %s, built: %s)", Version, Commit, BuildTime)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No configuration or logging needed.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	}
}

func newWorkflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "workflows [name]",
		Short:              "List builtin workflows or show one of them",
		Args:               cobra.MaximumNArgs(1),
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintln(out, strings.Join(workflow.BuiltinNames(), "\n"))
				return nil
			}
			spec, err := workflow.Builtin(args[0])
			if err != nil {
				return err
			}
			for i, a := range spec.Applets {
				fmt.Fprintf(out, "%d %s (%s)\n", i, a.Name, a.Type)
			}
			for _, c := range spec.Connections {
				fmt.Fprintf(out, "  %s -> %s\n", c.From, c.To)
			}
			return nil
		},
	}
}
