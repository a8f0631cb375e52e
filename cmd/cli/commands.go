package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vk/actiongraph/internal/engine"
	"github.com/vk/actiongraph/internal/executor"
)

// newValidateCmd resolves the whole configuration and prints each action's
// version without executing anything.
func newValidateCmd(outW io.Writer, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Resolve templates, build the graph and compute versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, err := setupEngine(cmd.Context(), flags)
			if err != nil {
				return err
			}
			for _, st := range eng.Status() {
				fmt.Fprintf(outW, "%-40s %s\n", st.Ref, st.Version)
			}
			for _, spec := range eng.DisabledActions() {
				fmt.Fprintf(outW, "%-40s (disabled)\n", spec.Ref())
			}
			fmt.Fprintln(outW, "OK")
			return nil
		},
	}
}

// newGraphCmd prints the resolved dependency graph.
func newGraphCmd(outW io.Writer, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the resolved dependency graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, err := setupEngine(cmd.Context(), flags)
			if err != nil {
				return err
			}
			g := eng.Graph()
			fmt.Fprintf(outW, "nodes (%d):\n", g.Len())
			for _, n := range g.Nodes() {
				fmt.Fprintf(outW, "  %s  version=%s\n", n.ID(), n.Version)
			}
			edges := g.Edges()
			fmt.Fprintf(outW, "edges (%d):\n", len(edges))
			for _, edge := range edges {
				fmt.Fprintf(outW, "  %s -> %s\n", edge.Dependency, edge.Dependent)
			}
			return nil
		},
	}
}

// newRunCmd executes the graph.
func newRunCmd(outW io.Writer, flags *rootFlags) *cobra.Command {
	var force bool
	var continueOnError bool
	var workers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the action graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			ctx, eng, err := setupEngine(ctx, flags)
			if err != nil {
				return err
			}

			result, runErr := eng.Run(ctx, engine.RunOptions{
				Force:           force,
				ContinueOnError: continueOnError,
				Workers:         workers,
			})
			if result != nil {
				printRunResult(outW, result)
			}
			if runErr != nil {
				return runErr
			}
			if result != nil && !result.OK {
				return fmt.Errorf("run finished with failed actions")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-run actions even on a cache hit")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "attempt dependents of failed actions instead of skipping them")
	cmd.Flags().IntVar(&workers, "workers", executor.DefaultWorkers, "maximum concurrent actions")
	return cmd
}

func printRunResult(outW io.Writer, result *engine.RunResult) {
	for _, st := range result.Nodes {
		line := fmt.Sprintf("%-40s %-10s %s", st.Ref, st.State, st.Version)
		if st.Result != nil && st.Result.Cached {
			line += "  (cached)"
		}
		if st.Error != "" {
			line += "  error: " + st.Error
		}
		fmt.Fprintln(outW, line)
	}
	if result.OK {
		fmt.Fprintln(outW, "run succeeded")
	} else {
		fmt.Fprintln(outW, "run failed")
	}
}
