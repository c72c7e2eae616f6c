package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/internal/diff"
)

type diffOptions struct {
	dir     string
	jsonOut bool
}

// NewDiffCmd creates the diff command.
func NewDiffCmd() *cobra.Command {
	var opts diffOptions

	cmd := &cobra.Command{
		Use:   "diff [run-a] [run-b]",
		Short: "Compare two runs' proposals, persona reviews and decisions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.Context(), cmd.OutOrStdout(), opts, args[0], args[1])
		},
	}

	addDirFlag(cmd, &opts.dir)
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the diff as JSON")
	return cmd
}

func runDiff(ctx context.Context, out io.Writer, opts diffOptions, runA, runB string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx, opts.dir, false)
	if err != nil {
		return err
	}
	defer a.close()

	ba, err := a.manager.Bundle(ctx, runA)
	if err != nil {
		return err
	}
	bb, err := a.manager.Bundle(ctx, runB)
	if err != nil {
		return err
	}

	d, err := diff.ComputeRunDiff(ba, bb)
	if err != nil {
		return fmt.Errorf("computing diff: %w", err)
	}

	if opts.jsonOut {
		return writeJSON(out, d)
	}
	printDiff(out, d)
	return nil
}
