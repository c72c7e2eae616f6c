package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/pkg/types"
)

type statusOptions struct {
	dir     string
	status  string
	limit   int
	events  int
	jsonOut bool
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show recent runs, or one run with its revisions and events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) > 0 {
				runID = args[0]
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), opts, runID)
		},
	}

	addDirFlag(cmd, &opts.dir)
	cmd.Flags().StringVar(&opts.status, "status", "", "Only list runs with this status (RUNNING, COMPLETED, FAILED)")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().IntVar(&opts.events, "events", 20, "Number of recent events to show for a run")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print as JSON")
	return cmd
}

func runStatus(ctx context.Context, out io.Writer, opts statusOptions, runID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := loadApp(ctx, opts.dir, false)
	if err != nil {
		return err
	}
	defer a.close()

	if runID != "" {
		return showRun(ctx, out, a, opts, runID)
	}

	status := types.RunStatus(opts.status)
	switch status {
	case "", types.RunRunning, types.RunCompleted, types.RunFailed:
	default:
		return fmt.Errorf("unknown status: %s", opts.status)
	}
	runs, err := a.manager.List(ctx, types.ListOptions{Status: status, Limit: opts.limit})
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if opts.jsonOut {
		if runs == nil {
			runs = []types.Run{}
		}
		return writeJSON(out, runs)
	}
	printRuns(out, runs)
	return nil
}

func showRun(ctx context.Context, out io.Writer, a *app, opts statusOptions, runID string) error {
	bundle, err := a.manager.Bundle(ctx, runID)
	if err != nil {
		return err
	}
	children, err := a.manager.Children(ctx, runID)
	if err != nil {
		return fmt.Errorf("listing revisions: %w", err)
	}
	events, err := a.manager.Events(ctx, runID, opts.events)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}

	if opts.jsonOut {
		return writeJSON(out, struct {
			*types.RunBundle
			Children []types.Run   `json:"children"`
			Events   []types.Event `json:"events"`
		}{bundle, children, events})
	}

	printBundle(out, bundle)
	if len(children) > 0 {
		_, _ = color.New(color.Bold).Fprintln(out, "  Revisions:")
		for _, c := range children {
			fmt.Fprintf(out, "    %s  %s\n", c.ID, statusString(c.Status))
		}
		fmt.Fprintln(out)
	}
	printEvents(out, events)
	return nil
}
