package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/pkg/types"
)

type evaluateOptions struct {
	dir         string
	context     map[string]string
	model       string
	temperature float64
	jsonOut     bool
}

// NewEvaluateCmd creates the evaluate command.
func NewEvaluateCmd() *cobra.Command {
	var opts evaluateOptions

	cmd := &cobra.Command{
		Use:   "evaluate [idea]",
		Short: "Expand an idea into a proposal and evaluate it with every persona",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := types.EvaluateRequest{Idea: strings.Join(args, " "), Model: opts.model}
			if len(opts.context) > 0 {
				req.Context = make(map[string]any, len(opts.context))
				for k, v := range opts.context {
					req.Context[k] = v
				}
			}
			if cmd.Flags().Changed("temperature") {
				t := opts.temperature
				req.Temperature = &t
			}
			return runEvaluate(cmd.Context(), cmd.OutOrStdout(), opts, req)
		},
	}

	addDirFlag(cmd, &opts.dir)
	cmd.Flags().StringToStringVar(&opts.context, "context", nil, "Extra context as key=value pairs")
	cmd.Flags().StringVar(&opts.model, "model", "", "Override the configured model name recorded on the run")
	cmd.Flags().Float64Var(&opts.temperature, "temperature", 0, "Expansion temperature in [0, 1]")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the run bundle as JSON")
	return cmd
}

func runEvaluate(ctx context.Context, out io.Writer, opts evaluateOptions, req types.EvaluateRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 1) {
		return fmt.Errorf("temperature must be within [0, 1]")
	}

	a, err := loadApp(ctx, opts.dir, false)
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := a.engine(ctx)
	if err != nil {
		return err
	}

	bundle, err := eng.Evaluate(ctx, req)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if opts.jsonOut {
		return writeJSON(out, bundle)
	}
	printBundle(out, bundle)
	return nil
}
