package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/pkg/types"
)

type reviseOptions struct {
	dir          string
	notes        string
	proposalFile string
	jsonOut      bool
}

// NewReviseCmd creates the revise command.
func NewReviseCmd() *cobra.Command {
	var opts reviseOptions

	cmd := &cobra.Command{
		Use:   "revise [parent-run-id]",
		Short: "Create a revision of a completed run",
		Long: `Branches a new run from a completed parent. Personas that scored the parent
below the revise threshold are asked again; the other reviews are carried over.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevise(cmd.Context(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	addDirFlag(cmd, &opts.dir)
	cmd.Flags().StringVar(&opts.notes, "notes", "", "Revision notes for the proposal author")
	cmd.Flags().StringVar(&opts.proposalFile, "proposal", "", "Path to an edited proposal JSON document")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the run bundle as JSON")
	return cmd
}

func runRevise(ctx context.Context, out io.Writer, opts reviseOptions, parentID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	edits := types.RevisionEdits{UserNotes: opts.notes}
	if opts.proposalFile != "" {
		doc, err := readProposal(opts.proposalFile)
		if err != nil {
			return err
		}
		edits.EditedProposal = doc
	}
	if edits.Empty() {
		return fmt.Errorf("--notes or --proposal is required")
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

	bundle, err := eng.Revise(ctx, parentID, edits)
	if err != nil {
		return fmt.Errorf("revision failed: %w", err)
	}

	if opts.jsonOut {
		return writeJSON(out, bundle)
	}
	printBundle(out, bundle)
	return nil
}

func readProposal(path string) (*types.ProposalDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading proposal: %w", err)
	}
	var doc types.ProposalDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing proposal %s: %w", path, err)
	}
	return &doc, nil
}
