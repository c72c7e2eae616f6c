package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "verdict",
		Short: "Weighted multi-persona evaluation of product ideas",
		Long: `Verdict expands an idea into a structured proposal, has a panel of personas
review it in parallel and aggregates their confidence into an approve, revise
or reject decision. Completed runs can be revised; only personas that scored
the parent below the revise threshold are asked again.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewEvaluateCmd(),
		commands.NewReviseCmd(),
		commands.NewDiffCmd(),
		commands.NewStatusCmd(),
		commands.NewPersonasCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
