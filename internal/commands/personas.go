package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/internal/config"
)

// NewPersonasCmd creates the personas command.
func NewPersonasCmd() *cobra.Command {
	var (
		dir     string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "personas",
		Short: "List the configured review personas and their weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPersonas(cmd.OutOrStdout(), dir, jsonOut)
		},
	}

	addDirFlag(cmd, &dir)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

func runPersonas(out io.Writer, dir string, jsonOut bool) error {
	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, closeLog := config.LoggerFor(cfg.Logging)
	defer func() { _ = closeLog() }()

	reg, err := newRegistry(dir, cfg, logger)
	if err != nil {
		return fmt.Errorf("loading personas: %w", err)
	}
	if jsonOut {
		return writeJSON(out, reg.List())
	}
	printPersonas(out, reg)
	return nil
}
