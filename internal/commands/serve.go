package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/internal/server"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Verdict HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dir)
		},
	}
	addDirFlag(cmd, &dir)
	return cmd
}

func runServe(dir string) error {
	ctx := context.Background()
	a, err := loadApp(ctx, dir, true)
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := a.engine(ctx)
	if err != nil {
		return err
	}

	addr := ":3000"
	var opts []server.Option
	if sc := a.cfg.Server; sc != nil {
		if sc.Addr != "" {
			addr = sc.Addr
		}
		opts = append(opts, server.WithAPIKey(sc.APIKey), server.WithMaxRequestBody(sc.MaxRequestBody))
	}
	opts = append(opts, server.WithLogger(a.logger))
	srv := server.New(addr, eng, opts...)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		color.Green("Server stopped gracefully")
		return nil
	}
}
