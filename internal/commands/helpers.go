// Package commands implements the CLI subcommands for the verdict binary.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dwsmith1983/verdict/internal/alert"
	"github.com/dwsmith1983/verdict/internal/config"
	"github.com/dwsmith1983/verdict/internal/engine"
	"github.com/dwsmith1983/verdict/internal/lifecycle"
	"github.com/dwsmith1983/verdict/internal/llm"
	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/internal/provider"
	ddbprov "github.com/dwsmith1983/verdict/internal/provider/dynamodb"
	"github.com/dwsmith1983/verdict/internal/provider/memory"
	pgstore "github.com/dwsmith1983/verdict/internal/provider/postgres"
	"github.com/dwsmith1983/verdict/internal/provider/redis"
	"github.com/dwsmith1983/verdict/internal/telemetry"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// newClient builds the LLM client for an engine. Tests replace it.
var newClient = func(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (engine.Client, error) {
	if err := config.ResolveSecrets(ctx, cfg); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	var lc types.LLMConfig
	if cfg.LLM != nil {
		lc = *cfg.LLM
	}
	c, err := llm.New(lc, llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	return c, nil
}

// ErrEphemeralProvider is returned when a one-shot command is pointed at the
// memory provider, whose runs would be lost when the process exits.
var ErrEphemeralProvider = errors.New("the memory provider does not persist between commands; configure redis, dynamodb or postgres in " + config.FileName + ", or use verdict serve")

// openProvider builds the storage provider for loadApp. Tests replace it.
var openProvider = newProvider

// newProvider creates the configured storage provider.
func newProvider(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderMemory:
		return memory.New(), nil
	case config.ProviderRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis config is required when provider is redis")
		}
		return redis.New(cfg.Redis, redis.WithLogger(logger))
	case config.ProviderDynamoDB:
		if cfg.DynamoDB == nil {
			return nil, fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		return ddbprov.New(cfg.DynamoDB, ddbprov.WithLogger(logger))
	case config.ProviderPostgres:
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres config is required when provider is postgres")
		}
		pg, err := pgstore.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("migrating Postgres: %w", err)
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// newRegistry builds the persona registry from the personas section. A
// relative persona file is resolved against the project directory.
func newRegistry(dir string, cfg *types.ProjectConfig, logger *slog.Logger) (*persona.Registry, error) {
	opts := []persona.Option{persona.WithLogger(logger)}
	pc := cfg.Personas
	if pc == nil {
		return persona.Default(opts...)
	}
	if pc.UnknownPolicy != "" {
		opts = append(opts, persona.WithUnknownPolicy(pc.UnknownPolicy))
	}
	if pc.File == "" {
		return persona.Default(opts...)
	}
	path := pc.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return persona.LoadFile(path, opts...)
}

// app is the wiring shared by every subcommand that touches storage.
type app struct {
	dir      string
	cfg      *types.ProjectConfig
	logger   *slog.Logger
	prov     provider.Provider
	manager  *lifecycle.Manager
	shutdown []func(context.Context) error
}

// loadApp reads verdict.yaml from dir and connects the configured provider.
// Only a long-running process (serve) may use the memory provider.
func loadApp(ctx context.Context, dir string, longRunning bool) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Provider == config.ProviderMemory && !longRunning {
		return nil, ErrEphemeralProvider
	}

	logger, closeLog := config.LoggerFor(cfg.Logging)
	a := &app{dir: dir, cfg: cfg, logger: logger}
	a.shutdown = append(a.shutdown, func(context.Context) error { return closeLog() })

	stopTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	a.shutdown = append(a.shutdown, stopTelemetry)

	reg, err := newRegistry(dir, cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("loading personas: %w", err)
	}

	prov, err := openProvider(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating provider: %w", err)
	}
	if err := prov.Start(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("connecting to provider: %w", err)
	}
	a.prov = prov
	a.shutdown = append(a.shutdown, prov.Stop)

	schema, promptSet := types.SchemaVersion, llm.PromptSetVersion
	if ec := cfg.Engine; ec != nil {
		if ec.SchemaVersion != "" {
			schema = ec.SchemaVersion
		}
		if ec.PromptSetVersion != "" {
			promptSet = ec.PromptSetVersion
		}
	}
	a.manager = lifecycle.NewManager(prov, reg,
		lifecycle.WithLogger(logger),
		lifecycle.WithVersions(schema, promptSet),
	)
	return a, nil
}

// engine builds the orchestrator with the configured LLM client and alert sinks.
func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	ecfg, err := engine.ConfigFrom(a.cfg.Engine)
	if err != nil {
		return nil, err
	}
	if a.cfg.LLM != nil && a.cfg.LLM.Temperature > 0 {
		ecfg.Temperature = a.cfg.LLM.Temperature
	}

	client, err := newClient(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := alert.NewDispatcher(a.cfg.Alerts, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating alert dispatcher: %w", err)
	}

	return engine.New(a.manager, client,
		engine.WithConfig(ecfg),
		engine.WithLogger(a.logger),
		engine.WithAlertFunc(dispatcher.AlertFunc()),
	), nil
}

// close runs shutdown hooks in reverse order.
func (a *app) close() {
	ctx := context.Background()
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			a.logger.Warn("shutdown hook failed", "error", err)
		}
	}
	a.shutdown = nil
}

func addDirFlag(cmd *cobra.Command, dir *string) {
	cmd.Flags().StringVar(dir, "dir", ".", "Project directory containing "+config.FileName)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
