package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/dwsmith1983/verdict/internal/alert"
	"github.com/dwsmith1983/verdict/internal/config"
	"github.com/dwsmith1983/verdict/internal/engine"
	"github.com/dwsmith1983/verdict/internal/lifecycle"
	"github.com/dwsmith1983/verdict/internal/llm"
	"github.com/dwsmith1983/verdict/internal/metrics"
	"github.com/dwsmith1983/verdict/internal/persona"
	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/internal/provider/dynamodb"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	Provider provider.Provider
	Engine   *engine.Engine
	Logger   *slog.Logger
}

// Init creates shared dependencies from environment variables.
// Reads: TABLE_NAME, AWS_REGION, LLM_BACKEND, LLM_MODEL, LLM_API_KEY,
// LLM_API_KEY_SECRET_ARN, LLM_BASE_URL, PERSONA_UNKNOWN_POLICY,
// STEP_TIMEOUT, MAX_RETRIES, EVENT_BUS_NAME, LOG_LEVEL
func Init(ctx context.Context) (*Deps, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(os.Getenv("LOG_LEVEL")),
	}))

	tableName := os.Getenv("TABLE_NAME")
	region := os.Getenv("AWS_REGION")
	if tableName == "" {
		return nil, fmt.Errorf("TABLE_NAME environment variable required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS_REGION environment variable required")
	}

	cfg := projectConfigFromEnv(tableName, region)

	ecfg, err := engine.ConfigFrom(cfg.Engine)
	if err != nil {
		return nil, err
	}

	prov, err := dynamodb.New(cfg.DynamoDB, dynamodb.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating DynamoDB provider: %w", err)
	}

	if err := config.ResolveSecrets(ctx, cfg); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	client, err := llm.New(*cfg.LLM, llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}

	reg, err := persona.Default(
		persona.WithLogger(logger),
		persona.WithUnknownPolicy(cfg.Personas.UnknownPolicy),
	)
	if err != nil {
		return nil, fmt.Errorf("loading personas: %w", err)
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return nil, fmt.Errorf("creating alert dispatcher: %w", err)
	}

	if err := metrics.Init(); err != nil {
		logger.Warn("metrics init failed", "error", err)
	}

	mgr := lifecycle.NewManager(prov, reg,
		lifecycle.WithLogger(logger),
		lifecycle.WithVersions(types.SchemaVersion, llm.PromptSetVersion),
	)
	eng := engine.New(mgr, client,
		engine.WithConfig(ecfg),
		engine.WithLogger(logger),
		engine.WithAlertFunc(dispatcher.AlertFunc()),
	)

	return &Deps{
		Provider: prov,
		Engine:   eng,
		Logger:   logger,
	}, nil
}

// projectConfigFromEnv maps the Lambda environment onto a project config.
func projectConfigFromEnv(tableName, region string) *types.ProjectConfig {
	cfg := &types.ProjectConfig{
		Provider: config.ProviderDynamoDB,
		DynamoDB: &types.DynamoDBConfig{TableName: tableName, Region: region},
		LLM: &types.LLMConfig{
			Backend:         envOrDefault("LLM_BACKEND", llm.BackendOpenAI),
			Model:           envOrDefault("LLM_MODEL", "gpt-4o-mini"),
			APIKey:          os.Getenv("LLM_API_KEY"),
			APIKeySecretARN: os.Getenv("LLM_API_KEY_SECRET_ARN"),
			BaseURL:         os.Getenv("LLM_BASE_URL"),
		},
		Personas: &types.PersonasConfig{
			UnknownPolicy: types.UnknownPersonaPolicy(envOrDefault("PERSONA_UNKNOWN_POLICY", string(types.PolicyIgnore))),
		},
		Engine: &types.EngineConfig{
			StepTimeout: os.Getenv("STEP_TIMEOUT"),
		},
	}
	if n, err := strconv.Atoi(os.Getenv("MAX_RETRIES")); err == nil && n >= 0 {
		cfg.Engine.MaxRetries = n
	}
	if bus := os.Getenv("EVENT_BUS_NAME"); bus != "" {
		cfg.Alerts = append(cfg.Alerts, types.AlertConfig{
			Type:         types.AlertEventBridge,
			EventBusName: bus,
			Source:       envOrDefault("EVENT_SOURCE", "verdict"),
		})
	}
	return cfg
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
