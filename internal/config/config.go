// Package config handles loading and validation of verdict.yaml project configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// FileName is the project configuration file looked up by Load.
const FileName = "verdict.yaml"

// Supported storage providers.
const (
	ProviderMemory   = "memory"
	ProviderRedis    = "redis"
	ProviderDynamoDB = "dynamodb"
	ProviderPostgres = "postgres"
)

// Load reads and parses verdict.yaml from the given directory, applies
// VERDICT_* environment overrides and validates the result.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// applyEnv overlays environment variables onto cfg. Unset variables leave
// the file value in place.
func applyEnv(cfg *types.ProjectConfig) {
	cfg.Provider = getEnv("VERDICT_PROVIDER", cfg.Provider)

	if v := os.Getenv("VERDICT_REDIS_ADDR"); v != "" {
		if cfg.Redis == nil {
			cfg.Redis = &types.RedisConfig{}
		}
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("VERDICT_DYNAMODB_TABLE"); v != "" {
		if cfg.DynamoDB == nil {
			cfg.DynamoDB = &types.DynamoDBConfig{}
		}
		cfg.DynamoDB.TableName = v
	}
	if v := os.Getenv("VERDICT_POSTGRES_DSN"); v != "" {
		if cfg.Postgres == nil {
			cfg.Postgres = &types.PostgresConfig{}
		}
		cfg.Postgres.DSN = v
	}

	if cfg.LLM == nil {
		cfg.LLM = &types.LLMConfig{}
	}
	cfg.LLM.Backend = getEnv("VERDICT_LLM_BACKEND", cfg.LLM.Backend)
	cfg.LLM.Model = getEnv("VERDICT_LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.APIKey = getEnv("VERDICT_LLM_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.BaseURL = getEnv("VERDICT_LLM_BASE_URL", cfg.LLM.BaseURL)
	if v := os.Getenv("VERDICT_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		} else {
			slog.Warn("ignoring invalid VERDICT_LLM_TEMPERATURE", "value", v)
		}
	}

	if v := os.Getenv("VERDICT_SERVER_ADDR"); v != "" {
		if cfg.Server == nil {
			cfg.Server = &types.ServerConfig{}
		}
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VERDICT_API_KEY"); v != "" {
		if cfg.Server == nil {
			cfg.Server = &types.ServerConfig{}
		}
		cfg.Server.APIKey = v
	}

	if v := os.Getenv("VERDICT_LOG_LEVEL"); v != "" {
		if cfg.Logging == nil {
			cfg.Logging = &types.LoggingConfig{}
		}
		cfg.Logging.Level = v
	}
}

func validate(cfg *types.ProjectConfig) error {
	switch cfg.Provider {
	case "":
		return fmt.Errorf("provider is required")
	case ProviderMemory:
	case ProviderRedis:
		if cfg.Redis == nil || cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when provider is redis")
		}
		if cfg.Redis.RetentionTTL != "" {
			if _, err := time.ParseDuration(cfg.Redis.RetentionTTL); err != nil {
				return fmt.Errorf("redis.retentionTtl: %w", err)
			}
		}
	case ProviderDynamoDB:
		if cfg.DynamoDB == nil || cfg.DynamoDB.TableName == "" {
			return fmt.Errorf("dynamodb.tableName is required when provider is dynamodb")
		}
	case ProviderPostgres:
		if cfg.Postgres == nil || cfg.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when provider is postgres")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	if cfg.LLM != nil {
		switch cfg.LLM.Backend {
		case "", "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("unsupported llm.backend: %s", cfg.LLM.Backend)
		}
		if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 1 {
			return fmt.Errorf("llm.temperature must be within [0, 1], got %v", cfg.LLM.Temperature)
		}
	}

	if cfg.Personas != nil {
		switch cfg.Personas.UnknownPolicy {
		case "", types.PolicyIgnore, types.PolicyReject:
		default:
			return fmt.Errorf("unsupported personas.unknownPolicy: %s", cfg.Personas.UnknownPolicy)
		}
	}

	if cfg.Engine != nil {
		if cfg.Engine.StepTimeout != "" {
			if _, err := time.ParseDuration(cfg.Engine.StepTimeout); err != nil {
				return fmt.Errorf("engine.stepTimeout: %w", err)
			}
		}
		if cfg.Engine.MaxRetries < 0 {
			return fmt.Errorf("engine.maxRetries must not be negative")
		}
	}

	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: url is required for webhook alerts", i)
			}
		case types.AlertEventBridge:
			if a.EventBusName == "" {
				return fmt.Errorf("alerts[%d]: eventBusName is required for eventbridge alerts", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown alert type %q", i, a.Type)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
