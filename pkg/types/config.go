package types

// ProjectConfig represents the top-level verdict.yaml configuration.
type ProjectConfig struct {
	Provider  string           `yaml:"provider"`
	Redis     *RedisConfig     `yaml:"redis,omitempty"`
	DynamoDB  *DynamoDBConfig  `yaml:"dynamodb,omitempty"`
	Postgres  *PostgresConfig  `yaml:"postgres,omitempty"`
	LLM       *LLMConfig       `yaml:"llm,omitempty"`
	Personas  *PersonasConfig  `yaml:"personas,omitempty"`
	Engine    *EngineConfig    `yaml:"engine,omitempty"`
	Server    *ServerConfig    `yaml:"server,omitempty"`
	Alerts    []AlertConfig    `yaml:"alerts,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
}

// RedisConfig holds Redis/Valkey connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`
	// RetentionTTL expires every key written for a run, e.g. "720h". Empty keeps keys forever.
	RetentionTTL string `yaml:"retentionTtl,omitempty" json:"retentionTtl,omitempty"`
}

// DynamoDBConfig holds DynamoDB connection and table settings.
type DynamoDBConfig struct {
	TableName   string `yaml:"tableName" json:"tableName"`
	Region      string `yaml:"region" json:"region"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	CreateTable bool   `yaml:"createTable,omitempty" json:"createTable,omitempty"`
}

// PostgresConfig holds the Postgres connection string.
type PostgresConfig struct {
	DSN     string `yaml:"dsn" json:"dsn"`
	Migrate bool   `yaml:"migrate,omitempty" json:"migrate,omitempty"`
}

// LLMConfig selects and configures the language model backend.
type LLMConfig struct {
	Backend         string  `yaml:"backend" json:"backend"` // openai, anthropic, ollama
	Model           string  `yaml:"model" json:"model"`
	APIKey          string  `yaml:"apiKey,omitempty" json:"-"`
	APIKeySecretARN string  `yaml:"apiKeySecretArn,omitempty" json:"apiKeySecretArn,omitempty"`
	BaseURL         string  `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	Temperature     float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens       int     `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty"`
}

// PersonasConfig points at an optional persona table and sets the unknown persona policy.
type PersonasConfig struct {
	File          string               `yaml:"file,omitempty" json:"file,omitempty"`
	UnknownPolicy UnknownPersonaPolicy `yaml:"unknownPolicy,omitempty" json:"unknownPolicy,omitempty"`
}

// EngineConfig holds orchestrator settings.
type EngineConfig struct {
	StepTimeout      string `yaml:"stepTimeout,omitempty" json:"stepTimeout,omitempty"` // e.g. "90s"
	MaxRetries       int    `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	SchemaVersion    string `yaml:"schemaVersion,omitempty" json:"schemaVersion,omitempty"`
	PromptSetVersion string `yaml:"promptSetVersion,omitempty" json:"promptSetVersion,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty" json:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty" json:"maxRequestBody,omitempty"`
}

// AlertConfig defines an alert sink configuration.
type AlertConfig struct {
	Type         AlertType `yaml:"type" json:"type"`
	URL          string    `yaml:"url,omitempty" json:"url,omitempty"`
	EventBusName string    `yaml:"eventBusName,omitempty" json:"eventBusName,omitempty"`
	Source       string    `yaml:"source,omitempty" json:"source,omitempty"`
}

// TelemetryConfig enables OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty" json:"insecure,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}
