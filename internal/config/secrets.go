package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// SecretsAPI is the subset of the Secrets Manager client used to resolve secrets.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsOption configures ResolveSecrets.
type SecretsOption func(*secretsOptions)

type secretsOptions struct {
	client SecretsAPI
}

// WithSecretsClient injects a Secrets Manager client.
func WithSecretsClient(c SecretsAPI) SecretsOption {
	return func(o *secretsOptions) { o.client = c }
}

// ResolveSecrets fills llm.apiKey from llm.apiKeySecretArn when no key was
// given directly. The secret may be a bare string or a JSON object with an
// "apiKey" field.
func ResolveSecrets(ctx context.Context, cfg *types.ProjectConfig, opts ...SecretsOption) error {
	if cfg.LLM == nil || cfg.LLM.APIKey != "" || cfg.LLM.APIKeySecretARN == "" {
		return nil
	}

	var o secretsOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		o.client = secretsmanager.NewFromConfig(awsCfg)
	}

	out, err := o.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(cfg.LLM.APIKeySecretARN),
	})
	if err != nil {
		return fmt.Errorf("reading secret %s: %w", cfg.LLM.APIKeySecretARN, err)
	}

	key, err := apiKeyFromSecret(aws.ToString(out.SecretString))
	if err != nil {
		return fmt.Errorf("secret %s: %w", cfg.LLM.APIKeySecretARN, err)
	}
	cfg.LLM.APIKey = key
	return nil
}

func apiKeyFromSecret(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("secret is empty")
	}
	if !strings.HasPrefix(s, "{") {
		return s, nil
	}
	var doc struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return "", fmt.Errorf("parsing secret JSON: %w", err)
	}
	if doc.APIKey == "" {
		return "", fmt.Errorf("secret JSON has no apiKey field")
	}
	return doc.APIKey, nil
}
