// Package redis implements the Provider interface using Redis/Valkey.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*RedisProvider)(nil)

const defaultPrefix = "verdict:"

// RedisProvider implements the Provider interface backed by Redis/Valkey.
// Every run-scoped key is written through a Lua script so the write-once and
// run-must-exist checks happen atomically on the server.
type RedisProvider struct {
	client       *goredis.Client
	prefix       string
	retentionTTL time.Duration
	logger       *slog.Logger

	putRun       *goredis.Script
	putOnce      *goredis.Script
	putFieldOnce *goredis.Script
	cas          *goredis.Script
}

// Option configures a RedisProvider.
type Option func(*RedisProvider)

// WithLogger sets the provider's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *RedisProvider) { p.logger = l }
}

// WithRetention expires every key of a run d after it reaches a terminal status.
func WithRetention(d time.Duration) Option {
	return func(p *RedisProvider) { p.retentionTTL = d }
}

// New creates a new RedisProvider.
func New(cfg *types.RedisConfig, opts ...Option) (*RedisProvider, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	p := NewFromClient(client, cfg.KeyPrefix, opts...)
	if cfg.RetentionTTL != "" {
		d, err := time.ParseDuration(cfg.RetentionTTL)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis retentionTtl: %w", err)
		}
		p.retentionTTL = d
	}
	return p, nil
}

// NewFromClient creates a RedisProvider from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string, opts ...Option) *RedisProvider {
	if prefix == "" {
		prefix = defaultPrefix
	}
	p := &RedisProvider{
		client:       client,
		prefix:       prefix,
		logger:       slog.Default(),
		putRun:       goredis.NewScript(putRunScript),
		putOnce:      goredis.NewScript(putOnceScript),
		putFieldOnce: goredis.NewScript(putFieldOnceScript),
		cas:          goredis.NewScript(casScript),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start initializes the provider connection.
func (p *RedisProvider) Start(ctx context.Context) error {
	return p.Ping(ctx)
}

// Stop closes the provider connection.
func (p *RedisProvider) Stop(_ context.Context) error {
	return p.client.Close()
}

// Ping checks connectivity to the Redis server.
func (p *RedisProvider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Client returns the underlying Redis client (for advanced usage/testing).
func (p *RedisProvider) Client() *goredis.Client {
	return p.client
}

func (p *RedisProvider) runKey(id string) string { return p.prefix + "run:" + id }
func (p *RedisProvider) runIndexKey() string { return p.prefix + "runs" }
func (p *RedisProvider) childrenKey(id string) string { return p.prefix + "children:" + id }
func (p *RedisProvider) proposalKey(id string) string { return p.prefix + "proposal:" + id }
func (p *RedisProvider) reviewsKey(id string) string { return p.prefix + "reviews:" + id }
func (p *RedisProvider) decisionKey(id string) string { return p.prefix + "decision:" + id }
func (p *RedisProvider) eventsKey(id string) string { return p.prefix + "events:" + id }

// runScopedKeys lists every key owned by a run.
func (p *RedisProvider) runScopedKeys(id string) []string {
	return []string{
		p.runKey(id),
		p.childrenKey(id),
		p.proposalKey(id),
		p.reviewsKey(id),
		p.decisionKey(id),
		p.eventsKey(id),
	}
}
