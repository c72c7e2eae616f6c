// Package llm implements the language model collaborator: expanding an idea
// into a proposal and reviewing a proposal as a persona. Responses are
// requested in JSON mode and validated before they are returned.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// Supported backends.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

// ExpandRequest is the input to Expand. Parent and Edits are set for revisions.
type ExpandRequest struct {
	Idea        string
	Context     map[string]any
	Temperature float64
	Parent      *types.ProposalDocument
	Edits       *types.RevisionEdits
}

// Client calls a langchaingo model behind a circuit breaker.
type Client struct {
	model     llms.Model
	modelName string
	maxTokens int
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMaxTokens caps generated tokens per call.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// New builds a Client for the configured backend.
func New(cfg types.LLMConfig, opts ...Option) (*Client, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Backend {
	case BackendOpenAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		oo := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			oo = append(oo, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(oo...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}
	case BackendAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.Model))
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}
	case BackendOllama:
		oo := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			oo = append(oo, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(oo...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported LLM backend: %s", cfg.Backend)
	}
	if cfg.MaxTokens > 0 {
		opts = append([]Option{WithMaxTokens(cfg.MaxTokens)}, opts...)
	}
	return NewWithModel(model, cfg.Model, opts...), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, name string, opts ...Option) *Client {
	c := &Client{
		model:     model,
		modelName: name,
		maxTokens: 2048,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-" + name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("llm circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Model returns the model name.
func (c *Client) Model() string { return c.modelName }

// PromptSetVersion returns the version of the prompts this client sends.
func (c *Client) PromptSetVersion() string { return PromptSetVersion }

// Expand turns an idea into a structured proposal.
func (c *Client) Expand(ctx context.Context, req ExpandRequest) (*types.ProposalDocument, error) {
	const op = "expand"
	out, err := c.generate(ctx, op, expandSystemPrompt, expandUserPrompt(req), req.Temperature)
	if err != nil {
		return nil, err
	}
	return ParseProposal(out)
}

// Review asks persona p to review proposal.
func (c *Client) Review(ctx context.Context, proposal types.ProposalDocument, p types.Persona) (*types.PersonaReviewDocument, error) {
	op := "review " + p.ID
	system := fmt.Sprintf(reviewSystemPrompt, p.DisplayName, p.Instructions, p.DisplayName)
	out, err := c.generate(ctx, op, system, reviewUserPrompt(proposal), p.Temperature)
	if err != nil {
		return nil, err
	}
	return ParseReview(out, p)
}

func (c *Client) generate(ctx context.Context, op, system, user string, temperature float64) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.model.GenerateContent(ctx, messages,
			llms.WithTemperature(temperature),
			llms.WithMaxTokens(c.maxTokens),
			llms.WithJSONMode(),
		)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return "", classify(op, err)
	}
	resp, _ := res.(*llms.ContentResponse)
	if resp == nil || len(resp.Choices) == 0 {
		return "", schemaError(op, "no response choices")
	}
	return resp.Choices[0].Content, nil
}

// ParseProposal decodes and validates a proposal document.
func ParseProposal(raw string) (*types.ProposalDocument, error) {
	const op = "expand"
	var p types.ProposalDocument
	if err := json.Unmarshal([]byte(extractJSON(raw)), &p); err != nil {
		return nil, schemaError(op, "decoding proposal: %w", err)
	}
	p.ProblemStatement = strings.TrimSpace(p.ProblemStatement)
	p.ProposedSolution = strings.TrimSpace(p.ProposedSolution)
	if p.ProblemStatement == "" {
		return nil, schemaError(op, "problem_statement is required")
	}
	if p.ProposedSolution == "" {
		return nil, schemaError(op, "proposed_solution is required")
	}
	if p.Assumptions == nil {
		p.Assumptions = []string{}
	}
	if p.ScopeNonGoals == nil {
		p.ScopeNonGoals = []string{}
	}
	return &p, nil
}

// ParseReview decodes and validates a review document for persona p.
func ParseReview(raw string, p types.Persona) (*types.PersonaReviewDocument, error) {
	op := "review " + p.ID
	data := []byte(extractJSON(raw))

	var probe struct {
		ConfidenceScore *float64 `json:"confidence_score"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, schemaError(op, "decoding review: %w", err)
	}
	if probe.ConfidenceScore == nil {
		return nil, schemaError(op, "confidence_score is required")
	}
	if *probe.ConfidenceScore < 0 || *probe.ConfidenceScore > 1 {
		return nil, schemaError(op, "confidence_score %v out of range [0,1]", *probe.ConfidenceScore)
	}

	var doc types.PersonaReviewDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schemaError(op, "decoding review: %w", err)
	}
	if doc.PersonaName == "" {
		doc.PersonaName = p.DisplayName
	}
	doc.PersonaID = p.ID
	return &doc, nil
}

// extractJSON strips markdown code fences and text around the outermost object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
