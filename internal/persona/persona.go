// Package persona holds the registry of weighted reviewer personas.
package persona

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.0.
const WeightTolerance = 1e-4

var (
	// ErrWeightSum is returned when the configured weights do not sum to 1.0.
	ErrWeightSum = errors.New("persona weights must sum to 1.0")
	// ErrUnknownPersona is returned for ids not in the registry under PolicyReject.
	ErrUnknownPersona = errors.New("unknown persona")
)

// Built-in persona ids.
const (
	Architect        = "architect"
	Critic           = "critic"
	Optimist         = "optimist"
	SecurityGuardian = types.SecurityGuardianID
	UserAdvocate     = "user_advocate"
)

var defaultPersonas = []types.Persona{
	{ID: Architect, DisplayName: "Architect", DefaultWeight: 0.25, Temperature: 0.3,
		Instructions: "Assess structural soundness, scalability and maintainability of the proposed design."},
	{ID: Critic, DisplayName: "Critic", DefaultWeight: 0.25, Temperature: 0.4,
		Instructions: "Find weaknesses, unstated assumptions and failure modes."},
	{ID: Optimist, DisplayName: "Optimist", DefaultWeight: 0.15, Temperature: 0.7,
		Instructions: "Identify the upside, opportunities and the strongest version of the idea."},
	{ID: SecurityGuardian, DisplayName: "SecurityGuardian", DefaultWeight: 0.20, Temperature: 0.2,
		Instructions: "Review for security, privacy and compliance risk. Flag critical issues as security_critical."},
	{ID: UserAdvocate, DisplayName: "UserAdvocate", DefaultWeight: 0.15, Temperature: 0.5,
		Instructions: "Evaluate usability, accessibility and value delivered to end users."},
}

// Registry is an immutable set of personas whose weights sum to 1.0.
type Registry struct {
	personas map[string]types.Persona
	ids      []string
	policy   types.UnknownPersonaPolicy
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithUnknownPolicy sets how ids outside the registry are treated.
func WithUnknownPolicy(p types.UnknownPersonaPolicy) Option {
	return func(r *Registry) {
		if p != "" {
			r.policy = p
		}
	}
}

// WithLogger sets the logger used for unknown persona warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New validates personas and builds a registry.
func New(personas []types.Persona, opts ...Option) (*Registry, error) {
	if len(personas) == 0 {
		return nil, fmt.Errorf("persona registry: at least one persona is required")
	}
	r := &Registry{
		personas: make(map[string]types.Persona, len(personas)),
		policy:   types.PolicyIgnore,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	switch r.policy {
	case types.PolicyIgnore, types.PolicyReject:
	default:
		return nil, fmt.Errorf("persona registry: unknown policy %q", r.policy)
	}

	var sum float64
	for _, p := range personas {
		if p.ID == "" {
			return nil, fmt.Errorf("persona registry: persona id is required")
		}
		if _, dup := r.personas[p.ID]; dup {
			return nil, fmt.Errorf("persona registry: duplicate persona %q", p.ID)
		}
		if p.DefaultWeight < 0 || p.DefaultWeight > 1 {
			return nil, fmt.Errorf("persona registry: weight for %q out of range [0,1]: %v", p.ID, p.DefaultWeight)
		}
		if p.Temperature < 0 || p.Temperature > 1 {
			return nil, fmt.Errorf("persona registry: temperature for %q out of range [0,1]: %v", p.ID, p.Temperature)
		}
		if p.DisplayName == "" {
			p.DisplayName = p.ID
		}
		r.personas[p.ID] = p
		r.ids = append(r.ids, p.ID)
		sum += p.DefaultWeight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return nil, fmt.Errorf("%w: got %.6f", ErrWeightSum, sum)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Default returns a registry of the five built-in personas.
func Default(opts ...Option) (*Registry, error) {
	return New(defaultPersonas, opts...)
}

// MustDefault is like Default but panics if the built-in table is invalid.
func MustDefault(opts ...Option) *Registry {
	r, err := Default(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultPersonas returns a copy of the built-in persona table.
func DefaultPersonas() []types.Persona {
	out := make([]types.Persona, len(defaultPersonas))
	copy(out, defaultPersonas)
	return out
}

type personaFile struct {
	Personas []types.Persona `yaml:"personas"`
}

// LoadFile reads a YAML persona table and builds a registry from it.
func LoadFile(path string, opts ...Option) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading personas: %w", err)
	}
	var pf personaFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing personas: %w", err)
	}
	return New(pf.Personas, opts...)
}

// Get returns the persona with the given id.
func (r *Registry) Get(id string) (types.Persona, bool) {
	p, ok := r.personas[id]
	return p, ok
}

// Weight returns the weight of a registered persona.
func (r *Registry) Weight(id string) (float64, bool) {
	p, ok := r.personas[id]
	return p.DefaultWeight, ok
}

// DisplayName returns the persona's display name, or id when unregistered.
func (r *Registry) DisplayName(id string) string {
	if p, ok := r.personas[id]; ok {
		return p.DisplayName
	}
	return id
}

// IDs returns the registered persona ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// List returns the registered personas sorted by id.
func (r *Registry) List() []types.Persona {
	out := make([]types.Persona, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.personas[id])
	}
	return out
}

// Policy returns the unknown persona policy in force.
func (r *Registry) Policy() types.UnknownPersonaPolicy { return r.policy }

// Check applies the unknown persona policy to id. Known ids return nil.
// Under PolicyIgnore unknown ids are logged and also return nil.
func (r *Registry) Check(id string) error {
	if _, ok := r.personas[id]; ok {
		return nil
	}
	if r.policy == types.PolicyReject {
		return fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	r.logger.Warn("ignoring review from unknown persona", "persona", id)
	return nil
}
