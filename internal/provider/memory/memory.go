// Package memory implements an in-process provider.Provider backed by maps.
// It is the default backend for the CLI and for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*Provider)(nil)

type reviewKey struct {
	runID     string
	personaID string
}

// Provider is an in-memory Provider implementation.
type Provider struct {
	mu        sync.Mutex
	runs      map[string]types.Run
	children  map[string][]string
	proposals map[string]types.ProposalVersion
	reviews   map[reviewKey]types.PersonaReview
	decisions map[string]types.Decision
	events    map[string][]types.Event
}

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{
		runs:      make(map[string]types.Run),
		children:  make(map[string][]string),
		proposals: make(map[string]types.ProposalVersion),
		reviews:   make(map[reviewKey]types.PersonaReview),
		decisions: make(map[string]types.Decision),
		events:    make(map[string][]types.Event),
	}
}

func (p *Provider) PutRun(_ context.Context, run types.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.runs[run.ID]; ok {
		return fmt.Errorf("run %q: %w", run.ID, provider.ErrAlreadyExists)
	}
	if run.ParentRunID != nil {
		if _, ok := p.runs[*run.ParentRunID]; !ok {
			return fmt.Errorf("parent run %q: %w", *run.ParentRunID, provider.ErrNotFound)
		}
		p.children[*run.ParentRunID] = append(p.children[*run.ParentRunID], run.ID)
	}
	p.runs[run.ID] = run
	return nil
}

func (p *Provider) GetRun(_ context.Context, runID string) (*types.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	return &run, nil
}

func (p *Provider) CompareAndSwapRun(_ context.Context, runID string, expectedVersion int, next types.Run) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.runs[runID]
	if !ok {
		return false, fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return false, nil
	}
	p.runs[runID] = next
	return true, nil
}

func (p *Provider) ListRuns(_ context.Context, opts types.ListOptions) ([]types.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []types.Run
	for _, r := range p.runs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (p *Provider) ListChildRuns(_ context.Context, parentID string) ([]types.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]types.Run, 0, len(p.children[parentID]))
	for _, id := range p.children[parentID] {
		result = append(result, p.runs[id])
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (p *Provider) DeleteRun(_ context.Context, runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[runID]
	if !ok {
		return fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	if run.ParentRunID != nil {
		siblings := p.children[*run.ParentRunID]
		for i, id := range siblings {
			if id == runID {
				p.children[*run.ParentRunID] = append(siblings[:i:i], siblings[i+1:]...)
				break
			}
		}
	}
	p.deleteTree(runID)
	return nil
}

// deleteTree removes runID, its artifacts and all descendants. Caller holds mu.
func (p *Provider) deleteTree(runID string) {
	for _, child := range p.children[runID] {
		p.deleteTree(child)
	}
	delete(p.children, runID)
	delete(p.runs, runID)
	delete(p.proposals, runID)
	delete(p.decisions, runID)
	delete(p.events, runID)
	for k := range p.reviews {
		if k.runID == runID {
			delete(p.reviews, k)
		}
	}
}

func (p *Provider) PutProposal(_ context.Context, pv types.ProposalVersion) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireRun(pv.RunID); err != nil {
		return err
	}
	if _, ok := p.proposals[pv.RunID]; ok {
		return fmt.Errorf("proposal for run %q: %w", pv.RunID, provider.ErrAlreadyExists)
	}
	p.proposals[pv.RunID] = pv
	return nil
}

func (p *Provider) GetProposal(_ context.Context, runID string) (*types.ProposalVersion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pv, ok := p.proposals[runID]
	if !ok {
		return nil, fmt.Errorf("proposal for run %q: %w", runID, provider.ErrNotFound)
	}
	return &pv, nil
}

func (p *Provider) PutPersonaReview(_ context.Context, review types.PersonaReview) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireRun(review.RunID); err != nil {
		return err
	}
	k := reviewKey{review.RunID, review.PersonaID}
	if _, ok := p.reviews[k]; ok {
		return fmt.Errorf("review %s/%s: %w", review.RunID, review.PersonaID, provider.ErrAlreadyExists)
	}
	p.reviews[k] = review
	return nil
}

func (p *Provider) ListPersonaReviews(_ context.Context, runID string) ([]types.PersonaReview, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var result []types.PersonaReview
	for k, r := range p.reviews {
		if k.runID == runID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PersonaID < result[j].PersonaID })
	return result, nil
}

func (p *Provider) PutDecision(_ context.Context, d types.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.requireRun(d.RunID); err != nil {
		return err
	}
	if _, ok := p.decisions[d.RunID]; ok {
		return fmt.Errorf("decision for run %q: %w", d.RunID, provider.ErrAlreadyExists)
	}
	p.decisions[d.RunID] = d
	return nil
}

func (p *Provider) GetDecision(_ context.Context, runID string) (*types.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.decisions[runID]
	if !ok {
		return nil, fmt.Errorf("decision for run %q: %w", runID, provider.ErrNotFound)
	}
	return &d, nil
}

func (p *Provider) AppendEvent(_ context.Context, event types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[event.RunID] = append(p.events[event.RunID], event)
	return nil
}

func (p *Provider) ListEvents(_ context.Context, runID string, limit int) ([]types.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := p.events[runID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]types.Event, len(events))
	copy(out, events)
	return out, nil
}

func (p *Provider) Start(_ context.Context) error { return nil }
func (p *Provider) Stop(_ context.Context) error  { return nil }
func (p *Provider) Ping(_ context.Context) error  { return nil }

func (p *Provider) requireRun(runID string) error {
	if _, ok := p.runs[runID]; !ok {
		return fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	return nil
}
