// Package testutil provides shared test utilities for Verdict.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dwsmith1983/verdict/internal/llm"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// FakeClient is a scripted LLM client. Reviews are keyed by persona id;
// errors can be queued per persona (or for expansion) and are returned
// before the scripted result, one per call.
type FakeClient struct {
	mu sync.Mutex

	ModelName string
	Proposal  types.ProposalDocument
	Reviews   map[string]types.PersonaReviewDocument

	// Delay is applied to every Review call and honours context cancellation.
	Delay time.Duration

	expandErrs []error
	reviewErrs map[string][]error

	expandCalls []llm.ExpandRequest
	reviewCalls map[string]int
	reviewOrder []string
	maxInFlight int
	curInFlight int
}

// NewFakeClient returns a client that expands every idea into SampleProposal
// and has every registered default persona review with the given confidences.
func NewFakeClient(confidences map[string]float64) *FakeClient {
	c := &FakeClient{
		ModelName:   "fake-model",
		Proposal:    SampleProposal(),
		Reviews:     make(map[string]types.PersonaReviewDocument),
		reviewErrs:  make(map[string][]error),
		reviewCalls: make(map[string]int),
	}
	for id, conf := range confidences {
		c.Reviews[id] = ReviewDoc(id, conf)
	}
	return c
}

// FailExpand queues errors returned by the next Expand calls.
func (c *FakeClient) FailExpand(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expandErrs = append(c.expandErrs, errs...)
}

// FailReview queues errors returned by the next Review calls for personaID.
func (c *FakeClient) FailReview(personaID string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviewErrs[personaID] = append(c.reviewErrs[personaID], errs...)
}

// SetReview replaces the scripted review for personaID.
func (c *FakeClient) SetReview(personaID string, doc types.PersonaReviewDocument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reviews[personaID] = doc
}

// Model implements engine.Client.
func (c *FakeClient) Model() string { return c.ModelName }

// Expand implements engine.Client.
func (c *FakeClient) Expand(ctx context.Context, req llm.ExpandRequest) (*types.ProposalDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expandCalls = append(c.expandCalls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(c.expandErrs) > 0 {
		err := c.expandErrs[0]
		c.expandErrs = c.expandErrs[1:]
		return nil, err
	}
	p := c.Proposal
	if req.Edits != nil && req.Edits.EditedProposal != nil {
		p = *req.Edits.EditedProposal
	}
	return &p, nil
}

// Review implements engine.Client.
func (c *FakeClient) Review(ctx context.Context, _ types.ProposalDocument, p types.Persona) (*types.PersonaReviewDocument, error) {
	c.mu.Lock()
	c.reviewCalls[p.ID]++
	c.reviewOrder = append(c.reviewOrder, p.ID)
	c.curInFlight++
	if c.curInFlight > c.maxInFlight {
		c.maxInFlight = c.curInFlight
	}
	delay := c.Delay
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.curInFlight--
		c.mu.Unlock()
	}()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if errs := c.reviewErrs[p.ID]; len(errs) > 0 {
		c.reviewErrs[p.ID] = errs[1:]
		return nil, errs[0]
	}
	doc, ok := c.Reviews[p.ID]
	if !ok {
		return nil, fmt.Errorf("no scripted review for %s", p.ID)
	}
	return &doc, nil
}

// ExpandCalls returns the requests Expand has received.
func (c *FakeClient) ExpandCalls() []llm.ExpandRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ExpandRequest, len(c.expandCalls))
	copy(out, c.expandCalls)
	return out
}

// ReviewCalls returns how many times personaID has been reviewed.
func (c *FakeClient) ReviewCalls(personaID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reviewCalls[personaID]
}

// TotalReviewCalls returns the number of Review calls across all personas.
func (c *FakeClient) TotalReviewCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reviewOrder)
}

// MaxInFlight returns the highest number of concurrent Review calls observed.
func (c *FakeClient) MaxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}
