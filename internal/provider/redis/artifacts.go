package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// writeOnce stores data under key once, only while runID exists.
func (p *RedisProvider) writeOnce(ctx context.Context, what, runID, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", what, err)
	}
	res, err := p.putOnce.Run(ctx, p.client, []string{p.runKey(runID), key}, string(data)).Int()
	if err != nil {
		return fmt.Errorf("storing %s for run %q: %w", what, runID, err)
	}
	return writeResult(res, what, runID)
}

func writeResult(res int, what, runID string) error {
	switch res {
	case -1:
		return fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	case 0:
		return fmt.Errorf("%s for run %q: %w", what, runID, provider.ErrAlreadyExists)
	}
	return nil
}

func (p *RedisProvider) readJSON(ctx context.Context, what, runID, key string, v any) error {
	data, err := p.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%s for run %q: %w", what, runID, provider.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s for run %q: %w", what, runID, err)
	}
	return nil
}

// PutProposal stores the run's proposal version.
func (p *RedisProvider) PutProposal(ctx context.Context, pv types.ProposalVersion) error {
	return p.writeOnce(ctx, "proposal", pv.RunID, p.proposalKey(pv.RunID), pv)
}

// GetProposal retrieves the run's proposal version.
func (p *RedisProvider) GetProposal(ctx context.Context, runID string) (*types.ProposalVersion, error) {
	var pv types.ProposalVersion
	if err := p.readJSON(ctx, "proposal", runID, p.proposalKey(runID), &pv); err != nil {
		return nil, err
	}
	return &pv, nil
}

// PutPersonaReview stores one persona's review as a field of the run's review hash.
func (p *RedisProvider) PutPersonaReview(ctx context.Context, review types.PersonaReview) error {
	data, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("marshaling review: %w", err)
	}
	keys := []string{p.runKey(review.RunID), p.reviewsKey(review.RunID)}
	res, err := p.putFieldOnce.Run(ctx, p.client, keys, review.PersonaID, string(data)).Int()
	if err != nil {
		return fmt.Errorf("storing review %s for run %q: %w", review.PersonaID, review.RunID, err)
	}
	return writeResult(res, "review "+review.PersonaID, review.RunID)
}

// ListPersonaReviews returns a run's reviews ordered by persona id.
func (p *RedisProvider) ListPersonaReviews(ctx context.Context, runID string) ([]types.PersonaReview, error) {
	fields, err := p.client.HGetAll(ctx, p.reviewsKey(runID)).Result()
	if err != nil {
		return nil, err
	}
	reviews := make([]types.PersonaReview, 0, len(fields))
	for personaID, data := range fields {
		var r types.PersonaReview
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decoding review %s for run %q: %w", personaID, runID, err)
		}
		reviews = append(reviews, r)
	}
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].PersonaID < reviews[j].PersonaID })
	return reviews, nil
}

// PutDecision stores the run's decision.
func (p *RedisProvider) PutDecision(ctx context.Context, d types.Decision) error {
	return p.writeOnce(ctx, "decision", d.RunID, p.decisionKey(d.RunID), d)
}

// GetDecision retrieves the run's decision.
func (p *RedisProvider) GetDecision(ctx context.Context, runID string) (*types.Decision, error) {
	var d types.Decision
	if err := p.readJSON(ctx, "decision", runID, p.decisionKey(runID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AppendEvent appends an event to the run's audit list.
func (p *RedisProvider) AppendEvent(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return p.client.RPush(ctx, p.eventsKey(event.RunID), data).Err()
}

// ListEvents returns the run's events oldest first, keeping the last limit.
func (p *RedisProvider) ListEvents(ctx context.Context, runID string, limit int) ([]types.Event, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	items, err := p.client.LRange(ctx, p.eventsKey(runID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]types.Event, 0, len(items))
	for _, item := range items {
		var ev types.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			p.logger.Warn("skipping corrupt event", "run", runID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
