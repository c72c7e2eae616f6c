package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/verdict/pkg/types"
)

// PutProposal inserts the run's proposal version.
func (s *Store) PutProposal(ctx context.Context, pv types.ProposalVersion) error {
	doc, err := json.Marshal(pv)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO proposal_versions (run_id, doc, created_at) VALUES ($1, $2, $3)
	`, pv.RunID, doc, pv.CreatedAt)
	if err != nil {
		return mapWriteError(err, fmt.Sprintf("proposal for run %q", pv.RunID))
	}
	return nil
}

// GetProposal retrieves the run's proposal version.
func (s *Store) GetProposal(ctx context.Context, runID string) (*types.ProposalVersion, error) {
	var pv types.ProposalVersion
	if err := s.getDoc(ctx, `SELECT doc FROM proposal_versions WHERE run_id = $1`, runID, "proposal", &pv); err != nil {
		return nil, err
	}
	return &pv, nil
}

// PutPersonaReview inserts one persona's review.
func (s *Store) PutPersonaReview(ctx context.Context, review types.PersonaReview) error {
	doc, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO persona_reviews (run_id, persona_id, confidence_score, reused, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, review.RunID, review.PersonaID, review.ConfidenceScore, review.Reused, doc, review.CreatedAt)
	if err != nil {
		return mapWriteError(err, fmt.Sprintf("review %s for run %q", review.PersonaID, review.RunID))
	}
	return nil
}

// ListPersonaReviews returns a run's reviews ordered by persona id.
func (s *Store) ListPersonaReviews(ctx context.Context, runID string) ([]types.PersonaReview, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM persona_reviews WHERE run_id = $1 ORDER BY persona_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list reviews for run %q: %w", runID, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan reviews: %w", err)
	}
	reviews := make([]types.PersonaReview, 0, len(docs))
	for _, doc := range docs {
		var r types.PersonaReview
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("decode review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, nil
}

// PutDecision inserts the run's decision.
func (s *Store) PutDecision(ctx context.Context, d types.Decision) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO decisions (run_id, overall_weighted_confidence, decision, doc, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.RunID, d.OverallWeightedConfidence, string(d.Result.Decision), doc, d.CreatedAt)
	if err != nil {
		return mapWriteError(err, fmt.Sprintf("decision for run %q", d.RunID))
	}
	return nil
}

// GetDecision retrieves the run's decision.
func (s *Store) GetDecision(ctx context.Context, runID string) (*types.Decision, error) {
	var d types.Decision
	if err := s.getDoc(ctx, `SELECT doc FROM decisions WHERE run_id = $1`, runID, "decision", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AppendEvent inserts an audit event.
func (s *Store) AppendEvent(ctx context.Context, event types.Event) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (run_id, kind, doc, timestamp) VALUES ($1, $2, $3, $4)
	`, event.RunID, string(event.Kind), doc, event.Timestamp)
	if err != nil {
		return mapWriteError(err, fmt.Sprintf("event for run %q", event.RunID))
	}
	return nil
}

// ListEvents returns the run's events oldest first, keeping the last limit.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]types.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM (
			SELECT id, doc FROM events WHERE run_id = $1 ORDER BY id DESC LIMIT NULLIF($2::int, 0)
		) recent ORDER BY id
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events for run %q: %w", runID, err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	events := make([]types.Event, 0, len(docs))
	for _, doc := range docs {
		var ev types.Event
		if err := json.Unmarshal(doc, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) getDoc(ctx context.Context, query, runID, what string, v any) error {
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, runID).Scan(&doc); err != nil {
		return mapReadError(err, fmt.Sprintf("%s for run %q", what, runID))
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("decode %s for run %q: %w", what, runID, err)
	}
	return nil
}
