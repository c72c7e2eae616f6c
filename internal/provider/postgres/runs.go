package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// PutRun inserts a new run.
func (s *Store) PutRun(ctx context.Context, run types.Run) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, parent_run_id, status, run_type, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.ParentRunID, string(run.Status), string(run.RunType), run.Version, doc, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return mapWriteError(err, fmt.Sprintf("run %q", run.ID))
	}
	return nil
}

// GetRun retrieves a run.
func (s *Store) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM runs WHERE id = $1`, runID).Scan(&doc)
	if err != nil {
		return nil, mapReadError(err, fmt.Sprintf("run %q", runID))
	}
	var run types.Run
	if err := json.Unmarshal(doc, &run); err != nil {
		return nil, fmt.Errorf("decode run %q: %w", runID, err)
	}
	return &run, nil
}

// CompareAndSwapRun replaces a run only if its stored version matches.
func (s *Store) CompareAndSwapRun(ctx context.Context, runID string, expectedVersion int, next types.Run) (bool, error) {
	doc, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshal run: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $3, version = $4, doc = $5, updated_at = $6
		WHERE id = $1 AND version = $2
	`, runID, expectedVersion, string(next.Status), next.Version, doc, next.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("update run %q: %w", runID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM runs WHERE id = $1)`, runID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check run %q: %w", runID, err)
	}
	if !exists {
		return false, fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	return false, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(ctx context.Context, opts types.ListOptions) ([]types.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM runs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2::int, 0)
	`, string(opts.Status), opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return collectRuns(rows)
}

// ListChildRuns returns the revisions of parentID, oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentID string) ([]types.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM runs WHERE parent_run_id = $1 ORDER BY created_at, id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %q: %w", parentID, err)
	}
	return collectRuns(rows)
}

// DeleteRun removes a run. Artifacts, events and descendant runs go with it
// through ON DELETE CASCADE.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete run %q: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	return nil
}

func collectRuns(rows pgx.Rows) ([]types.Run, error) {
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	runs := make([]types.Run, 0, len(docs))
	for _, doc := range docs {
		var run types.Run
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
