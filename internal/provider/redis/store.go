package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dwsmith1983/verdict/internal/lifecycle"
	"github.com/dwsmith1983/verdict/internal/provider"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// PutRun stores a new run and indexes it under its parent.
func (p *RedisProvider) PutRun(ctx context.Context, run types.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	keys := []string{p.runKey(run.ID), p.runIndexKey()}
	if run.ParentRunID != nil {
		keys = append(keys, p.runKey(*run.ParentRunID), p.childrenKey(*run.ParentRunID))
	}
	res, err := p.putRun.Run(ctx, p.client, keys, string(data), run.CreatedAt.UnixMicro(), run.ID).Int()
	if err != nil {
		return fmt.Errorf("storing run %q: %w", run.ID, err)
	}
	switch res {
	case 0:
		return fmt.Errorf("run %q: %w", run.ID, provider.ErrAlreadyExists)
	case -1:
		return fmt.Errorf("parent run %q: %w", *run.ParentRunID, provider.ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run.
func (p *RedisProvider) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	data, err := p.client.Get(ctx, p.runKey(runID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var run types.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %q: %w", runID, err)
	}
	return &run, nil
}

// CompareAndSwapRun atomically replaces a run if its version matches. Runs
// reaching a terminal status start their retention clock.
func (p *RedisProvider) CompareAndSwapRun(ctx context.Context, runID string, expectedVersion int, next types.Run) (bool, error) {
	data, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("marshaling run: %w", err)
	}
	res, err := p.cas.Run(ctx, p.client, []string{p.runKey(runID)}, expectedVersion, string(data)).Int()
	if err != nil {
		return false, fmt.Errorf("updating run %q: %w", runID, err)
	}
	switch res {
	case -1:
		return false, fmt.Errorf("run %q: %w", runID, provider.ErrNotFound)
	case 0:
		return false, nil
	}

	if p.retentionTTL > 0 && lifecycle.IsTerminal(next.Status) {
		pipe := p.client.Pipeline()
		for _, k := range p.runScopedKeys(runID) {
			pipe.Expire(ctx, k, p.retentionTTL)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Warn("failed to set run retention", "run", runID, "error", err)
		}
	}
	return true, nil
}

// ListRuns returns runs newest first.
func (p *RedisProvider) ListRuns(ctx context.Context, opts types.ListOptions) ([]types.Run, error) {
	stop := int64(-1)
	if opts.Status == "" && opts.Limit > 0 {
		stop = int64(opts.Limit - 1)
	}
	ids, err := p.client.ZRevRange(ctx, p.runIndexKey(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	runs, err := p.loadRuns(ctx, ids)
	if err != nil {
		return nil, err
	}

	result := runs[:0]
	for _, r := range runs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		result = append(result, r)
		if opts.Limit > 0 && len(result) == opts.Limit {
			break
		}
	}
	return result, nil
}

// ListChildRuns returns the revisions of parentID, oldest first.
func (p *RedisProvider) ListChildRuns(ctx context.Context, parentID string) ([]types.Run, error) {
	ids, err := p.client.ZRange(ctx, p.childrenKey(parentID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	runs, err := p.loadRuns(ctx, ids)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []types.Run{}
	}
	return runs, nil
}

// DeleteRun removes a run, its artifacts and every descendant run in one
// MULTI/EXEC transaction.
func (p *RedisProvider) DeleteRun(ctx context.Context, runID string) error {
	root, err := p.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	tree := []string{runID}
	for i := 0; i < len(tree); i++ {
		kids, err := p.client.ZRange(ctx, p.childrenKey(tree[i]), 0, -1).Result()
		if err != nil {
			return fmt.Errorf("listing children of %q: %w", tree[i], err)
		}
		tree = append(tree, kids...)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range tree {
			pipe.Del(ctx, p.runScopedKeys(id)...)
			pipe.ZRem(ctx, p.runIndexKey(), id)
		}
		if root.ParentRunID != nil {
			pipe.ZRem(ctx, p.childrenKey(*root.ParentRunID), runID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting run %q: %w", runID, err)
	}
	return nil
}

// loadRuns fetches runs by id in order, skipping ids whose key has expired.
func (p *RedisProvider) loadRuns(ctx context.Context, ids []string) ([]types.Run, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.runKey(id)
	}
	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]types.Run, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var run types.Run
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			p.logger.Warn("skipping corrupt run", "run", ids[i], "error", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}
