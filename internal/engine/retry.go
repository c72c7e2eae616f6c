package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dwsmith1983/verdict/internal/llm"
	"github.com/dwsmith1983/verdict/internal/metrics"
	"github.com/dwsmith1983/verdict/pkg/types"
)

// call runs fn under the per-step timeout, retrying transient LLM failures
// up to cfg.MaxRetries extra times.
func call[T any](ctx context.Context, cfg Config, step types.Step, personaID string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		if attempt > 1 {
			metrics.PersonaRetries.Add(1)
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.StepTimeout)
		defer cancel()

		start := time.Now()
		v, err := fn(cctx)
		metrics.RecordLLMCall(ctx, string(step), personaID, time.Since(start), err)
		if err != nil && !retryable(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInterval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxRetries)+1),
	)
}

// retryable reports whether err is worth another attempt. A per-call timeout
// is retryable while the parent context is still live.
func retryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if llm.IsRetryable(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
