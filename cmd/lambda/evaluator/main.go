// evaluator Lambda runs one evaluation or revision to completion.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/verdict/internal/lambda"
	"github.com/dwsmith1983/verdict/pkg/types"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

// handleEvaluate runs the event and summarizes the resulting run. A run that
// failed inside the engine is reported in the response; input errors are
// returned as Lambda errors.
func handleEvaluate(ctx context.Context, d *intlambda.Deps, ev intlambda.EvaluateEvent) (intlambda.EvaluateResponse, error) {
	var (
		bundle *types.RunBundle
		err    error
	)
	if ev.IsRevision() {
		bundle, err = d.Engine.Revise(ctx, ev.ParentRunID, types.RevisionEdits{
			EditedProposal: ev.EditedProposal,
			UserNotes:      ev.UserNotes,
		})
	} else {
		bundle, err = d.Engine.Evaluate(ctx, types.EvaluateRequest{
			Idea:        ev.Idea,
			Context:     ev.Context,
			Model:       ev.Model,
			Temperature: ev.Temperature,
		})
	}
	if err != nil {
		if resp, ok := intlambda.FailureResponse(err); ok {
			if ev.IsRevision() {
				resp.ParentRunID = ev.ParentRunID
			}
			d.Logger.Error("run failed",
				"run", resp.RunID,
				"step", resp.FailedStep,
				"persona", resp.FailedPersona,
				"error", resp.Error,
			)
			return resp, nil
		}
		d.Logger.Error("evaluation rejected", "parent", ev.ParentRunID, "error", err)
		return intlambda.EvaluateResponse{}, err
	}

	resp := intlambda.Summarize(bundle)
	d.Logger.Info("run completed",
		"run", resp.RunID,
		"decision", resp.Decision,
		"veto", resp.VetoApplied,
	)
	return resp, nil
}

func handler(ctx context.Context, ev intlambda.EvaluateEvent) (intlambda.EvaluateResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.EvaluateResponse{}, err
	}
	return handleEvaluate(ctx, d, ev)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
