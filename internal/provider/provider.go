// Package provider defines the storage backend interface for Verdict.
package provider

import (
	"context"
	"errors"

	"github.com/dwsmith1983/verdict/pkg/types"
)

var (
	// ErrNotFound is returned when a run or artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a write-once record is written twice.
	ErrAlreadyExists = errors.New("already exists")
)

// Provider is the storage backend interface. Implementations: memory,
// Redis/Valkey, DynamoDB, Postgres.
//
// Every implementation must enforce: one ProposalVersion and one Decision per
// run, at most one PersonaReview per (run, persona), artifacts only for runs
// that exist, and cascading deletes from a run to its artifacts, events and
// descendant runs.
type Provider interface {
	// Runs (with CAS for status transitions)
	PutRun(ctx context.Context, run types.Run) error
	GetRun(ctx context.Context, runID string) (*types.Run, error)
	CompareAndSwapRun(ctx context.Context, runID string, expectedVersion int, next types.Run) (bool, error)
	ListRuns(ctx context.Context, opts types.ListOptions) ([]types.Run, error)
	ListChildRuns(ctx context.Context, parentID string) ([]types.Run, error)
	DeleteRun(ctx context.Context, runID string) error

	// Write-once run artifacts
	PutProposal(ctx context.Context, pv types.ProposalVersion) error
	GetProposal(ctx context.Context, runID string) (*types.ProposalVersion, error)
	PutPersonaReview(ctx context.Context, review types.PersonaReview) error
	ListPersonaReviews(ctx context.Context, runID string) ([]types.PersonaReview, error)
	PutDecision(ctx context.Context, d types.Decision) error
	GetDecision(ctx context.Context, runID string) (*types.Decision, error)

	// Event log: append-only audit trail, returned oldest first
	AppendEvent(ctx context.Context, event types.Event) error
	ListEvents(ctx context.Context, runID string, limit int) ([]types.Event, error)

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
