// Package metrics exposes runtime counters via expvar and, when a meter
// provider is installed, mirrors them as OpenTelemetry instruments.
package metrics

import (
	"context"
	"expvar"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	RunsStarted      = expvar.NewInt("runs_started")
	RunsCompleted    = expvar.NewInt("runs_completed")
	RunsFailed       = expvar.NewInt("runs_failed")
	RevisionsCreated = expvar.NewInt("revisions_created")
	ReviewsReused    = expvar.NewInt("reviews_reused")
	PersonaCalls     = expvar.NewInt("persona_calls")
	PersonaRetries   = expvar.NewInt("persona_retries")
	VetoesApplied    = expvar.NewInt("vetoes_applied")
	AlertsDispatched = expvar.NewInt("alerts_dispatched")
	AlertsFailed     = expvar.NewInt("alerts_failed")
)

const meterName = "github.com/dwsmith1983/verdict"

var (
	initOnce        sync.Once
	runsCounter     metric.Int64Counter
	decisionCounter metric.Int64Counter
	llmDuration     metric.Float64Histogram
)

// Init creates the OpenTelemetry instruments on the global meter provider.
// Safe to call multiple times; only runs once. Without a configured provider
// the instruments are no-ops.
func Init() error {
	var err error
	initOnce.Do(func() {
		m := otel.Meter(meterName)
		runsCounter, err = m.Int64Counter("verdict_runs_total", metric.WithDescription("Evaluation runs by type and terminal status"))
		if err != nil {
			return
		}
		decisionCounter, err = m.Int64Counter("verdict_decisions_total", metric.WithDescription("Aggregated decisions by label"))
		if err != nil {
			return
		}
		llmDuration, err = m.Float64Histogram("verdict_llm_call_duration_seconds", metric.WithDescription("LLM call duration in seconds"))
	})
	return err
}

// RecordRun records a run reaching a terminal status.
func RecordRun(ctx context.Context, runType, status string) {
	switch status {
	case "COMPLETED":
		RunsCompleted.Add(1)
	case "FAILED":
		RunsFailed.Add(1)
	}
	if runsCounter != nil {
		runsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("run_type", runType),
			attribute.String("status", status),
		))
	}
}

// RecordDecision records an aggregated decision.
func RecordDecision(ctx context.Context, label string, veto bool) {
	if veto {
		VetoesApplied.Add(1)
	}
	if decisionCounter != nil {
		decisionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("decision", label),
			attribute.Bool("veto", veto),
		))
	}
}

// RecordLLMCall records the duration of one LLM call for step and persona.
func RecordLLMCall(ctx context.Context, step, personaID string, d time.Duration, err error) {
	if step == "review" {
		PersonaCalls.Add(1)
	}
	if llmDuration != nil {
		llmDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("persona", personaID),
			attribute.Bool("error", err != nil),
		))
	}
}
