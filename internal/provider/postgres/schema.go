// Package postgres implements the Provider interface on Postgres. Write-once
// and uniqueness rules are primary keys; cascade deletes are foreign keys.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    parent_run_id TEXT REFERENCES runs (id) ON DELETE CASCADE,
    status        TEXT NOT NULL,
    run_type      TEXT NOT NULL,
    version       INTEGER NOT NULL,
    doc           JSONB NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    CONSTRAINT runs_parent_not_self CHECK (parent_run_id IS NULL OR parent_run_id <> id)
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs (status);
CREATE INDEX IF NOT EXISTS idx_runs_parent ON runs (parent_run_id, created_at);

CREATE TABLE IF NOT EXISTS proposal_versions (
    run_id     TEXT PRIMARY KEY REFERENCES runs (id) ON DELETE CASCADE,
    doc        JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS persona_reviews (
    run_id           TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    persona_id       TEXT NOT NULL,
    confidence_score DOUBLE PRECISION NOT NULL,
    reused           BOOLEAN NOT NULL DEFAULT FALSE,
    doc              JSONB NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, persona_id)
);

CREATE TABLE IF NOT EXISTS decisions (
    run_id                      TEXT PRIMARY KEY REFERENCES runs (id) ON DELETE CASCADE,
    overall_weighted_confidence DOUBLE PRECISION NOT NULL,
    decision                    TEXT NOT NULL,
    doc                         JSONB NOT NULL,
    created_at                  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id        BIGSERIAL PRIMARY KEY,
    run_id    TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
    kind      TEXT NOT NULL,
    doc       JSONB NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events (run_id, id);
`
