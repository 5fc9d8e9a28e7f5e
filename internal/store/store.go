// Package store implements the VectorStore and MetadataStore contracts
// against a single Postgres database, consolidating chunk content and
// its embedding in one table, extended with the quality tables required
// for conversation history and quality-assurance persistence.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliniquery/cliniquery/internal/auth"
)

// Store is both the VectorStore and MetadataStore implementation, backed
// by one connection pool.
type Store struct {
	pool   *pgxpool.Pool
	dim    int
	signer *auth.Signer
}

// New opens a connection pool against url, capping pool size at
// maxConns. signer may be nil, in which case conversation records are
// persisted unsigned.
func New(ctx context.Context, url string, dim int, maxConns int32, signer *auth.Signer) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return &Store{pool: pool, dim: dim, signer: signer}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity within a bounded timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Migrate applies idempotent schema migrations: chunks plus the six
// quality tables, all CREATE TABLE/INDEX IF NOT EXISTS and ADD COLUMN IF
// NOT EXISTS so repeated startups never fail.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id                TEXT PRIMARY KEY,
			artifact_id             TEXT NOT NULL,
			patient_id              TEXT NOT NULL,
			artifact_type           TEXT NOT NULL,
			occurred_at             TIMESTAMPTZ NOT NULL,
			author                  TEXT,
			chunk_text              TEXT NOT NULL,
			enriched_text           TEXT,
			source_url              TEXT,
			extracted_entities      TEXT[] NOT NULL DEFAULT '{}',
			relationship_ids        TEXT[] NOT NULL DEFAULT '{}',
			context_expansion_level INT NOT NULL DEFAULT 0,
			embedding               vector(%d),
			created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, s.dim),
		`ALTER TABLE chunks ADD COLUMN IF NOT EXISTS enriched_text TEXT;`,
		`ALTER TABLE chunks ADD COLUMN IF NOT EXISTS context_expansion_level INT NOT NULL DEFAULT 0;`,
		`CREATE INDEX IF NOT EXISTS chunks_patient_idx ON chunks (patient_id);`,
		`CREATE INDEX IF NOT EXISTS chunks_patient_type_idx ON chunks (patient_id, artifact_type);`,
		`CREATE INDEX IF NOT EXISTS chunks_occurred_at_idx ON chunks (occurred_at);`,
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);`,

		`CREATE TABLE IF NOT EXISTS conversation_history (
			id                  TEXT PRIMARY KEY,
			patient_id          TEXT NOT NULL,
			query               TEXT NOT NULL,
			query_intent        TEXT,
			query_timestamp     TIMESTAMPTZ NOT NULL,
			short_answer        TEXT,
			detailed_summary    TEXT,
			model_used          TEXT,
			sources             TEXT[] NOT NULL DEFAULT '{}',
			integrity_signature TEXT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS conversation_history_patient_idx
			ON conversation_history (patient_id, query_timestamp DESC);`,

		`CREATE TABLE IF NOT EXISTS grounding_verification (
			conversation_id        TEXT PRIMARY KEY REFERENCES conversation_history(id) ON DELETE CASCADE,
			grounding_score        DOUBLE PRECISION NOT NULL,
			unsupported_statements TEXT[] NOT NULL DEFAULT '{}',
			warnings               TEXT[] NOT NULL DEFAULT '{}',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`CREATE TABLE IF NOT EXISTS consistency_checks (
			conversation_id   TEXT PRIMARY KEY REFERENCES conversation_history(id) ON DELETE CASCADE,
			consistency_score DOUBLE PRECISION NOT NULL,
			contradictions    TEXT NOT NULL DEFAULT '[]',
			warnings          TEXT[] NOT NULL DEFAULT '{}',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`CREATE TABLE IF NOT EXISTS confidence_metrics (
			conversation_id        TEXT PRIMARY KEY REFERENCES conversation_history(id) ON DELETE CASCADE,
			overall_confidence     DOUBLE PRECISION NOT NULL,
			uncertainty_level      TEXT NOT NULL,
			low_confidence_reasons TEXT[] NOT NULL DEFAULT '{}',
			created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`CREATE TABLE IF NOT EXISTS hallucination_detections (
			conversation_id        TEXT PRIMARY KEY REFERENCES conversation_history(id) ON DELETE CASCADE,
			hallucination_risk     DOUBLE PRECISION NOT NULL,
			hallucination_detected BOOLEAN NOT NULL,
			risk_level             TEXT NOT NULL,
			method                 TEXT NOT NULL,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,

		`CREATE TABLE IF NOT EXISTS quality_trends (
			id              BIGSERIAL PRIMARY KEY,
			patient_id      TEXT NOT NULL,
			window_start    TIMESTAMPTZ NOT NULL,
			window_end      TIMESTAMPTZ NOT NULL,
			avg_grounding   DOUBLE PRECISION NOT NULL,
			avg_consistency DOUBLE PRECISION NOT NULL,
			avg_confidence  DOUBLE PRECISION NOT NULL,
			avg_overall     DOUBLE PRECISION NOT NULL,
			sample_count    INT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS quality_trends_patient_idx ON quality_trends (patient_id, window_start);`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
