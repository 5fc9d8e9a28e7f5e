package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// VectorResult is one hit from a vector-store similarity search.
type VectorResult struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorStats reports coarse vector-store sizing.
type VectorStats struct {
	TotalVectors int
	IDMappings   int
}

// VectorStore is the contract required of the embedding index.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error
	Search(ctx context.Context, vector []float32, k int) ([]VectorResult, error)
	SimilarityForIDs(ctx context.Context, vector []float32, ids []string) (map[string]float64, error)
	Load(ctx context.Context) error
	Save(ctx context.Context) error
	Stats(ctx context.Context) (VectorStats, error)
}

// MetadataStore is the relational contract required for chunk storage.
type MetadataStore interface {
	UpsertChunk(ctx context.Context, chunk clinical.Chunk, embedding []float32) error
	ChunkByID(ctx context.Context, chunkID string) (clinical.Chunk, bool, error)
	ChunksByPatient(ctx context.Context, patientID string, filters clinical.Filters) ([]clinical.Chunk, error)
	PatientHasChunks(ctx context.Context, patientID string) (bool, error)
	AllChunks(ctx context.Context) ([]clinical.Chunk, error)
}

// UpsertChunk writes a chunk's metadata and embedding, idempotent on
// chunk_id: chunk_id is itself content-addressed from
// patient_id+artifact_id+text, so a conflict here always means
// identical content.
func (s *Store) UpsertChunk(ctx context.Context, c clinical.Chunk, embedding []float32) error {
	var vec any
	if embedding != nil {
		vec = pgvector.NewVector(embedding)
	}
	const q = `
		INSERT INTO chunks (
			chunk_id, artifact_id, patient_id, artifact_type, occurred_at, author,
			chunk_text, enriched_text, source_url, extracted_entities, relationship_ids, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (chunk_id) DO UPDATE SET
			enriched_text      = EXCLUDED.enriched_text,
			extracted_entities = EXCLUDED.extracted_entities,
			relationship_ids   = EXCLUDED.relationship_ids,
			embedding          = COALESCE(EXCLUDED.embedding, chunks.embedding)`
	_, err := s.pool.Exec(ctx, q,
		c.ChunkID, c.ArtifactID, c.PatientID, string(c.ArtifactType), c.OccurredAt, c.Author,
		c.Text, c.EnrichedText, c.Source, c.ExtractedEntities, c.RelationshipIDs, vec,
	)
	if err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	return nil
}

// ChunkByID fetches a single chunk by its content-addressed id.
func (s *Store) ChunkByID(ctx context.Context, chunkID string) (clinical.Chunk, bool, error) {
	const q = `
		SELECT chunk_id, artifact_id, patient_id, artifact_type, occurred_at, author,
		       chunk_text, enriched_text, source_url, extracted_entities, relationship_ids
		FROM chunks WHERE chunk_id = $1`
	row := s.pool.QueryRow(ctx, q, chunkID)
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return clinical.Chunk{}, false, nil
		}
		return clinical.Chunk{}, false, err
	}
	return c, true, nil
}

// ChunksByPatient returns every chunk matching the given
// {patient_id, artifact_types?, date_range?} predicates; an unknown
// patient yields an empty slice, not an error.
func (s *Store) ChunksByPatient(ctx context.Context, patientID string, filters clinical.Filters) ([]clinical.Chunk, error) {
	q := `
		SELECT chunk_id, artifact_id, patient_id, artifact_type, occurred_at, author,
		       chunk_text, enriched_text, source_url, extracted_entities, relationship_ids
		FROM chunks WHERE patient_id = $1`
	args := []any{patientID}

	if len(filters.ArtifactTypes) > 0 {
		types := make([]string, len(filters.ArtifactTypes))
		for i, t := range filters.ArtifactTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		q += fmt.Sprintf(" AND artifact_type = ANY($%d)", len(args))
	}
	if filters.DateRange != nil {
		if !filters.DateRange.From.IsZero() {
			args = append(args, filters.DateRange.From)
			q += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
		}
		if !filters.DateRange.To.IsZero() {
			args = append(args, filters.DateRange.To)
			q += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
		}
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []clinical.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PatientHasChunks reports whether a patient has any indexed chunks at
// all, used to surface NotFound before running retrieval.
func (s *Store) PatientHasChunks(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM chunks WHERE patient_id = $1)`, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient chunks: %w", err)
	}
	return exists, nil
}

// AllChunks returns every indexed chunk, used to rebuild the
// process-wide BM25 index when the API server starts against an
// already populated metadata store.
func (s *Store) AllChunks(ctx context.Context) ([]clinical.Chunk, error) {
	const q = `
		SELECT chunk_id, artifact_id, patient_id, artifact_type, occurred_at, author,
		       chunk_text, enriched_text, source_url, extracted_entities, relationship_ids
		FROM chunks`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query all chunks: %w", err)
	}
	defer rows.Close()

	var out []clinical.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// rowScanner abstracts pgx.Row / pgx.Rows for scanChunk.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (clinical.Chunk, error) {
	var c clinical.Chunk
	var artifactType string
	var enrichedText, sourceURL *string
	err := row.Scan(
		&c.ChunkID, &c.ArtifactID, &c.PatientID, &artifactType, &c.OccurredAt, &c.Author,
		&c.Text, &enrichedText, &sourceURL, &c.ExtractedEntities, &c.RelationshipIDs,
	)
	if err != nil {
		return clinical.Chunk{}, err
	}
	c.ArtifactType = clinical.ArtifactType(artifactType)
	if enrichedText != nil {
		c.EnrichedText = *enrichedText
	}
	if sourceURL != nil {
		c.Source = *sourceURL
	}
	return c, nil
}

// Add implements VectorStore.Add by upserting bare embedding rows; callers
// that also have full chunk metadata should prefer UpsertChunk directly.
func (s *Store) Add(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("add: %d ids but %d vectors", len(ids), len(vectors))
	}
	for i, id := range ids {
		vec := pgvector.NewVector(vectors[i])
		if _, err := s.pool.Exec(ctx,
			`UPDATE chunks SET embedding = $1 WHERE chunk_id = $2`, vec, id); err != nil {
			return fmt.Errorf("add vector %s: %w", id, err)
		}
	}
	return nil
}

// Search performs cosine-similarity nearest-neighbor search over the
// embedding column, returning similarity scores in [-1,1] (typically
// [0,1] for normalized embeddings).
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]VectorResult, error) {
	vec := pgvector.NewVector(vector)
	const q = `
		SELECT chunk_id, patient_id, artifact_type, 1 - (embedding <=> $1) AS score
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []VectorResult
	for rows.Next() {
		var r VectorResult
		var patientID, artifactType string
		if err := rows.Scan(&r.ID, &patientID, &artifactType, &r.Score); err != nil {
			return nil, err
		}
		r.Metadata = map[string]string{"patient_id": patientID, "artifact_type": artifactType}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SimilarityForIDs computes cosine similarity between vector and exactly
// the given chunk ids, letting the retrieval pipeline score dense
// similarity against a metadata-filtered candidate set rather than a
// fresh global k-NN search. Uses the same cosine_distance operator as
// Search.
func (s *Store) SimilarityForIDs(ctx context.Context, vector []float32, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	vec := pgvector.NewVector(vector)
	const q = `
		SELECT chunk_id, 1 - (embedding <=> $1) AS score
		FROM chunks
		WHERE chunk_id = ANY($2) AND embedding IS NOT NULL`
	rows, err := s.pool.Query(ctx, q, vec, ids)
	if err != nil {
		return nil, fmt.Errorf("similarity for ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64, len(ids))
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		out[id] = score
	}
	return out, rows.Err()
}

// Load and Save are no-ops: pgvector persists continuously, unlike the
// in-process index (chromadb/faiss) the contract was originally written
// against.
func (s *Store) Load(ctx context.Context) error { return nil }
func (s *Store) Save(ctx context.Context) error { return nil }

// Stats reports the current vector count.
func (s *Store) Stats(ctx context.Context) (VectorStats, error) {
	var total int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&total)
	if err != nil {
		return VectorStats{}, fmt.Errorf("vector stats: %w", err)
	}
	return VectorStats{TotalVectors: total, IDMappings: total}, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// error, which pgx surfaces as SQLSTATE 23505; wrapWriteErr maps it to an
// IntegrityViolation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLSTATE 23505")
}

func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return errs.Wrap(errs.IntegrityViolation, op+": duplicate write", err)
	}
	return errs.Wrap(errs.QualityPersistenceError, op, err)
}
