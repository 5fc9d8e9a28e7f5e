package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cliniquery/cliniquery/internal/auth"
	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// ConversationStore is the persistence contract for conversation turns
// and their quality-assurance records, plus the recent_queries lookup
// used by the CLI and API transports.
type ConversationStore interface {
	SaveConversation(ctx context.Context, rec clinical.ConversationRecord) error
	SaveGroundingVerification(ctx context.Context, conversationID string, score float64, unsupported, warnings []string) error
	SaveConsistencyCheck(ctx context.Context, conversationID string, score float64, contradictions []clinical.Contradiction, warnings []string) error
	SaveConfidenceMetrics(ctx context.Context, conversationID string, overall float64, uncertaintyLevel string, lowConfidenceReasons []string) error
	SaveHallucinationDetection(ctx context.Context, conversationID string, risk float64, detected bool, riskLevel, method string) error
	SaveQualityTrend(ctx context.Context, patientID string, windowStart, windowEnd time.Time, avgGrounding, avgConsistency, avgConfidence, avgOverall float64, sampleCount int) error
	RecentConversations(ctx context.Context, patientID string, limit int) ([]clinical.ConversationRecord, error)
	ConversationsSince(ctx context.Context, patientID string, since time.Time, excludeID string) ([]clinical.ConversationRecord, error)
}

// SaveConversation persists one answered query. When the store has a
// signer configured, the record's content hash is HMAC-signed so a later
// reader can detect tampering. A second insert for the same id is a
// schema-level unique violation, surfaced as IntegrityViolation.
func (s *Store) SaveConversation(ctx context.Context, rec clinical.ConversationRecord) error {
	signature := rec.IntegritySignature
	if s.signer != nil {
		hash := auth.ContentHash(rec.ID, rec.ShortAnswer, rec.DetailedSummary, rec.Quality.OverallQualityScore)
		signed, err := s.signer.Sign(rec.ID, hash)
		if err != nil {
			return errs.Wrap(errs.QualityPersistenceError, "sign conversation record", err)
		}
		signature = signed
	}

	const q = `
		INSERT INTO conversation_history (
			id, patient_id, query, query_intent, query_timestamp,
			short_answer, detailed_summary, model_used, sources, integrity_signature
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.pool.Exec(ctx, q,
		rec.ID, rec.PatientID, rec.Query, string(rec.QueryIntent), rec.QueryTimestamp,
		rec.ShortAnswer, rec.DetailedSummary, rec.ModelUsed, rec.Sources, signature,
	)
	return wrapWriteErr("save conversation", err)
}

// SaveGroundingVerification persists one conversation's grounding
// result. conversation_id is the table's primary key, so a repeat write
// for the same conversation fails with IntegrityViolation.
func (s *Store) SaveGroundingVerification(ctx context.Context, conversationID string, score float64, unsupported, warnings []string) error {
	const q = `
		INSERT INTO grounding_verification (conversation_id, grounding_score, unsupported_statements, warnings)
		VALUES ($1,$2,$3,$4)`
	_, err := s.pool.Exec(ctx, q, conversationID, score, unsupported, warnings)
	return wrapWriteErr("save grounding verification", err)
}

// SaveConsistencyCheck persists one consistency-check result;
// contradictions are serialized as JSON since they carry nested
// structure.
func (s *Store) SaveConsistencyCheck(ctx context.Context, conversationID string, score float64, contradictions []clinical.Contradiction, warnings []string) error {
	blob, err := json.Marshal(contradictions)
	if err != nil {
		return errs.Wrap(errs.QualityPersistenceError, "marshal contradictions", err)
	}
	const q = `
		INSERT INTO consistency_checks (conversation_id, consistency_score, contradictions, warnings)
		VALUES ($1,$2,$3,$4)`
	_, err = s.pool.Exec(ctx, q, conversationID, score, string(blob), warnings)
	return wrapWriteErr("save consistency check", err)
}

// SaveConfidenceMetrics persists one confidence-aggregation result.
func (s *Store) SaveConfidenceMetrics(ctx context.Context, conversationID string, overall float64, uncertaintyLevel string, lowConfidenceReasons []string) error {
	const q = `
		INSERT INTO confidence_metrics (conversation_id, overall_confidence, uncertainty_level, low_confidence_reasons)
		VALUES ($1,$2,$3,$4)`
	_, err := s.pool.Exec(ctx, q, conversationID, overall, uncertaintyLevel, lowConfidenceReasons)
	return wrapWriteErr("save confidence metrics", err)
}

// SaveHallucinationDetection persists one hallucination-detection result.
func (s *Store) SaveHallucinationDetection(ctx context.Context, conversationID string, risk float64, detected bool, riskLevel, method string) error {
	const q = `
		INSERT INTO hallucination_detections (conversation_id, hallucination_risk, hallucination_detected, risk_level, method)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := s.pool.Exec(ctx, q, conversationID, risk, detected, riskLevel, method)
	return wrapWriteErr("save hallucination detection", err)
}

// SaveQualityTrend persists an aggregated window for quality trend
// reporting.
func (s *Store) SaveQualityTrend(ctx context.Context, patientID string, windowStart, windowEnd time.Time, avgGrounding, avgConsistency, avgConfidence, avgOverall float64, sampleCount int) error {
	const q = `
		INSERT INTO quality_trends (
			patient_id, window_start, window_end, avg_grounding, avg_consistency, avg_confidence, avg_overall, sample_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, q, patientID, windowStart, windowEnd, avgGrounding, avgConsistency, avgConfidence, avgOverall, sampleCount)
	return wrapWriteErr("save quality trend", err)
}

// RecentConversations returns a patient's recent conversations, newest
// first.
func (s *Store) RecentConversations(ctx context.Context, patientID string, limit int) ([]clinical.ConversationRecord, error) {
	const q = `
		SELECT id, patient_id, query, query_intent, query_timestamp,
		       short_answer, detailed_summary, model_used, sources, integrity_signature
		FROM conversation_history
		WHERE patient_id = $1
		ORDER BY query_timestamp DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ConversationsSince fetches a patient's conversations since a given
// time, excluding one conversation id (the current one), for use in
// consistency checking.
func (s *Store) ConversationsSince(ctx context.Context, patientID string, since time.Time, excludeID string) ([]clinical.ConversationRecord, error) {
	const q = `
		SELECT id, patient_id, query, query_intent, query_timestamp,
		       short_answer, detailed_summary, model_used, sources, integrity_signature
		FROM conversation_history
		WHERE patient_id = $1 AND query_timestamp >= $2 AND id <> $3
		ORDER BY query_timestamp DESC`
	rows, err := s.pool.Query(ctx, q, patientID, since, excludeID)
	if err != nil {
		return nil, fmt.Errorf("conversations since: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

func scanConversations(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]clinical.ConversationRecord, error) {
	var out []clinical.ConversationRecord
	for rows.Next() {
		var rec clinical.ConversationRecord
		var intent string
		if err := rows.Scan(
			&rec.ID, &rec.PatientID, &rec.Query, &intent, &rec.QueryTimestamp,
			&rec.ShortAnswer, &rec.DetailedSummary, &rec.ModelUsed, &rec.Sources, &rec.IntegritySignature,
		); err != nil {
			return nil, err
		}
		rec.QueryIntent = clinical.Intent(intent)
		out = append(out, rec)
	}
	return out, rows.Err()
}
