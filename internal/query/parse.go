// Package query implements query understanding: converting free-text
// questions into a StructuredQuery via temporal parsing, rule-based intent
// classification, entity extraction, and detail-level analysis.
package query

import (
	"time"

	"github.com/google/uuid"

	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

const maxQueryLength = 1000

// Parse converts a free-text query and patient id into a StructuredQuery.
// Fails with InvalidInput when query is empty or exceeds 1,000 characters,
// or when patient_id is empty.
func Parse(original, patientID string) (clinical.StructuredQuery, error) {
	if original == "" || len(original) > maxQueryLength {
		return clinical.StructuredQuery{}, errs.New(errs.InvalidInput, "query must be non-empty and at most 1000 characters")
	}
	if patientID == "" {
		return clinical.StructuredQuery{}, errs.New(errs.InvalidInput, "patient_id is required")
	}

	now := time.Now()

	temporal := ParseTemporal(original, now)
	intent, _, ambiguous := ClassifyIntent(original)
	entities := ExtractEntities(original)
	detailLevel := DetermineDetailLevel(original, entities, temporal, intent)
	filters := BuildFilters(intent, temporal)

	return clinical.StructuredQuery{
		QueryID:         uuid.NewString(),
		OriginalQuery:   original,
		PatientID:       patientID,
		Intent:          intent,
		AmbiguousIntent: ambiguous,
		Entities:        entities,
		TemporalFilter:  temporal,
		Filters:         filters,
		DetailLevel:     detailLevel,
	}, nil
}
