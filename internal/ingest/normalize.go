// Package ingest normalizes raw EMR records into clinical.Artifact values,
// chunks and enriches artifact text, and drives the bulk reindex CLI.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// RawRecord is the shape a (nominally out-of-scope) EMR source hands the
// normalizer: a loosely-typed bag of fields that varies by artifact type.
type RawRecord struct {
	ID         string
	PatientID  string
	Type       clinical.ArtifactType
	Author     string
	Title      string
	Source     string
	Fields     map[string]string
	OccurredAt *time.Time // nil when the source has no reliable timestamp field
}

// Warning is a non-fatal normalization note surfaced to the caller, e.g.
// a missing occurred_at field resolved by fallback.
type Warning struct {
	ArtifactID string
	Message    string
}

// occurredAtFields lists, per artifact type, the raw field names checked in
// order for a usable timestamp. The first non-empty value wins.
var occurredAtFields = map[clinical.ArtifactType][]string{
	clinical.ArtifactMedication:     {"start_date", "prescribed_date", "recorded_date"},
	clinical.ArtifactCondition:      {"onset_date", "recorded_date"},
	clinical.ArtifactLabObservation: {"collected_date", "resulted_date"},
	clinical.ArtifactVital:          {"measured_date"},
	clinical.ArtifactNote:           {"note_date", "signed_date"},
	clinical.ArtifactAppointment:    {"scheduled_date"},
}

// Normalize converts a RawRecord into a clinical.Artifact, synthesizing
// `Text` from structured fields when the source didn't already provide
// prose, and falling back to the current instant (with a Warning) when no
// occurred_at field is usable.
func Normalize(raw RawRecord, now time.Time) (clinical.Artifact, []Warning) {
	var warnings []Warning

	occurredAt := now
	if raw.OccurredAt != nil {
		occurredAt = *raw.OccurredAt
	} else if v, ok := firstNonEmptyField(raw); ok {
		if t, err := parseFlexibleDate(v); err == nil {
			occurredAt = t
		} else {
			warnings = append(warnings, Warning{
				ArtifactID: raw.ID,
				Message:    fmt.Sprintf("occurred_at field %q unparseable (%v), falling back to now", v, err),
			})
		}
	} else {
		warnings = append(warnings, Warning{
			ArtifactID: raw.ID,
			Message:    "no occurred_at field present, falling back to now",
		})
	}

	text := synthesizeText(raw)

	return clinical.Artifact{
		ID:         raw.ID,
		PatientID:  raw.PatientID,
		Type:       raw.Type,
		OccurredAt: occurredAt,
		Author:     raw.Author,
		Title:      raw.Title,
		Text:       text,
		Source:     raw.Source,
		Meta:       raw.Fields,
	}, warnings
}

// firstNonEmptyField returns the first populated candidate timestamp field
// for raw's artifact type.
func firstNonEmptyField(raw RawRecord) (string, bool) {
	for _, name := range occurredAtFields[raw.Type] {
		if v := strings.TrimSpace(raw.Fields[name]); v != "" {
			return v, true
		}
	}
	return "", false
}

func parseFlexibleDate(v string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05", "01/02/2006"}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// synthesizeText builds prose from structured fields when the source has no
// free-text body, following the per-type templates from the normalization
// contract (e.g. medications yield "Medication: ... Dosage: ...").
func synthesizeText(raw RawRecord) string {
	if body := strings.TrimSpace(raw.Fields["text"]); body != "" {
		return body
	}

	var b strings.Builder
	switch raw.Type {
	case clinical.ArtifactMedication:
		fmt.Fprintf(&b, "Medication: %s. ", orUnknown(raw.Fields["name"]))
		fmt.Fprintf(&b, "Dosage: %s. ", orUnknown(raw.Fields["dosage"]))
		fmt.Fprintf(&b, "Frequency: %s. ", orUnknown(raw.Fields["frequency"]))
		fmt.Fprintf(&b, "Indication: %s.", orUnknown(raw.Fields["indication"]))
	case clinical.ArtifactCondition:
		fmt.Fprintf(&b, "Condition: %s. ", orUnknown(raw.Fields["name"]))
		fmt.Fprintf(&b, "Status: %s. ", orUnknown(raw.Fields["status"]))
		fmt.Fprintf(&b, "Onset: %s.", orUnknown(raw.Fields["onset_date"]))
	case clinical.ArtifactAllergy:
		fmt.Fprintf(&b, "Allergy: %s. ", orUnknown(raw.Fields["substance"]))
		fmt.Fprintf(&b, "Reaction: %s. ", orUnknown(raw.Fields["reaction"]))
		fmt.Fprintf(&b, "Severity: %s.", orUnknown(raw.Fields["severity"]))
	case clinical.ArtifactLabObservation:
		fmt.Fprintf(&b, "Lab: %s. ", orUnknown(raw.Fields["test_name"]))
		fmt.Fprintf(&b, "Result: %s %s. ", orUnknown(raw.Fields["value"]), raw.Fields["unit"])
		fmt.Fprintf(&b, "Reference Range: %s.", orUnknown(raw.Fields["reference_range"]))
	case clinical.ArtifactVital:
		fmt.Fprintf(&b, "Vital: %s. ", orUnknown(raw.Fields["name"]))
		fmt.Fprintf(&b, "Value: %s %s.", orUnknown(raw.Fields["value"]), raw.Fields["unit"])
	default:
		fmt.Fprintf(&b, "%s", orUnknown(raw.Title))
	}
	return strings.TrimSpace(b.String())
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
