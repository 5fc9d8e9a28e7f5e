// Package prompt assembles the LLM prompt for one answered query: a system
// prompt, a context section built from retrieval candidates, the user query
// with emphasized entities, and intent-specific reasoning instructions.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// Style selects the reasoning-instruction register.
type Style string

const (
	StyleConcise  Style = "concise"
	StyleDetailed Style = "detailed"
)

// Config controls prompt assembly.
type Config struct {
	MaxContextChunks int
	Style            Style
}

// DefaultConfig returns the default prompt assembly settings.
func DefaultConfig() Config {
	return Config{MaxContextChunks: 10, Style: StyleDetailed}
}

// Build assembles the four-section prompt: system prompt, context,
// query, and reasoning instructions.
func Build(cfg Config, sq clinical.StructuredQuery, candidates []clinical.RetrievalCandidate, now time.Time) string {
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = 10
	}
	if len(candidates) > cfg.MaxContextChunks {
		candidates = candidates[:cfg.MaxContextChunks]
	}

	var b strings.Builder
	b.WriteString(systemPrompt())
	b.WriteString("\n\n")
	b.WriteString(contextSection(candidates, now))
	b.WriteString("\n\n")
	b.WriteString(querySection(sq))
	b.WriteString("\n\n")
	b.WriteString(reasoningInstructions(sq.Intent, cfg.Style))
	return b.String()
}

func systemPrompt() string {
	return "You are a clinical assistant answering questions about a single patient's " +
		"medical record. Ground every statement in the context provided below; never " +
		"state a fact that is not supported by a source chunk. Distinguish current " +
		"status from historical status explicitly (e.g. a discontinued medication is " +
		"not a current medication). If the context does not contain enough information " +
		"to answer, say so rather than guessing."
}

// contextSection groups candidates by artifact type, in the order each type
// first appears among the ranked candidates, and annotates each chunk with
// its occurrence date (absolute and relative) and enriched relationship
// text computed during ingestion.
func contextSection(candidates []clinical.RetrievalCandidate, now time.Time) string {
	if len(candidates) == 0 {
		return "CONTEXT:\n(no matching records found)"
	}

	var order []clinical.ArtifactType
	seen := map[clinical.ArtifactType]bool{}
	grouped := map[clinical.ArtifactType][]clinical.RetrievalCandidate{}
	for _, c := range candidates {
		t := c.Chunk.ArtifactType
		if !seen[t] {
			seen[t] = true
			order = append(order, t)
		}
		grouped[t] = append(grouped[t], c)
	}

	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	for _, t := range order {
		fmt.Fprintf(&b, "## %s\n", artifactTypeLabel(t))
		for _, c := range grouped[t] {
			text := c.Chunk.EnrichedText
			if text == "" {
				text = c.Chunk.Text
			}
			when := c.Chunk.OccurredAt.Format("2006-01-02")
			fmt.Fprintf(&b, "- [%s, %s] %s\n", when, humanizeAgo(c.Chunk.OccurredAt, now), text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func querySection(sq clinical.StructuredQuery) string {
	var b strings.Builder
	b.WriteString("QUERY:\n")
	b.WriteString(sq.OriginalQuery)
	if len(sq.Entities) > 0 {
		values := make([]string, 0, len(sq.Entities))
		for _, e := range sq.Entities {
			values = append(values, e.Value)
		}
		fmt.Fprintf(&b, "\nEmphasized terms: %s", strings.Join(values, ", "))
	}
	return b.String()
}

// reasoningInstructions adds intent-specific grounding rules on top of the
// style-driven length constraint. Medication queries in particular must
// dedupe by normalized name and report a count consistent with the
// detailed answer.
func reasoningInstructions(intent clinical.Intent, style Style) string {
	var b strings.Builder
	b.WriteString("INSTRUCTIONS:\n")
	if style == StyleConcise {
		b.WriteString("- Answer in 1-3 sentences. Do not introduce information absent from the context.\n")
	} else {
		b.WriteString("- Provide a short answer followed by a more detailed summary. Do not introduce information absent from the context.\n")
	}

	switch intent {
	case clinical.IntentRetrieveMedications:
		b.WriteString("- Deduplicate medications by normalized name (case-insensitive, ignoring dosage form). Report the most recent occurrence of each. State the total count of distinct medications, and keep that count identical between the short answer and the detailed summary.\n")
	case clinical.IntentRetrieveCarePlans:
		b.WriteString("- List each distinct care plan goal once, noting its current status.\n")
	case clinical.IntentRetrieveNotes:
		b.WriteString("- Order notes chronologically, most recent first, and attribute each to its author when known.\n")
	case clinical.IntentSummary:
		b.WriteString("- Organize the summary by clinical topic (conditions, medications, recent encounters) rather than by source document.\n")
	case clinical.IntentComparison:
		b.WriteString("- Explicitly state what changed between the compared time points, not just what is true at each point.\n")
	case clinical.IntentRetrieveAll:
		b.WriteString("- Cover every artifact type present in the context at least once.\n")
	}
	b.WriteString("- Respond with a single JSON object of the form " +
		`{"short_answer": "...", "detailed_summary": "...", "extractions": ` +
		`[{"type": "...", "content": {...}, "artifact_id": "...", "chunk_id": "...", "confidence": 0.0}]}` +
		". Every extraction's artifact_id and chunk_id must identify a chunk from the CONTEXT section above.\n")
	return strings.TrimRight(b.String(), "\n")
}

var artifactTypeLabels = map[clinical.ArtifactType]string{
	clinical.ArtifactNote:            "Notes",
	clinical.ArtifactDocument:        "Documents",
	clinical.ArtifactMedication:      "Medications",
	clinical.ArtifactCondition:       "Conditions",
	clinical.ArtifactAllergy:         "Allergies",
	clinical.ArtifactCarePlan:        "Care Plans",
	clinical.ArtifactFormResponse:    "Form Responses",
	clinical.ArtifactMessage:         "Messages",
	clinical.ArtifactLabObservation:  "Lab Observations",
	clinical.ArtifactVital:           "Vitals",
	clinical.ArtifactAppointment:     "Appointments",
	clinical.ArtifactSuperbill:       "Superbills",
	clinical.ArtifactInsurancePolicy: "Insurance Policies",
	clinical.ArtifactTask:            "Tasks",
	clinical.ArtifactFamilyHistory:   "Family History",
	clinical.ArtifactIntakeFlow:      "Intake Flows",
	clinical.ArtifactForm:            "Forms",
}

func artifactTypeLabel(t clinical.ArtifactType) string {
	if label, ok := artifactTypeLabels[t]; ok {
		return label
	}
	return strings.Title(strings.ReplaceAll(string(t), "_", " "))
}

// humanizeAgo renders the elapsed time between t and now as a short phrase
// such as "3 weeks ago" for use in context annotations.
func humanizeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "date unknown"
	}
	d := now.Sub(t)
	if d < 0 {
		return "in the future"
	}
	switch {
	case d < 24*time.Hour:
		return "today"
	case d < 48*time.Hour:
		return "yesterday"
	case d < 7*24*time.Hour:
		n := int(d.Hours() / 24)
		return pluralize(n, "day") + " ago"
	case d < 30*24*time.Hour:
		n := int(d.Hours() / (24 * 7))
		if n < 1 {
			n = 1
		}
		return pluralize(n, "week") + " ago"
	case d < 365*24*time.Hour:
		n := int(d.Hours() / (24 * 30))
		if n < 1 {
			n = 1
		}
		return pluralize(n, "month") + " ago"
	default:
		n := int(d.Hours() / (24 * 365))
		if n < 1 {
			n = 1
		}
		return pluralize(n, "year") + " ago"
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
