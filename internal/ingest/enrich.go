package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// Enrich computes enriched_text for a chunk by prepending a compact
// "Related Conditions: ..." / "Related Medications: ..." header inferred
// from the patient's other artifacts. The raw chunk text is left untouched
// so that grounding verification always checks against the original text;
// EnrichedText is only ever used to build prompt context.
func Enrich(chunk clinical.Chunk, patientArtifacts []clinical.Artifact) clinical.Chunk {
	conditions := collectNames(patientArtifacts, chunk.ArtifactID, clinical.ArtifactCondition)
	medications := collectNames(patientArtifacts, chunk.ArtifactID, clinical.ArtifactMedication)

	if len(conditions) == 0 && len(medications) == 0 {
		chunk.EnrichedText = chunk.Text
		return chunk
	}

	var header strings.Builder
	if len(conditions) > 0 {
		fmt.Fprintf(&header, "Related Conditions: %s. ", strings.Join(conditions, ", "))
	}
	if len(medications) > 0 {
		fmt.Fprintf(&header, "Related Medications: %s. ", strings.Join(medications, ", "))
	}

	chunk.EnrichedText = strings.TrimSpace(header.String()) + "\n" + chunk.Text
	return chunk
}

// collectNames gathers a sorted, de-duplicated set of artifact titles of the
// given type belonging to the same patient, excluding the source artifact
// itself.
func collectNames(artifacts []clinical.Artifact, excludeArtifactID string, artifactType clinical.ArtifactType) []string {
	seen := map[string]bool{}
	for _, a := range artifacts {
		if a.ID == excludeArtifactID || a.Type != artifactType {
			continue
		}
		name := strings.TrimSpace(a.Title)
		if name == "" {
			name = strings.TrimSpace(a.Meta["name"])
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
