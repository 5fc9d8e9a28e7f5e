// Package extract parses the LLM's JSON answer into a short answer, a
// detailed summary, and provenance-validated extractions.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/internal/textproc"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// rawExtraction is the wire shape the prompt builder instructs the LLM to
// emit for each extracted fact.
type rawExtraction struct {
	Type       string            `json:"type"`
	Content    map[string]string `json:"content"`
	ArtifactID string            `json:"artifact_id"`
	ChunkID    string            `json:"chunk_id"`
	Confidence float64           `json:"confidence"`
}

type rawResponse struct {
	ShortAnswer     string          `json:"short_answer"`
	DetailedSummary string          `json:"detailed_summary"`
	Extractions     []rawExtraction `json:"extractions"`
}

// Answer is the parsed, provenance-checked LLM output.
type Answer struct {
	ShortAnswer     string
	DetailedSummary string
	Extractions     []clinical.Extraction
	// RejectedCount is how many extractions the LLM emitted whose
	// artifact_id/chunk_id could not be mapped to a retrieval candidate.
	RejectedCount int
}

// Parse decodes llmOutput and validates every extraction's provenance
// against candidates, the exact chunk set the prompt was built from.
// Extractions that reference an artifact/chunk pair absent from candidates
// are dropped rather than surfaced.
func Parse(llmOutput string, candidates []clinical.RetrievalCandidate) (Answer, error) {
	object := extractJSONObject(llmOutput)
	if object == "" {
		return Answer{}, errs.New(errs.GenerationFailed, "llm output did not contain a JSON object")
	}

	var raw rawResponse
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return Answer{}, errs.Wrap(errs.GenerationFailed, "decode llm json output", err)
	}

	byChunk := make(map[string]clinical.Chunk, len(candidates))
	for _, c := range candidates {
		byChunk[c.Chunk.ChunkID] = c.Chunk
	}

	answer := Answer{
		ShortAnswer:     strings.TrimSpace(raw.ShortAnswer),
		DetailedSummary: strings.TrimSpace(raw.DetailedSummary),
	}

	for _, re := range raw.Extractions {
		chunk, ok := byChunk[re.ChunkID]
		if !ok || chunk.ArtifactID != re.ArtifactID {
			answer.RejectedCount++
			continue
		}

		text, start, end := supportingSentence(chunk.Text, re.Content)
		answer.Extractions = append(answer.Extractions, clinical.Extraction{
			Type:    re.Type,
			Content: re.Content,
			Provenance: clinical.Provenance{
				ArtifactID:     re.ArtifactID,
				ChunkID:        re.ChunkID,
				CharStart:      start,
				CharEnd:        end,
				SupportingText: text,
				Confidence:     re.Confidence,
			},
		})
	}

	return answer, nil
}

// supportingSentence picks the sentence of sourceText with the highest
// token overlap against the extraction's content values.
func supportingSentence(sourceText string, content map[string]string) (text string, start, end int) {
	wanted := map[string]bool{}
	for _, v := range content {
		for _, tok := range textproc.Tokenize(v) {
			wanted[tok] = true
		}
	}
	if len(wanted) == 0 {
		return "", 0, 0
	}

	spans := textproc.SplitSentences(sourceText, 0)
	bestOverlap := -1
	for _, span := range spans {
		sentence := sourceText[span.Start:span.End]
		overlap := 0
		for _, tok := range textproc.Tokenize(sentence) {
			if wanted[tok] {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			text = strings.TrimSpace(sentence)
			start, end = span.Start, span.End
		}
	}
	return text, start, end
}

// extractJSONObject returns the span of s from its first '{' to its last
// '}', tolerating surrounding prose or markdown code fences some local
// models add despite instructions. Text holding more than one JSON object
// yields a span that does not decode as a single object.
func extractJSONObject(s string) string {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first == -1 || last == -1 || last < first {
		return ""
	}
	return s[first : last+1]
}
