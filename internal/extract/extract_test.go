package extract

import (
	"testing"

	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

func errsIsGenerationFailed(err error) bool {
	return errs.Is(err, errs.GenerationFailed)
}

func sampleCandidates() []clinical.RetrievalCandidate {
	return []clinical.RetrievalCandidate{
		{
			Chunk: clinical.Chunk{
				ChunkID:    "c1",
				ArtifactID: "a1",
				Text:       "Metformin 500mg twice daily. Patient tolerates well.",
			},
		},
		{
			Chunk: clinical.Chunk{
				ChunkID:    "c2",
				ArtifactID: "a2",
				Text:       "Blood pressure was 130/80 at the visit.",
			},
		},
	}
}

func TestParseValidExtraction(t *testing.T) {
	raw := `{"short_answer": "Patient takes metformin.", "detailed_summary": "Patient is on metformin 500mg twice daily.", "extractions": [{"type": "medication", "content": {"name": "metformin", "dose": "500mg"}, "artifact_id": "a1", "chunk_id": "c1", "confidence": 0.9}]}`

	answer, err := Parse(raw, sampleCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.ShortAnswer != "Patient takes metformin." {
		t.Errorf("unexpected short answer: %q", answer.ShortAnswer)
	}
	if len(answer.Extractions) != 1 {
		t.Fatalf("expected 1 extraction, got %d", len(answer.Extractions))
	}
	ex := answer.Extractions[0]
	if ex.Provenance.ChunkID != "c1" || ex.Provenance.ArtifactID != "a1" {
		t.Errorf("unexpected provenance: %+v", ex.Provenance)
	}
	if ex.Provenance.SupportingText != "Metformin 500mg twice daily." {
		t.Errorf("unexpected supporting text: %q", ex.Provenance.SupportingText)
	}
	if answer.RejectedCount != 0 {
		t.Errorf("expected no rejections, got %d", answer.RejectedCount)
	}
}

func TestParseRejectsUnmappableChunk(t *testing.T) {
	raw := `{"short_answer": "x", "detailed_summary": "y", "extractions": [{"type": "medication", "content": {"name": "metformin"}, "artifact_id": "a9", "chunk_id": "c9", "confidence": 0.8}]}`

	answer, err := Parse(raw, sampleCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.Extractions) != 0 {
		t.Errorf("expected extraction to be rejected, got %+v", answer.Extractions)
	}
	if answer.RejectedCount != 1 {
		t.Errorf("expected RejectedCount=1, got %d", answer.RejectedCount)
	}
}

func TestParseRejectsMismatchedArtifactForChunk(t *testing.T) {
	raw := `{"short_answer": "x", "detailed_summary": "y", "extractions": [{"type": "medication", "content": {"name": "metformin"}, "artifact_id": "wrong-artifact", "chunk_id": "c1", "confidence": 0.8}]}`

	answer, err := Parse(raw, sampleCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answer.Extractions) != 0 {
		t.Errorf("expected extraction to be rejected due to artifact/chunk mismatch, got %+v", answer.Extractions)
	}
}

func TestParseNoJSONObjectReturnsGenerationFailed(t *testing.T) {
	_, err := Parse("I cannot answer that.", sampleCandidates())
	if err == nil {
		t.Fatal("expected an error for non-JSON output")
	}
	if !errsIsGenerationFailed(err) {
		t.Errorf("expected GenerationFailed kind, got %v", err)
	}
}

func TestParseMalformedJSONReturnsGenerationFailed(t *testing.T) {
	_, err := Parse(`{"short_answer": "x", "extractions": [}`, sampleCandidates())
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	if !errsIsGenerationFailed(err) {
		t.Errorf("expected GenerationFailed kind, got %v", err)
	}
}

func TestParseToleratesSurroundingProseAndFences(t *testing.T) {
	raw := "Here is my answer:\n```json\n" +
		`{"short_answer": "ok", "detailed_summary": "ok", "extractions": []}` +
		"\n```\nLet me know if you need more."
	answer, err := Parse(raw, sampleCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.ShortAnswer != "ok" {
		t.Errorf("unexpected short answer: %q", answer.ShortAnswer)
	}
}

func TestSupportingSentencePicksHighestOverlap(t *testing.T) {
	text, _, _ := supportingSentence(
		sampleCandidates()[0].Chunk.Text,
		map[string]string{"note": "tolerates well"},
	)
	if text != "Patient tolerates well." {
		t.Errorf("expected the tolerance sentence, got %q", text)
	}
}
