package quality

import (
	"context"
	"testing"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

func sampleGroundingCandidates() []clinical.RetrievalCandidate {
	return []clinical.RetrievalCandidate{
		{
			Chunk: clinical.Chunk{
				ChunkID:      "c1",
				ArtifactID:   "a1",
				ArtifactType: clinical.ArtifactMedication,
				Text:         "Patient takes metformin 500mg twice daily for type 2 diabetes.",
			},
		},
		{
			Chunk: clinical.Chunk{
				ChunkID:      "c2",
				ArtifactID:   "a2",
				ArtifactType: clinical.ArtifactNote,
				Text:         "Patient reports occasional dizziness in the morning.",
			},
		},
	}
}

func TestVerifyExactMatch(t *testing.T) {
	v := NewGroundingVerifier(&fakeEmbedder{}, &fakeVectorStore{})
	result, err := v.Verify(context.Background(), "Patient takes metformin 500mg twice daily for type 2 diabetes.", "", sampleGroundingCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Statements) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(result.Statements))
	}
	sg := result.Statements[0]
	if sg.VerificationMethod != clinical.VerifyExactMatch {
		t.Errorf("expected exact_match, got %s", sg.VerificationMethod)
	}
	if sg.GroundingConfidence != exactMatchConfidence {
		t.Errorf("expected confidence %.2f, got %.2f", exactMatchConfidence, sg.GroundingConfidence)
	}
}

func TestVerifyWordOverlapMatch(t *testing.T) {
	v := NewGroundingVerifier(&fakeEmbedder{}, &fakeVectorStore{})
	// Shares most significant tokens with c1 but is not a substring of it.
	result, err := v.Verify(context.Background(), "Metformin 500mg is taken twice daily for diabetes control.", "", sampleGroundingCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sg := result.Statements[0]
	if sg.VerificationMethod != clinical.VerifySemanticMatch {
		t.Errorf("expected semantic_match via word overlap, got %s", sg.VerificationMethod)
	}
	if !sg.IsGrounded {
		t.Error("expected statement to be grounded")
	}
}

func TestVerifyUnsupportedStatement(t *testing.T) {
	v := NewGroundingVerifier(&fakeEmbedder{EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
		return []float32{0, 1, 0}, nil
	}}, &fakeVectorStore{SimilarityFunc: func(ctx context.Context, vector []float32, ids []string) (map[string]float64, error) {
		sims := map[string]float64{}
		for _, id := range ids {
			sims[id] = 0.1
		}
		return sims, nil
	}})
	result, err := v.Verify(context.Background(), "Patient was diagnosed with an unrelated fracture last year.", "", sampleGroundingCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sg := result.Statements[0]
	if sg.VerificationMethod != clinical.VerifyUnsupported {
		t.Errorf("expected unsupported, got %s", sg.VerificationMethod)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected an unsupported-statement warning")
	}
}

func TestVerifyEmbeddingMatch(t *testing.T) {
	v := NewGroundingVerifier(&fakeEmbedder{}, &fakeVectorStore{SimilarityFunc: func(ctx context.Context, vector []float32, ids []string) (map[string]float64, error) {
		sims := map[string]float64{}
		for i, id := range ids {
			if i == 0 {
				sims[id] = 0.9
			} else {
				sims[id] = 0.2
			}
		}
		return sims, nil
	}})
	// Shares no meaningful tokens with either chunk, forcing the embedding path.
	result, err := v.Verify(context.Background(), "Clinical documentation references a separate encounter entirely.", "", sampleGroundingCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sg := result.Statements[0]
	if sg.VerificationMethod != clinical.VerifySemanticMatch || sg.SimilarityScore == nil {
		t.Fatalf("expected embedding-based semantic match, got %+v", sg)
	}
	if *sg.SimilarityScore != 0.9 {
		t.Errorf("expected similarity 0.9, got %v", *sg.SimilarityScore)
	}
}

func TestVerifyEmptyAnswerScoresPerfect(t *testing.T) {
	v := NewGroundingVerifier(&fakeEmbedder{}, &fakeVectorStore{})
	result, err := v.Verify(context.Background(), "", "", sampleGroundingCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 1 {
		t.Errorf("expected score 1 for an empty answer, got %v", result.Score)
	}
}

func TestVerifyScoreFormula(t *testing.T) {
	v := NewGroundingVerifier(&fakeEmbedder{}, &fakeVectorStore{})
	result, err := v.Verify(context.Background(), "Patient takes metformin 500mg twice daily for type 2 diabetes.", "", sampleGroundingCandidates())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 0.7*1 + 0.3*exactMatchConfidence
	if diff := result.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected score %.4f, got %.4f", want, result.Score)
	}
}
