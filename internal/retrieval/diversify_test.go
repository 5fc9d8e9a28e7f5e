package retrieval

import (
	"testing"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

func TestJaccardSimilarityIdenticalSets(t *testing.T) {
	a := map[string]bool{"x": true, "y": true}
	b := map[string]bool{"x": true, "y": true}
	if got := jaccardSimilarity(a, b); got != 1 {
		t.Errorf("identical sets should have similarity 1, got %v", got)
	}
}

func TestJaccardSimilarityDisjointSets(t *testing.T) {
	a := map[string]bool{"x": true}
	b := map[string]bool{"y": true}
	if got := jaccardSimilarity(a, b); got != 0 {
		t.Errorf("disjoint sets should have similarity 0, got %v", got)
	}
}

func TestDiversifyPenalizesNearDuplicates(t *testing.T) {
	candidates := []clinical.RetrievalCandidate{
		{Chunk: clinical.Chunk{ChunkID: "a", Text: "patient reports chronic lower back pain and stiffness"}, Score: 0.9},
		{Chunk: clinical.Chunk{ChunkID: "b", Text: "patient reports chronic lower back pain and stiffness today"}, Score: 0.85},
		{Chunk: clinical.Chunk{ChunkID: "c", Text: "allergic reaction to penicillin noted in chart"}, Score: 0.5},
	}
	out := Diversify(candidates, 0.5)
	if len(out) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(out))
	}
	var bScore float64
	for _, c := range out {
		if c.Chunk.ChunkID == "b" {
			bScore = c.Score
		}
	}
	if bScore >= 0.85 {
		t.Errorf("near-duplicate candidate b should be penalized, got score %v", bScore)
	}
}

func TestDiversifyReassignsRanks(t *testing.T) {
	candidates := []clinical.RetrievalCandidate{
		{Chunk: clinical.Chunk{ChunkID: "a", Text: "alpha"}, Score: 0.3},
		{Chunk: clinical.Chunk{ChunkID: "b", Text: "beta"}, Score: 0.9},
	}
	out := Diversify(candidates, 0.85)
	if out[0].Rank != 1 || out[1].Rank != 2 {
		t.Errorf("expected ranks reassigned after resort, got %+v", out)
	}
	if out[0].Chunk.ChunkID != "b" {
		t.Errorf("expected higher-scoring candidate first, got %s", out[0].Chunk.ChunkID)
	}
}
