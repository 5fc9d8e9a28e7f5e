package ai

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// StubClient is a deterministic, dependency-free implementation used in
// tests and in local development without an inference server running.
// Embeddings are a hash-based projection of the input text so that
// near-duplicate text produces near-duplicate vectors, which keeps
// round-trip search tests meaningful: embedding a chunk's own text and
// searching for it should return that chunk.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient.
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 64
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) Embed(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text, s.dim), nil
}

func (s *StubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *StubClient) Generate(_ context.Context, prompt string, _ GenerateOptions) (string, error) {
	return stubAnswer(prompt), nil
}

func (s *StubClient) Health(_ context.Context) bool { return true }

func (s *StubClient) EmbeddingInfo() EmbeddingInfo {
	return EmbeddingInfo{Provider: "stub", Model: "hash-projection", Dimensions: s.dim}
}

func (s *StubClient) GenerationInfo() GenerationInfo {
	return GenerationInfo{Provider: "stub", Model: "heuristic-template"}
}

// hashEmbed derives a unit-length vector from the bag-of-words of text using
// a seeded hash per token, so cosine similarity of near-duplicate text is
// high without any learned model.
func hashEmbed(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{""}
	}
	for _, w := range words {
		h := sha256.Sum256([]byte(w))
		for i := 0; i < dim; i++ {
			idx := int(binary.BigEndian.Uint32(h[(i*4)%28:(i*4)%28+4])) % dim
			if idx < 0 {
				idx += dim
			}
			sign := float32(1)
			if h[i%32]%2 == 0 {
				sign = -1
			}
			v[idx] += sign
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// stubAnswer produces a plausible, deterministic answer in the JSON shape
// the extraction parser reads (with no extractions), from a prompt's line
// count, for use in tests that exercise the extraction parser without a
// real model.
func stubAnswer(prompt string) string {
	lines := strings.Split(prompt, "\n")
	sort.Strings(lines) // deterministic, irrelevant to content
	return fmt.Sprintf(`{"short_answer": "See supporting context.", "detailed_summary": "%d context lines reviewed.", "extractions": []}`, len(lines))
}
