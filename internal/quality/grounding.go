package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/internal/textproc"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// wordOverlapThreshold and the confidences below form the verification
// ladder: exact match, then word overlap, then embedding similarity.
const (
	wordOverlapThreshold    = 0.60
	embeddingMatchThreshold = 0.75
	exactMatchConfidence    = 0.95
	lowConfidenceWarning    = 0.70
	inferenceWarningShare   = 0.30
)

// GroundingResult is the output of grounding verification for one answer.
type GroundingResult struct {
	Score      float64
	Statements []clinical.StatementGrounding
	Warnings   []string
}

// GroundingVerifier decomposes an answer into statements and checks
// each against the retrieval candidates that produced it.
type GroundingVerifier struct {
	embedder ai.Embedder
	vectors  store.VectorStore
}

func NewGroundingVerifier(embedder ai.Embedder, vectors store.VectorStore) *GroundingVerifier {
	return &GroundingVerifier{embedder: embedder, vectors: vectors}
}

// Verify decomposes the answer into statements, verifies each against
// the candidate chunks in order of cost (exact match, then word overlap,
// then embedding similarity), and scores the answer overall.
func (g *GroundingVerifier) Verify(ctx context.Context, shortAnswer, detailedSummary string, candidates []clinical.RetrievalCandidate) (GroundingResult, error) {
	statements := decomposeStatements(shortAnswer, detailedSummary)
	if len(statements) == 0 {
		return GroundingResult{Score: 1, Warnings: nil}, nil
	}

	chunkIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		chunkIDs = append(chunkIDs, c.Chunk.ChunkID)
	}

	var (
		results        []clinical.StatementGrounding
		groundedCount  int
		confidenceSum  float64
		inferenceCount int
		warnings       []string
	)

	for i, statement := range statements {
		sg := g.verifyStatement(ctx, i, statement, candidates, chunkIDs)
		if sg.IsGrounded {
			groundedCount++
		}
		confidenceSum += sg.GroundingConfidence
		if sg.VerificationMethod == clinical.VerifyInference {
			inferenceCount++
		}
		if sg.VerificationMethod == clinical.VerifyUnsupported {
			warnings = append(warnings, fmt.Sprintf("unsupported statement %d: %q", i, statement))
		} else if sg.GroundingConfidence < lowConfidenceWarning {
			warnings = append(warnings, fmt.Sprintf("low-confidence statement %d (%.2f): %q", i, sg.GroundingConfidence, statement))
		}
		results = append(results, sg)
	}

	total := float64(len(statements))
	if float64(inferenceCount)/total > inferenceWarningShare {
		warnings = append(warnings, fmt.Sprintf("%d of %d statements (%.0f%%) relied on inference rather than direct evidence", inferenceCount, len(statements), 100*float64(inferenceCount)/total))
	}

	score := 0.7*(float64(groundedCount)/total) + 0.3*(confidenceSum/total)
	return GroundingResult{Score: score, Statements: results, Warnings: warnings}, nil
}

func (g *GroundingVerifier) verifyStatement(ctx context.Context, index int, statement string, candidates []clinical.RetrievalCandidate, chunkIDs []string) clinical.StatementGrounding {
	normalizedStatement := normalizeForMatch(statement)

	for _, c := range candidates {
		if strings.Contains(normalizeForMatch(c.Chunk.Text), normalizedStatement) {
			return clinical.StatementGrounding{
				Statement:           statement,
				StatementIndex:      index,
				IsGrounded:          true,
				SourceChunkID:       c.Chunk.ChunkID,
				SourceArtifactID:    c.Chunk.ArtifactID,
				SupportingEvidence:  c.Chunk.Text,
				GroundingConfidence: exactMatchConfidence,
				VerificationMethod:  clinical.VerifyExactMatch,
			}
		}
	}

	if best, ratio, ok := bestWordOverlap(statement, candidates); ok && ratio >= wordOverlapThreshold {
		confidence := 0.70 + 0.20*ratio
		return clinical.StatementGrounding{
			Statement:           statement,
			StatementIndex:      index,
			IsGrounded:          true,
			SourceChunkID:       best.Chunk.ChunkID,
			SourceArtifactID:    best.Chunk.ArtifactID,
			SupportingEvidence:  best.Chunk.Text,
			GroundingConfidence: confidence,
			VerificationMethod:  clinical.VerifySemanticMatch,
		}
	}

	if g.embedder != nil && g.vectors != nil {
		if sg, ok := g.verifyByEmbedding(ctx, index, statement, candidates, chunkIDs); ok {
			return sg
		}
	}

	return clinical.StatementGrounding{
		Statement:           statement,
		StatementIndex:      index,
		IsGrounded:          false,
		GroundingConfidence: 0,
		VerificationMethod:  clinical.VerifyUnsupported,
	}
}

func (g *GroundingVerifier) verifyByEmbedding(ctx context.Context, index int, statement string, candidates []clinical.RetrievalCandidate, chunkIDs []string) (clinical.StatementGrounding, bool) {
	vec, err := g.embedder.Embed(ctx, statement)
	if err != nil {
		log.Warn().Err(err).Msg("grounding embedding lookup degraded, statement left unsupported")
		return clinical.StatementGrounding{}, false
	}
	similarities, err := g.vectors.SimilarityForIDs(ctx, vec, chunkIDs)
	if err != nil {
		log.Warn().Err(err).Msg("grounding similarity lookup degraded, statement left unsupported")
		return clinical.StatementGrounding{}, false
	}

	var bestChunkID string
	var bestSim float64 = -1
	for id, sim := range similarities {
		if sim > bestSim {
			bestSim = sim
			bestChunkID = id
		}
	}
	if bestSim < embeddingMatchThreshold {
		return clinical.StatementGrounding{}, false
	}

	for _, c := range candidates {
		if c.Chunk.ChunkID == bestChunkID {
			simCopy := bestSim
			return clinical.StatementGrounding{
				Statement:           statement,
				StatementIndex:      index,
				IsGrounded:          true,
				SourceChunkID:       c.Chunk.ChunkID,
				SourceArtifactID:    c.Chunk.ArtifactID,
				SupportingEvidence:  c.Chunk.Text,
				GroundingConfidence: bestSim * 0.9,
				VerificationMethod:  clinical.VerifySemanticMatch,
				SimilarityScore:     &simCopy,
			}, true
		}
	}
	return clinical.StatementGrounding{}, false
}

// bestWordOverlap returns the candidate whose chunk text has the highest
// overlap ratio of statement tokens longer than 3 characters.
func bestWordOverlap(statement string, candidates []clinical.RetrievalCandidate) (clinical.RetrievalCandidate, float64, bool) {
	tokens := filterShortTokens(textproc.Tokenize(statement))
	if len(tokens) == 0 {
		return clinical.RetrievalCandidate{}, 0, false
	}

	var best clinical.RetrievalCandidate
	var bestRatio float64
	found := false
	for _, c := range candidates {
		chunkTokens := map[string]bool{}
		for _, t := range textproc.Tokenize(c.Chunk.Text) {
			chunkTokens[t] = true
		}
		hits := 0
		for _, t := range tokens {
			if chunkTokens[t] {
				hits++
			}
		}
		ratio := float64(hits) / float64(len(tokens))
		if ratio > bestRatio {
			bestRatio = ratio
			best = c
			found = true
		}
	}
	return best, bestRatio, found
}

func filterShortTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) > 3 {
			out = append(out, t)
		}
	}
	return out
}

func normalizeForMatch(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
