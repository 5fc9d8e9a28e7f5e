package quality

import (
	"context"
	"math"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/errs"
)

const hallucinationThreshold = 0.30

// HallucinationResult is the output of hallucination detection.
type HallucinationResult struct {
	Risk                float64
	Detected            bool
	RiskLevel           string
	Method              string // "primary" or "selfcheckgpt"
	SemanticConsistency *float64
}

// DetectPrimary scores hallucination risk as a weighted combination of
// the three other quality scores.
func DetectPrimary(grounding, consistency, confidence float64) HallucinationResult {
	risk := 0.40*(1-grounding) + 0.30*(1-consistency) + 0.30*(1-confidence)
	return HallucinationResult{
		Risk:      risk,
		Detected:  risk > hallucinationThreshold,
		RiskLevel: riskLevel(risk),
		Method:    "primary",
	}
}

func riskLevel(risk float64) string {
	switch {
	case risk < 0.1:
		return "very_low"
	case risk < 0.2:
		return "low"
	case risk < 0.4:
		return "medium"
	case risk < 0.7:
		return "high"
	default:
		return "very_high"
	}
}

// SelfCheckGPTConfig tunes the optional regeneration-based path.
type SelfCheckGPTConfig struct {
	Samples          int
	BaseTemperature  float64
	TemperatureDelta float64
	MaxTokens        int
}

// DetectSelfCheckGPT regenerates the answer at stepped temperatures,
// embeds each sample, and treats low average pairwise cosine similarity
// as evidence of hallucination.
func DetectSelfCheckGPT(ctx context.Context, generator ai.Generator, embedder ai.Embedder, prompt string, cfg SelfCheckGPTConfig) (HallucinationResult, error) {
	if cfg.Samples < 2 {
		cfg.Samples = 2
	}
	if cfg.Samples > 5 {
		cfg.Samples = 5
	}

	embeddings := make([][]float32, 0, cfg.Samples)
	for i := 0; i < cfg.Samples; i++ {
		temperature := cfg.BaseTemperature + float64(i)*cfg.TemperatureDelta
		sample, err := generator.Generate(ctx, prompt, ai.GenerateOptions{Temperature: temperature, MaxTokens: cfg.MaxTokens})
		if err != nil {
			return HallucinationResult{}, errs.Wrap(errs.GenerationFailed, "selfcheckgpt regeneration", err)
		}
		vec, err := embedder.Embed(ctx, sample)
		if err != nil {
			return HallucinationResult{}, errs.Wrap(errs.UpstreamUnavailable, "selfcheckgpt sample embedding", err)
		}
		embeddings = append(embeddings, vec)
	}

	consistency := averagePairwiseCosine(embeddings)
	variance := 1 - consistency
	return HallucinationResult{
		Risk:                 variance,
		Detected:             variance > 0.40,
		RiskLevel:            riskLevel(variance),
		Method:               "selfcheckgpt",
		SemanticConsistency:  &consistency,
	}, nil
}

// averagePairwiseCosine computes the mean cosine similarity over every
// distinct pair of vectors. There is no persisted row to compare these
// scratch regeneration samples against, so this cannot be delegated to the
// vector store's cosine-distance operator the way candidate scoring is;
// it is a small, self-contained stdlib computation.
func averagePairwiseCosine(vectors [][]float32) float64 {
	if len(vectors) < 2 {
		return 1
	}
	var sum float64
	var pairs int
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sum += cosineSimilarity(vectors[i], vectors[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	return sum / float64(pairs)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
