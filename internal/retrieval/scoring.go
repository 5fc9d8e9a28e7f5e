package retrieval

import (
	"strings"
	"time"

	"github.com/cliniquery/cliniquery/internal/textproc"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

const (
	weightSemantic = 0.50
	weightKeyword  = 0.25
	weightRecency  = 0.15
	weightQuality  = 0.10
)

// remapSimilarity linearly remaps cosine similarity so 0.5 -> 0 and
// 0.8 -> 1, clamped to [0,1].
func remapSimilarity(sim float64) float64 {
	v := (sim - 0.5) / 0.3
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// keywordComponent counts exact and partial token matches between the
// query and chunk text: min(1, exact*0.3 + partial*0.1).
func keywordComponent(queryTokens []string, chunkText string) float64 {
	chunkTokens := textproc.Tokenize(chunkText)
	chunkSet := make(map[string]bool, len(chunkTokens))
	for _, t := range chunkTokens {
		chunkSet[t] = true
	}

	var exact, partial int
	for _, qt := range queryTokens {
		if chunkSet[qt] {
			exact++
			continue
		}
		for ct := range chunkSet {
			if strings.Contains(ct, qt) || strings.Contains(qt, ct) {
				partial++
				break
			}
		}
	}
	return minFloat(1, float64(exact)*0.3+float64(partial)*0.1)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// recencyScore is 1.0 for age <= 30 days, linear decay to 0.5 at 365
// days, linear decay to 0.0 at 730 days.
func recencyScore(occurredAt, now time.Time) float64 {
	ageDays := now.Sub(occurredAt).Hours() / 24
	switch {
	case ageDays <= 30:
		return 1.0
	case ageDays <= 365:
		return 1.0 - 0.5*(ageDays-30)/(365-30)
	case ageDays <= 730:
		return 0.5 - 0.5*(ageDays-365)/(730-365)
	default:
		return 0.0
	}
}

// qualityComponent peaks at the target 50-150 word chunk length,
// decaying linearly outside that band.
func qualityComponent(chunkText string) float64 {
	words := len(strings.Fields(chunkText))
	switch {
	case words >= 50 && words <= 150:
		return 1.0
	case words < 50:
		if words <= 0 {
			return 0
		}
		return clamp01(float64(words) / 50)
	default: // words > 150
		over := float64(words-150) / 150
		return clamp01(1 - over)
	}
}

// initialScore combines the four weighted components into the
// Stage-3 relevance score.
func initialScore(semanticSim float64, queryTokens []string, chunk clinical.Chunk, now time.Time) float64 {
	semantic := remapSimilarity(semanticSim) * weightSemantic
	keyword := keywordComponent(queryTokens, chunk.Text) * weightKeyword
	recency := recencyScore(chunk.OccurredAt, now) * weightRecency
	quality := qualityComponent(chunk.Text) * weightQuality
	return semantic + keyword + recency + quality
}
