package retrieval

import (
	"sort"

	"github.com/cliniquery/cliniquery/internal/textproc"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// rerankWeight blends the re-rank signal with the initial score; fixed so
// re-ranking is deterministic for a given candidate set and query.
const rerankWeight = 0.30

// Rerank re-scores candidates using entity coverage (fraction of query
// entities present in the chunk) and query-token overlap, blended with
// the initial score.
func Rerank(candidates []clinical.RetrievalCandidate, sq clinical.StructuredQuery) []clinical.RetrievalCandidate {
	out := make([]clinical.RetrievalCandidate, len(candidates))
	copy(out, candidates)

	queryTokens := textproc.Tokenize(sq.OriginalQuery)

	for i := range out {
		coverage := entityCoverage(sq.Entities, out[i].Chunk.Text)
		overlap := tokenOverlap(queryTokens, out[i].Chunk.Text)
		rerankSignal := 0.5*coverage + 0.5*overlap
		out[i].Score = (1-rerankWeight)*out[i].Score + rerankWeight*rerankSignal
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	reassignRanks(out)
	return out
}

func entityCoverage(entities []clinical.Entity, chunkText string) float64 {
	if len(entities) == 0 {
		return 0
	}
	set := tokenSet(chunkText)
	var present int
	for _, e := range entities {
		for _, tok := range textproc.Tokenize(e.Value) {
			if set[tok] {
				present++
				break
			}
		}
	}
	return float64(present) / float64(len(entities))
}

func tokenOverlap(queryTokens []string, chunkText string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	set := tokenSet(chunkText)
	var present int
	for _, t := range queryTokens {
		if set[t] {
			present++
		}
	}
	return float64(present) / float64(len(queryTokens))
}
