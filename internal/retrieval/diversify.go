package retrieval

import (
	"sort"

	"github.com/cliniquery/cliniquery/internal/textproc"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

const (
	defaultDiversityThreshold = 0.85
	diversityPenalty          = 0.7
)

// jaccardSimilarity computes the Jaccard index of two token sets.
func jaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var intersection, union int
	seen := make(map[string]bool, len(a)+len(b))
	for t := range a {
		seen[t] = true
	}
	for t := range b {
		seen[t] = true
	}
	union = len(seen)
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range textproc.Tokenize(text) {
		set[t] = true
	}
	return set
}

// Diversify walks candidates in existing order; for each, computes the
// Jaccard similarity of its token set against
// every already-emitted chunk. If any similarity exceeds threshold,
// multiply its score by diversityPenalty but still include it. Re-sort
// afterward.
func Diversify(candidates []clinical.RetrievalCandidate, threshold float64) []clinical.RetrievalCandidate {
	if threshold <= 0 {
		threshold = defaultDiversityThreshold
	}
	out := make([]clinical.RetrievalCandidate, len(candidates))
	copy(out, candidates)

	var emittedSets []map[string]bool
	for i := range out {
		set := tokenSet(out[i].Chunk.Text)
		for _, emitted := range emittedSets {
			if jaccardSimilarity(set, emitted) > threshold {
				out[i].Score *= diversityPenalty
				break
			}
		}
		emittedSets = append(emittedSets, set)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	reassignRanks(out)
	return out
}

func reassignRanks(candidates []clinical.RetrievalCandidate) {
	for i := range candidates {
		candidates[i].Rank = i + 1
	}
}
