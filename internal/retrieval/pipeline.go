package retrieval

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/internal/textproc"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// Config holds the pipeline's tunable weights and stage switches,
// sourced from config.RetrievalSpecification.
type Config struct {
	Alpha              float64
	TopK               int
	DiversityThreshold float64
	MaxContextChunks   int
	SnippetLength      int
	EnableReranking    bool
	EnableDiversify    bool
	EnableRecencyDecay bool
}

// Result is the pipeline's output: the final ranked, capped candidate set
// plus per-stage diagnostics.
type Result struct {
	Candidates []clinical.RetrievalCandidate
	Metrics    []StageMetric
	CacheHit   bool
}

// Engine wires the metadata store, vector store, embedder, BM25 index and
// result cache into the seven-stage retrieval pipeline.
type Engine struct {
	metadata store.MetadataStore
	vectors  store.VectorStore
	embedder ai.Embedder
	bm25     *BM25Index
	cache    *ResultCache
	cfg      Config
}

// NewEngine constructs a retrieval Engine. cache may be nil, in which case
// every query bypasses caching.
func NewEngine(metadata store.MetadataStore, vectors store.VectorStore, embedder ai.Embedder, bm25 *BM25Index, cache *ResultCache, cfg Config) *Engine {
	if cfg.MaxContextChunks <= 0 {
		cfg.MaxContextChunks = 10
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	return &Engine{metadata: metadata, vectors: vectors, embedder: embedder, bm25: bm25, cache: cache, cfg: cfg}
}

// Retrieve runs the seven pipeline stages for sq, checking the result
// cache first. A failed dense similarity lookup in Stage 2 is logged,
// recorded on the StageMetric, and degrades that stage to keyword-only
// scoring rather than aborting the pipeline. The hard failures are an
// unknown patient, surfaced as NotFound before Stage 1 runs, and a
// metadata store error in that patient check or in Stage 1, surfaced as
// UpstreamUnavailable.
func (e *Engine) Retrieve(ctx context.Context, sq clinical.StructuredQuery) (Result, error) {
	now := time.Now()

	if e.cache != nil {
		key := CacheKey(sq, e.cfg.Alpha, e.cfg.EnableReranking, e.cfg.EnableDiversify, e.cfg.EnableRecencyDecay)
		if cached, ok := e.cache.Get(key); ok {
			return Result{Candidates: cached.Candidates, Metrics: cached.Metrics, CacheHit: true}, nil
		}
	}

	has, err := e.metadata.PatientHasChunks(ctx, sq.PatientID)
	if err != nil {
		return Result{}, errs.Wrap(errs.UpstreamUnavailable, "check patient chunks", err)
	}
	if !has {
		return Result{}, errs.New(errs.NotFound, "no indexed records for patient "+sq.PatientID)
	}

	var metrics []StageMetric

	// Stage 1: metadata filter.
	start := time.Now()
	chunks, err := e.metadata.ChunksByPatient(ctx, sq.PatientID, sq.Filters)
	if err != nil {
		recordStage(&metrics, "metadata_filter", start, 0, 0, err)
		return Result{}, errs.Wrap(errs.UpstreamUnavailable, "metadata filter", err)
	}
	recordStage(&metrics, "metadata_filter", start, 0, len(chunks), nil)
	if len(chunks) == 0 {
		return Result{Candidates: nil, Metrics: metrics}, nil
	}

	queryTokens := textproc.Tokenize(sq.OriginalQuery)
	ids := make([]string, len(chunks))
	byID := make(map[string]clinical.Chunk, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
		byID[c.ChunkID] = c
	}

	// Stage 2: hybrid search (dense + BM25).
	start = time.Now()
	dense, stageErr := e.denseScores(ctx, sq.OriginalQuery, ids)
	keyword := e.bm25.ScoreAll(queryTokens)
	if stageErr != nil {
		log.Warn().Err(stageErr).Msg("dense similarity stage degraded to keyword-only")
	}
	hybrid := make(map[string]float64, len(ids))
	for _, id := range ids {
		d := dense[id]
		k := normalizeBM25(keyword[id])
		hybrid[id] = e.cfg.Alpha*d + (1-e.cfg.Alpha)*k
	}
	topIDs := topByHybridScore(ids, hybrid, 2*e.cfg.TopK)
	recordStage(&metrics, "hybrid_search", start, len(ids), len(topIDs), stageErr)

	// Stage 3: initial scoring, restricted to the top 2*k hybrid candidates.
	start = time.Now()
	candidates := make([]clinical.RetrievalCandidate, 0, len(topIDs))
	for _, id := range topIDs {
		chunk := byID[id]
		score := initialScore(dense[id], queryTokens, chunk, now)
		if !e.cfg.EnableRecencyDecay {
			score = initialScoreNoRecency(dense[id], queryTokens, chunk)
		}
		candidates = append(candidates, clinical.RetrievalCandidate{Chunk: chunk, Score: score})
	}
	sortByScoreDesc(candidates)
	reassignRanks(candidates)
	recordStage(&metrics, "initial_scoring", start, len(topIDs), len(candidates), nil)

	// Stage 4: re-ranking (optional).
	if e.cfg.EnableReranking {
		candidates = safeRerank(candidates, sq, &metrics)
	}

	// Stage 5: diversification (optional).
	if e.cfg.EnableDiversify {
		candidates = safeDiversify(candidates, e.cfg.DiversityThreshold, &metrics)
	}

	// Stage 6: recency decay is folded into Stage 3's score, which leaves
	// the recency component out when decay is disabled, so the re-ranking
	// and diversification adjustments above are kept either way.

	// Cap to the configured context window before snippet extraction, the
	// most expensive remaining stage.
	if len(candidates) > e.cfg.MaxContextChunks {
		candidates = candidates[:e.cfg.MaxContextChunks]
	}

	// Stage 7: snippet and highlight extraction.
	start = time.Now()
	for i := range candidates {
		snippet, highlights := Snippet(candidates[i].Chunk.Text, queryTokens, e.cfg.SnippetLength)
		candidates[i].Snippet = snippet
		candidates[i].Highlights = highlights
	}
	recordStage(&metrics, "snippet_extraction", start, len(candidates), len(candidates), nil)

	result := Result{Candidates: candidates, Metrics: metrics}
	if e.cache != nil {
		key := CacheKey(sq, e.cfg.Alpha, e.cfg.EnableReranking, e.cfg.EnableDiversify, e.cfg.EnableRecencyDecay)
		e.cache.Put(key, CachedResult{Candidates: candidates, Metrics: metrics})
	}
	return result, nil
}

// denseScores embeds the query and scores it against exactly the
// metadata-filtered candidate ids. A failure here is non-fatal: the
// caller falls back to keyword-only hybrid scoring.
func (e *Engine) denseScores(ctx context.Context, query string, ids []string) (map[string]float64, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return map[string]float64{}, err
	}
	scores, err := e.vectors.SimilarityForIDs(ctx, vec, ids)
	if err != nil {
		return map[string]float64{}, err
	}
	return scores, nil
}

// normalizeBM25 squashes an unbounded BM25 score into roughly [0,1] so it
// can be blended with cosine similarity; BM25 scores rarely exceed 10 in
// practice for short clinical chunks.
func normalizeBM25(raw float64) float64 {
	return clamp01(raw / 10)
}

// topByHybridScore returns the n highest-scoring ids by hybrid score,
// descending, cutting the candidate set to 2*k before the more expensive
// scoring stage runs.
func topByHybridScore(ids []string, hybrid map[string]float64, n int) []string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && hybrid[sorted[j]] > hybrid[sorted[j-1]]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func sortByScoreDesc(candidates []clinical.RetrievalCandidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Score > candidates[j-1].Score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
}

func initialScoreNoRecency(denseScore float64, queryTokens []string, chunk clinical.Chunk) float64 {
	semantic := remapSimilarity(denseScore) * weightSemantic
	keyword := keywordComponent(queryTokens, chunk.Text) * weightKeyword
	quality := qualityComponent(chunk.Text) * weightQuality
	return semantic + keyword + quality
}

// safeRerank applies Rerank, falling back to the unmodified input and
// recording the error if it panics-free but fails logically; Rerank itself
// cannot error, but the wrapper keeps the fallback contract uniform across
// optional stages.
func safeRerank(candidates []clinical.RetrievalCandidate, sq clinical.StructuredQuery, metrics *[]StageMetric) []clinical.RetrievalCandidate {
	start := time.Now()
	out := Rerank(candidates, sq)
	recordStage(metrics, "rerank", start, len(candidates), len(out), nil)
	return out
}

func safeDiversify(candidates []clinical.RetrievalCandidate, threshold float64, metrics *[]StageMetric) []clinical.RetrievalCandidate {
	start := time.Now()
	out := Diversify(candidates, threshold)
	recordStage(metrics, "diversify", start, len(candidates), len(out), nil)
	return out
}
