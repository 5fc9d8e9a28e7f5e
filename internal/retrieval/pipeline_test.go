package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

type fakeMetadataStore struct {
	chunks       []clinical.Chunk
	hasChunks    bool
	filterErr    error
	hasChunksErr error
}

func (f *fakeMetadataStore) UpsertChunk(ctx context.Context, c clinical.Chunk, embedding []float32) error {
	return nil
}

func (f *fakeMetadataStore) ChunkByID(ctx context.Context, chunkID string) (clinical.Chunk, bool, error) {
	for _, c := range f.chunks {
		if c.ChunkID == chunkID {
			return c, true, nil
		}
	}
	return clinical.Chunk{}, false, nil
}

func (f *fakeMetadataStore) ChunksByPatient(ctx context.Context, patientID string, filters clinical.Filters) ([]clinical.Chunk, error) {
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	return f.chunks, nil
}

func (f *fakeMetadataStore) PatientHasChunks(ctx context.Context, patientID string) (bool, error) {
	if f.hasChunksErr != nil {
		return false, f.hasChunksErr
	}
	return f.hasChunks, nil
}

func (f *fakeMetadataStore) AllChunks(ctx context.Context) ([]clinical.Chunk, error) {
	return f.chunks, nil
}

type fakeVectorStore struct {
	similarities map[string]float64
	err          error
}

func (f *fakeVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error {
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, vector []float32, k int) ([]store.VectorResult, error) {
	return nil, nil
}

func (f *fakeVectorStore) SimilarityForIDs(ctx context.Context, vector []float32, ids []string) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.similarities, nil
}

func (f *fakeVectorStore) Load(ctx context.Context) error { return nil }
func (f *fakeVectorStore) Save(ctx context.Context) error { return nil }
func (f *fakeVectorStore) Stats(ctx context.Context) (store.VectorStats, error) {
	return store.VectorStats{}, nil
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Health(ctx context.Context) bool { return f.err == nil }
func (f *fakeEmbedder) EmbeddingInfo() ai.EmbeddingInfo { return ai.EmbeddingInfo{Provider: "fake"} }

func sampleChunks() []clinical.Chunk {
	now := time.Now()
	return []clinical.Chunk{
		{ChunkID: "c1", PatientID: "p1", ArtifactType: clinical.ArtifactMedication, OccurredAt: now.AddDate(0, 0, -5),
			Text: "patient started metformin 500mg twice daily for type 2 diabetes management"},
		{ChunkID: "c2", PatientID: "p1", ArtifactType: clinical.ArtifactNote, OccurredAt: now.AddDate(-1, 0, 0),
			Text: "routine visit note discussing seasonal allergies and mild cough symptoms"},
	}
}

func newTestEngine(meta *fakeMetadataStore, vec *fakeVectorStore, emb *fakeEmbedder, bm25 *BM25Index, cfg Config) *Engine {
	return NewEngine(meta, vec, emb, bm25, nil, cfg)
}

func TestRetrieveReturnsNotFoundForUnknownPatient(t *testing.T) {
	meta := &fakeMetadataStore{hasChunks: false}
	vec := &fakeVectorStore{}
	emb := &fakeEmbedder{}
	engine := newTestEngine(meta, vec, emb, NewBM25Index(), Config{Alpha: 0.7})

	_, err := engine.Retrieve(context.Background(), clinical.StructuredQuery{PatientID: "ghost", OriginalQuery: "metformin"})
	if !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRetrieveRunsAllStagesAndRanksByScore(t *testing.T) {
	chunks := sampleChunks()
	meta := &fakeMetadataStore{hasChunks: true, chunks: chunks}
	vec := &fakeVectorStore{similarities: map[string]float64{"c1": 0.9, "c2": 0.5}}
	emb := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}

	bm25 := NewBM25Index()
	for _, c := range chunks {
		bm25.Add(c.ChunkID, c.Text)
	}

	engine := newTestEngine(meta, vec, emb, bm25, Config{
		Alpha: 0.7, DiversityThreshold: 0.85, MaxContextChunks: 10, SnippetLength: 100,
		EnableReranking: true, EnableDiversify: true, EnableRecencyDecay: true,
	})

	result, err := engine.Retrieve(context.Background(), clinical.StructuredQuery{
		PatientID: "p1", OriginalQuery: "metformin diabetes",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(result.Candidates))
	}
	if result.Candidates[0].Chunk.ChunkID != "c1" {
		t.Errorf("expected metformin chunk ranked first, got %s", result.Candidates[0].Chunk.ChunkID)
	}
	if result.Candidates[0].Snippet == "" {
		t.Error("expected snippet to be populated")
	}
	if len(result.Metrics) == 0 {
		t.Error("expected stage metrics to be recorded")
	}
}

func TestRetrieveCapsToMaxContextChunks(t *testing.T) {
	chunks := sampleChunks()
	meta := &fakeMetadataStore{hasChunks: true, chunks: chunks}
	vec := &fakeVectorStore{similarities: map[string]float64{"c1": 0.9, "c2": 0.5}}
	emb := &fakeEmbedder{vector: []float32{0.1}}
	bm25 := NewBM25Index()
	for _, c := range chunks {
		bm25.Add(c.ChunkID, c.Text)
	}

	engine := newTestEngine(meta, vec, emb, bm25, Config{Alpha: 0.7, MaxContextChunks: 1})
	result, err := engine.Retrieve(context.Background(), clinical.StructuredQuery{PatientID: "p1", OriginalQuery: "diabetes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected candidates capped to 1, got %d", len(result.Candidates))
	}
}

func TestRetrieveFallsBackToKeywordOnlyWhenEmbeddingFails(t *testing.T) {
	chunks := sampleChunks()
	meta := &fakeMetadataStore{hasChunks: true, chunks: chunks}
	vec := &fakeVectorStore{}
	emb := &fakeEmbedder{err: errors.New("embedding service down")}
	bm25 := NewBM25Index()
	for _, c := range chunks {
		bm25.Add(c.ChunkID, c.Text)
	}

	engine := newTestEngine(meta, vec, emb, bm25, Config{Alpha: 0.7, MaxContextChunks: 10})
	result, err := engine.Retrieve(context.Background(), clinical.StructuredQuery{PatientID: "p1", OriginalQuery: "metformin"})
	if err != nil {
		t.Fatalf("expected pipeline to degrade gracefully, got error: %v", err)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("expected candidates still returned on embedding failure, got %d", len(result.Candidates))
	}
	var hybridMetric StageMetric
	for _, m := range result.Metrics {
		if m.Stage == "hybrid_search" {
			hybridMetric = m
		}
	}
	if hybridMetric.Err == "" {
		t.Error("expected hybrid_search stage to record the embedding error")
	}
}

func TestRetrieveUsesCacheOnSecondCall(t *testing.T) {
	chunks := sampleChunks()
	meta := &fakeMetadataStore{hasChunks: true, chunks: chunks}
	vec := &fakeVectorStore{similarities: map[string]float64{"c1": 0.9, "c2": 0.5}}
	emb := &fakeEmbedder{vector: []float32{0.1}}
	bm25 := NewBM25Index()
	for _, c := range chunks {
		bm25.Add(c.ChunkID, c.Text)
	}

	engine := NewEngine(meta, vec, emb, bm25, NewResultCache(time.Minute, 10), Config{Alpha: 0.7, MaxContextChunks: 10})
	sq := clinical.StructuredQuery{PatientID: "p1", OriginalQuery: "metformin"}

	first, err := engine.Retrieve(context.Background(), sq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.CacheHit {
		t.Error("expected first call to be a cache miss")
	}

	second, err := engine.Retrieve(context.Background(), sq)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.CacheHit {
		t.Error("expected second identical call to be a cache hit")
	}
}

func TestRetrieveScoresFromPureDenseSimilarityNotHybridBlend(t *testing.T) {
	now := time.Now()
	chunk := clinical.Chunk{
		ChunkID: "c1", PatientID: "p1", ArtifactType: clinical.ArtifactMedication, OccurredAt: now,
		Text: "patient started metformin 500mg twice daily for type 2 diabetes management today",
	}
	meta := &fakeMetadataStore{hasChunks: true, chunks: []clinical.Chunk{chunk}}
	const denseSim = 0.6
	vec := &fakeVectorStore{similarities: map[string]float64{"c1": denseSim}}
	emb := &fakeEmbedder{vector: []float32{0.1}}

	bm25 := NewBM25Index()
	bm25.Add(chunk.ChunkID, chunk.Text)
	queryTokens := []string{"metformin", "diabetes"}
	rawKeyword := bm25.ScoreAll(queryTokens)["c1"]
	normKeyword := normalizeBM25(rawKeyword)

	const alpha = 0.3
	hybrid := alpha*denseSim + (1-alpha)*normKeyword
	if initialScore(hybrid, queryTokens, chunk, now) == initialScore(denseSim, queryTokens, chunk, now) {
		t.Fatalf("test fixture invalid: hybrid (%v) and dense (%v) must yield different scores for this assertion to be meaningful", hybrid, denseSim)
	}

	engine := newTestEngine(meta, vec, emb, bm25, Config{
		Alpha: alpha, MaxContextChunks: 10, EnableRecencyDecay: true,
	})

	result, err := engine.Retrieve(context.Background(), clinical.StructuredQuery{
		PatientID: "p1", OriginalQuery: "metformin diabetes",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(result.Candidates))
	}

	wantFromDense := initialScore(denseSim, queryTokens, chunk, now)
	wantFromHybrid := initialScore(hybrid, queryTokens, chunk, now)
	got := result.Candidates[0].Score

	const tol = 1e-9
	if diff := got - wantFromDense; diff > tol || diff < -tol {
		t.Errorf("expected Stage 3 score computed from pure dense similarity %v, got %v (want %v)", denseSim, got, wantFromDense)
	}
	if diff := got - wantFromHybrid; diff > -tol && diff < tol {
		t.Errorf("score matched the hybrid blend (%v) instead of pure dense similarity; keyword signal is being double-counted", wantFromHybrid)
	}
}

func TestRetrieveReturnsEmptyWhenNoChunksMatchFilters(t *testing.T) {
	meta := &fakeMetadataStore{hasChunks: true, chunks: nil}
	vec := &fakeVectorStore{}
	emb := &fakeEmbedder{}
	engine := newTestEngine(meta, vec, emb, NewBM25Index(), Config{Alpha: 0.7})

	result, err := engine.Retrieve(context.Background(), clinical.StructuredQuery{PatientID: "p1", OriginalQuery: "anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(result.Candidates))
	}
}
