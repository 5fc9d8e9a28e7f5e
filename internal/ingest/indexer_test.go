package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/retrieval"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// mockFileSystemWalker bypasses godirwalk.Dirent (which cannot easily be
// constructed outside the package) by invoking the callback directly for
// each configured file path.
type mockFileSystemWalker struct {
	FilesToProcess []string
	WalkError      error
}

func (m *mockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	if m.WalkError != nil {
		return m.WalkError
	}
	for _, path := range m.FilesToProcess {
		if err := options.Callback(path, nil); err != nil {
			return err
		}
	}
	return nil
}

type mockFileReader struct {
	Files map[string]string
}

func (m *mockFileReader) ReadFile(filename string) ([]byte, error) {
	if content, ok := m.Files[filename]; ok {
		return []byte(content), nil
	}
	return nil, errors.New("file not found")
}

type fakeMetadataStore struct {
	upserted []clinical.Chunk
	err      error
}

func (f *fakeMetadataStore) UpsertChunk(ctx context.Context, c clinical.Chunk, embedding []float32) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, c)
	return nil
}

func (f *fakeMetadataStore) ChunkByID(ctx context.Context, chunkID string) (clinical.Chunk, bool, error) {
	return clinical.Chunk{}, false, nil
}

func (f *fakeMetadataStore) ChunksByPatient(ctx context.Context, patientID string, filters clinical.Filters) ([]clinical.Chunk, error) {
	return nil, nil
}

func (f *fakeMetadataStore) PatientHasChunks(ctx context.Context, patientID string) (bool, error) {
	return len(f.upserted) > 0, nil
}

func (f *fakeMetadataStore) AllChunks(ctx context.Context) ([]clinical.Chunk, error) {
	return f.upserted, nil
}

type fakeEmbedder struct {
	err        error
	batchSizes []int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchSizes = append(f.batchSizes, len(texts))
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func (f *fakeEmbedder) Health(ctx context.Context) bool { return f.err == nil }
func (f *fakeEmbedder) EmbeddingInfo() ai.EmbeddingInfo { return ai.EmbeddingInfo{Provider: "fake"} }

const sampleBundle = `{
	"patient_id": "p1",
	"records": [
		{
			"id": "a1",
			"type": "medication",
			"author": "Dr. Lee",
			"title": "Metformin",
			"fields": {
				"name": "Metformin", "dosage": "500mg", "frequency": "twice daily",
				"indication": "type 2 diabetes", "start_date": "2025-01-15"
			}
		},
		{
			"id": "a2",
			"type": "condition",
			"author": "Dr. Lee",
			"title": "Type 2 Diabetes",
			"fields": {"name": "Type 2 Diabetes", "status": "active", "onset_date": "2024-06-01"}
		}
	]
}`

func TestIndexerRunProcessesBundleAndIndexesChunks(t *testing.T) {
	meta := &fakeMetadataStore{}
	bm25 := retrieval.NewBM25Index()
	embedder := &fakeEmbedder{}

	walker := &mockFileSystemWalker{FilesToProcess: []string{"/data/p1.json"}}
	reader := &mockFileReader{Files: map[string]string{"/data/p1.json": sampleBundle}}

	ix := NewWithDependencies(meta, bm25, embedder, "/data", walker, reader)
	if err := ix.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(meta.upserted) == 0 {
		t.Fatal("expected at least one chunk to be upserted")
	}
	for _, c := range meta.upserted {
		if c.PatientID != "p1" {
			t.Errorf("expected patient id p1, got %s", c.PatientID)
		}
	}
	if bm25.Len() != len(meta.upserted) {
		t.Errorf("expected bm25 index to contain every upserted chunk, got %d vs %d", bm25.Len(), len(meta.upserted))
	}
}

func TestIndexerRunSkipsNonJSONFiles(t *testing.T) {
	meta := &fakeMetadataStore{}
	bm25 := retrieval.NewBM25Index()
	embedder := &fakeEmbedder{}

	walker := &mockFileSystemWalker{FilesToProcess: []string{"/data/readme.txt", "/data/p1.json"}}
	reader := &mockFileReader{Files: map[string]string{
		"/data/readme.txt": "not json",
		"/data/p1.json":    sampleBundle,
	}}

	ix := NewWithDependencies(meta, bm25, embedder, "/data", walker, reader)
	if err := ix.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meta.upserted) == 0 {
		t.Fatal("expected the json bundle to still be processed")
	}
}

func TestIndexerRunContinuesWhenEmbeddingFails(t *testing.T) {
	meta := &fakeMetadataStore{}
	bm25 := retrieval.NewBM25Index()
	embedder := &fakeEmbedder{err: errors.New("embedding service unavailable")}

	walker := &mockFileSystemWalker{FilesToProcess: []string{"/data/p1.json"}}
	reader := &mockFileReader{Files: map[string]string{"/data/p1.json": sampleBundle}}

	ix := NewWithDependencies(meta, bm25, embedder, "/data", walker, reader)
	if err := ix.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(meta.upserted) == 0 {
		t.Fatal("expected chunks to still be indexed without embeddings")
	}
}

func TestIndexerRunPropagatesWalkError(t *testing.T) {
	meta := &fakeMetadataStore{}
	bm25 := retrieval.NewBM25Index()
	embedder := &fakeEmbedder{}

	walker := &mockFileSystemWalker{WalkError: errors.New("disk unavailable")}
	reader := &mockFileReader{}

	ix := NewWithDependencies(meta, bm25, embedder, "/data", walker, reader)
	if err := ix.Run(context.Background()); err == nil {
		t.Fatal("expected walk error to propagate")
	}
}

func TestEmbedInBatchesSplitsAtConfiguredSize(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix := &Indexer{Embedder: embedder, MaxEmbeddingBatchSize: 2}

	texts := []string{"a", "b", "c", "d", "e"}
	out, err := ix.embedInBatches(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(out))
	}
	wantBatchSizes := []int{2, 2, 1}
	if len(embedder.batchSizes) != len(wantBatchSizes) {
		t.Fatalf("expected %d EmbedBatch calls, got %d: %v", len(wantBatchSizes), len(embedder.batchSizes), embedder.batchSizes)
	}
	for i, want := range wantBatchSizes {
		if embedder.batchSizes[i] != want {
			t.Errorf("batch %d: expected size %d, got %d", i, want, embedder.batchSizes[i])
		}
	}
}

func TestEmbedInBatchesDoesNotSplitWhenUnderLimit(t *testing.T) {
	embedder := &fakeEmbedder{}
	ix := &Indexer{Embedder: embedder, MaxEmbeddingBatchSize: 100}

	texts := []string{"a", "b", "c"}
	if _, err := ix.embedInBatches(context.Background(), texts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(embedder.batchSizes) != 1 || embedder.batchSizes[0] != 3 {
		t.Errorf("expected a single batch of 3, got %v", embedder.batchSizes)
	}
}

func TestIsBundleFile(t *testing.T) {
	if !isBundleFile("/data/p1.json") {
		t.Error("expected .json file to be recognized as a bundle")
	}
	if isBundleFile("/data/readme.txt") {
		t.Error("expected .txt file to be skipped")
	}
}
