package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/retrieval"
	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// FileSystemWalker abstracts directory traversal so tests can substitute a
// fixed file list instead of touching disk.
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader abstracts file reads for the same reason.
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker walks the real filesystem via godirwalk.
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader reads real files via os.ReadFile.
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// rawRecordJSON is the on-disk shape of one EMR record inside a patient
// bundle file: a flat, loosely-typed bag matching RawRecord but with a
// string timestamp, since JSON has no native time.Time.
type rawRecordJSON struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Author     string            `json:"author"`
	Title      string            `json:"title"`
	Source     string            `json:"source"`
	Fields     map[string]string `json:"fields"`
	OccurredAt string            `json:"occurred_at"`
}

// patientBundle is one ingestion unit: every raw record for a single
// patient, grouped so enrichment can see the patient's full artifact set
// before any chunk is written.
type patientBundle struct {
	PatientID string          `json:"patient_id"`
	Records   []rawRecordJSON `json:"records"`
}

// Indexer walks a directory of per-patient JSON bundles, normalizing,
// chunking, enriching, embedding and indexing every artifact it finds.
// One bundle file is one work item, since enrichment needs a patient's
// full artifact set up front.
const defaultMaxEmbeddingBatchSize = 100

type Indexer struct {
	Metadata   store.MetadataStore
	BM25       *retrieval.BM25Index
	Embedder   ai.Embedder
	RootDir    string
	Walker     FileSystemWalker
	FileReader FileReader

	// MaxEmbeddingBatchSize caps how many chunk texts are sent to the
	// embedder in one EmbedBatch call. Defaults to 100 when unset.
	MaxEmbeddingBatchSize int
}

// New creates an Indexer backed by the real filesystem. metadata is
// expected to satisfy both store.MetadataStore (for UpsertChunk) and the
// embedding-column writes folded into it, since the cliniquery schema
// consolidates chunk metadata and vectors into one table.
func New(metadata store.MetadataStore, bm25 *retrieval.BM25Index, embedder ai.Embedder, rootDir string) *Indexer {
	return &Indexer{
		Metadata:              metadata,
		BM25:                  bm25,
		Embedder:              embedder,
		RootDir:               rootDir,
		Walker:                &DefaultFileSystemWalker{},
		FileReader:            &DefaultFileReader{},
		MaxEmbeddingBatchSize: defaultMaxEmbeddingBatchSize,
	}
}

// NewWithDependencies creates an Indexer with injected dependencies, for
// tests.
func NewWithDependencies(metadata store.MetadataStore, bm25 *retrieval.BM25Index, embedder ai.Embedder, rootDir string, walker FileSystemWalker, reader FileReader) *Indexer {
	return &Indexer{
		Metadata:              metadata,
		BM25:                  bm25,
		Embedder:              embedder,
		RootDir:               rootDir,
		Walker:                walker,
		FileReader:            reader,
		MaxEmbeddingBatchSize: defaultMaxEmbeddingBatchSize,
	}
}

type workItem struct {
	path    string
	content []byte
}

// processBundle normalizes every record in a patient bundle into
// artifacts, then chunks, enriches, embeds and indexes each artifact's
// chunks. Enrichment runs against the bundle's full artifact list so a
// condition or medication chunk processed early can still be cross
// referenced by a note chunk processed later in the same bundle.
func (ix *Indexer) processBundle(ctx context.Context, item workItem) error {
	var bundle patientBundle
	if err := json.Unmarshal(item.content, &bundle); err != nil {
		return fmt.Errorf("parse bundle %s: %w", item.path, err)
	}

	now := time.Now()
	artifacts := make([]clinical.Artifact, 0, len(bundle.Records))
	for _, rec := range bundle.Records {
		raw := RawRecord{
			ID:        rec.ID,
			PatientID: bundle.PatientID,
			Type:      clinical.ArtifactType(rec.Type),
			Author:    rec.Author,
			Title:     rec.Title,
			Source:    rec.Source,
			Fields:    rec.Fields,
		}
		if rec.OccurredAt != "" {
			if t, err := parseFlexibleDate(rec.OccurredAt); err == nil {
				raw.OccurredAt = &t
			}
		}
		artifact, warnings := Normalize(raw, now)
		for _, w := range warnings {
			log.Warn().Str("artifact_id", w.ArtifactID).Str("bundle", item.path).Msg(w.Message)
		}
		artifacts = append(artifacts, artifact)
	}

	for _, artifact := range artifacts {
		chunks, _ := Chunk(artifact)
		for i, chunk := range chunks {
			chunk = Enrich(chunk, artifacts)
			chunks[i] = chunk
		}

		var texts []string
		for _, c := range chunks {
			texts = append(texts, c.Text)
		}
		var embeddings [][]float32
		if ix.Embedder != nil && len(texts) > 0 {
			var err error
			embeddings, err = ix.embedInBatches(ctx, texts)
			if err != nil {
				log.Warn().Err(err).Str("artifact_id", artifact.ID).Msg("embedding failed, indexing without vectors")
				embeddings = nil
			}
		}

		for i, chunk := range chunks {
			var embedding []float32
			if embeddings != nil && i < len(embeddings) {
				embedding = embeddings[i]
			}
			if err := ix.Metadata.UpsertChunk(ctx, chunk, embedding); err != nil {
				log.Error().Err(err).Str("chunk_id", chunk.ChunkID).Msg("upsert failed")
				continue
			}
			ix.BM25.Add(chunk.ChunkID, chunk.Text)
			log.Info().Str("chunk_id", chunk.ChunkID).Str("patient_id", chunk.PatientID).
				Str("artifact_type", string(chunk.ArtifactType)).Msg("indexed chunk")
		}
	}

	return nil
}

// embedInBatches splits texts into groups of at most MaxEmbeddingBatchSize
// and embeds each group in turn, preserving input order in the returned
// slice. A failure on any group fails the whole call, since a partial
// result would misalign with the caller's chunk list.
func (ix *Indexer) embedInBatches(ctx context.Context, texts []string) ([][]float32, error) {
	batchSize := ix.MaxEmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = defaultMaxEmbeddingBatchSize
	}
	if len(texts) <= batchSize {
		return ix.Embedder.EmbedBatch(ctx, texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		embeddings, err := ix.Embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, embeddings...)
	}
	return out, nil
}

// Run walks RootDir for patient bundle files and indexes them concurrently
// through a bounded worker pool: a buffered work channel, a small fixed
// pool of goroutines, and a single-slot error channel that surfaces the
// first hard failure without blocking workers.
func (ix *Indexer) Run(ctx context.Context) error {
	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8
	}

	log.Info().Int("workers", numWorkers).Str("root", ix.RootDir).Msg("starting concurrent ingestion")

	workChan := make(chan workItem, numWorkers*2)
	errorChan := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for item := range workChan {
				if err := ix.processBundle(ctx, item); err != nil {
					select {
					case errorChan <- err:
					default:
						log.Error().Err(err).Str("path", item.path).Msg("worker processing error")
					}
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(errorChan)
	}()

	walkErr := ix.Walker.Walk(ix.RootDir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if !isBundleFile(path) {
				return nil
			}
			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read bundle file")
				return nil
			}
			select {
			case workChan <- workItem{path: path, content: b}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	select {
	case err := <-errorChan:
		if err != nil {
			return err
		}
	default:
	}

	return walkErr
}

func isBundleFile(path string) bool {
	return len(path) > 5 && path[len(path)-5:] == ".json"
}
