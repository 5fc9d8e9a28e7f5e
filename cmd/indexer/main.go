package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/pflag"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/config"
	"github.com/cliniquery/cliniquery/internal/ingest"
	"github.com/cliniquery/cliniquery/internal/retrieval"
	"github.com/cliniquery/cliniquery/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("cliniquery-indexer", pflag.ExitOnError)
	rootDir := fs.String("root-dir", "./data/patients", "directory of per-patient bundle JSON files to ingest")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	client, err := ai.NewClient(ai.Config{
		Provider:      cfg.Provider,
		BaseURL:       cfg.BaseURL,
		EmbedModel:    cfg.EmbedModel,
		GenerateModel: cfg.GenerateModel,
		Dim:           cfg.Dim,
		Timeout:       time.Duration(cfg.RequestDeadlineMS) * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("failed to create ai client: %v", err)
	}
	dim := cfg.Dim
	if dim <= 0 {
		dim = client.EmbeddingInfo().Dimensions
	}
	if dim == 0 {
		log.Fatal("embedding dimension must be set")
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database, dim, 20, nil)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	bm25, err := retrieval.LoadBM25FromStore(ctx, st)
	if err != nil {
		log.Fatalf("failed to rebuild keyword index: %v", err)
	}

	ix := ingest.New(st, bm25, client, *rootDir)
	if cfg.Performance.MaxEmbeddingBatchSize > 0 {
		ix.MaxEmbeddingBatchSize = cfg.Performance.MaxEmbeddingBatchSize
	}

	log.Printf("ingesting bundles from %s", *rootDir)
	if err := ix.Run(ctx); err != nil {
		log.Fatalf("ingestion failed: %v", err)
	}
	log.Printf("ingestion complete: %d chunks in keyword index", bm25.Len())
}
