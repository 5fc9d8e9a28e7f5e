package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/auth"
	"github.com/cliniquery/cliniquery/internal/config"
	"github.com/cliniquery/cliniquery/internal/prompt"
	"github.com/cliniquery/cliniquery/internal/retrieval"
	"github.com/cliniquery/cliniquery/internal/service"
	"github.com/cliniquery/cliniquery/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("cliniquery-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting cliniquery api")

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
	logger.Info().Int("embedding_dim", dim).Str("embed_model", cfg.EmbedModel).Msg("ai client initialized")

	var signer *auth.Signer
	if cfg.Auth.Enabled {
		signer, err = auth.NewSigner(cfg.Auth.JwtSecret)
		if err != nil {
			log.Fatalf("failed to initialize conversation-record signer: %v", err)
		}
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database, dim, 20, signer)
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
	logger.Info().Int("documents", bm25.Len()).Msg("keyword index rebuilt from metadata store")

	var cache *retrieval.ResultCache
	if cfg.Cache.Enabled {
		cache = retrieval.NewResultCache(time.Duration(cfg.Cache.TTLSeconds)*time.Second, cfg.Cache.MaxEntries)
	}

	retrievalEngine := retrieval.NewEngine(st, st, client, bm25, cache, retrieval.Config{
		Alpha:              cfg.Retrieval.Alpha,
		TopK:               cfg.Performance.RetrievalTopK,
		DiversityThreshold: cfg.Retrieval.DiversityThreshold,
		MaxContextChunks:   cfg.Retrieval.MaxContextChunks,
		SnippetLength:      cfg.Retrieval.SnippetLength,
		EnableReranking:    cfg.Retrieval.EnableReranking,
		EnableDiversify:    cfg.Retrieval.EnableDiversify,
		EnableRecencyDecay: cfg.Retrieval.EnableRecencyDecay,
	})

	engine := service.NewEngine(retrievalEngine, client, st, st, nil, service.Config{
		RequestDeadline: time.Duration(cfg.RequestDeadlineMS) * time.Millisecond,
		Prompt:          prompt.Config{MaxContextChunks: cfg.Retrieval.MaxContextChunks, Style: prompt.StyleDetailed},
		ModelUsed:       cfg.GenerateModel,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		patientID := r.URL.Query().Get("patient_id")
		if q == "" || patientID == "" {
			http.Error(w, "missing required query parameters q and patient_id", http.StatusBadRequest)
			return
		}
		style := prompt.StyleDetailed
		if r.URL.Query().Get("style") == "concise" {
			style = prompt.StyleConcise
		}

		bundle := engine.Query(r.Context(), q, patientID, style)
		writeJSON(w, bundle)
		hlog.FromRequest(r).Info().Str("path", "/query").Str("query_id", bundle.QueryID).Str("patient_id", patientID).Msg("served")
	})

	mux.HandleFunc("/recent_queries", func(w http.ResponseWriter, r *http.Request) {
		patientID := r.URL.Query().Get("patient_id")
		if patientID == "" {
			http.Error(w, "missing required query parameter patient_id", http.StatusBadRequest)
			return
		}
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		records, err := engine.RecentQueries(r.Context(), patientID, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})

	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		patientID := r.URL.Query().Get("patient_id")
		force := r.URL.Query().Get("force_reindex") == "true"
		report := engine.Index(r.Context(), patientID, force)
		writeJSON(w, report)
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
