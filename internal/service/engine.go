// Package service composes query understanding, retrieval, prompt
// assembly, generation, extraction, and the quality-assurance stages
// behind one facade exposing query, index, and recent_queries
// operations, used by cmd/api and cmd/indexer.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/extract"
	"github.com/cliniquery/cliniquery/internal/ingest"
	"github.com/cliniquery/cliniquery/internal/prompt"
	"github.com/cliniquery/cliniquery/internal/query"
	"github.com/cliniquery/cliniquery/internal/quality"
	"github.com/cliniquery/cliniquery/internal/retrieval"
	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// Config holds the per-request behavior the engine needs beyond its
// collaborators.
type Config struct {
	// RequestDeadline bounds one Query call end to end.
	RequestDeadline time.Duration
	Prompt          prompt.Config
	ModelUsed       string
	FeatureFlags    map[string]bool

	// EnableSelfCheckGPT turns on the optional regeneration-based
	// hallucination check alongside the primary weighted-score formula.
	EnableSelfCheckGPT bool
	SelfCheckGPT       quality.SelfCheckGPTConfig
}

// DefaultConfig returns the default engine settings: a 6-second deadline,
// the detailed prompt style, and SelfCheckGPT disabled.
func DefaultConfig() Config {
	return Config{
		RequestDeadline: 6 * time.Second,
		Prompt:          prompt.DefaultConfig(),
		ModelUsed:       "unknown",
	}
}

// Engine is the core facade: query understanding through retrieval,
// prompt assembly, generation, extraction, conversation persistence,
// and quality assurance.
type Engine struct {
	retrieval     *retrieval.Engine
	client        ai.Client
	conversations store.ConversationStore
	grounding     *quality.GroundingVerifier
	consistency   *quality.ConsistencyChecker
	indexer       *ingest.Indexer
	cfg           Config
}

// NewEngine wires an Engine from its collaborators. indexer may be nil for
// a query-only deployment (e.g. a read replica API node).
func NewEngine(retrievalEngine *retrieval.Engine, client ai.Client, conversations store.ConversationStore, vectors store.VectorStore, indexer *ingest.Indexer, cfg Config) *Engine {
	if cfg.RequestDeadline <= 0 {
		cfg.RequestDeadline = 6 * time.Second
	}
	return &Engine{
		retrieval:     retrievalEngine,
		client:        client,
		conversations: conversations,
		grounding:     quality.NewGroundingVerifier(client, vectors),
		consistency:   quality.NewConsistencyChecker(conversations),
		indexer:       indexer,
		cfg:           cfg,
	}
}

// Query runs the full pipeline for one free-text question against one
// patient's indexed records. A stage failure sets AnswerBundle.Error and
// returns whatever was computed so far; it never panics and never
// blocks past cfg.RequestDeadline.
func (e *Engine) Query(ctx context.Context, original, patientID string, style prompt.Style) clinical.AnswerBundle {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestDeadline)
	defer cancel()

	start := time.Now()
	timing := map[string]int64{}
	var bundle clinical.AnswerBundle

	sq, err := query.Parse(original, patientID)
	if err != nil {
		bundle.Error = err.Error()
		return bundle
	}
	bundle.QueryID = sq.QueryID

	stepStart := time.Now()
	result, err := e.retrieval.Retrieve(ctx, sq)
	timing["retrieval_ms"] = time.Since(stepStart).Milliseconds()
	if err != nil {
		bundle.Error = err.Error()
		return bundle
	}

	promptCfg := e.cfg.Prompt
	promptCfg.Style = style
	llmPrompt := prompt.Build(promptCfg, sq, result.Candidates, time.Now())

	stepStart = time.Now()
	raw, err := e.client.Generate(ctx, llmPrompt, ai.GenerateOptions{Temperature: 0.2, MaxTokens: 1536})
	timing["generation_ms"] = time.Since(stepStart).Milliseconds()
	if err != nil {
		bundle.Error = err.Error()
		return bundle
	}

	answer, err := extract.Parse(raw, result.Candidates)
	if err != nil {
		bundle.Error = err.Error()
		return bundle
	}

	record := clinical.ConversationRecord{
		ID:                  uuid.NewString(),
		PatientID:           patientID,
		Query:               original,
		QueryIntent:         sq.Intent,
		QueryTimestamp:      time.Now(),
		ShortAnswer:         answer.ShortAnswer,
		DetailedSummary:     answer.DetailedSummary,
		ModelUsed:           e.cfg.ModelUsed,
		Extractions:         answer.Extractions,
		Sources:             sourceArtifactIDs(answer.Extractions),
		RetrievalCandidates: result.Candidates,
		FeatureFlags:        e.cfg.FeatureFlags,
	}

	stepStart = time.Now()
	record.Quality = e.assessQuality(ctx, &record, llmPrompt)
	timing["quality_ms"] = time.Since(stepStart).Milliseconds()
	timing["total_ms"] = time.Since(start).Milliseconds()
	record.TimingMillis = timing

	if err := e.conversations.SaveConversation(ctx, record); err != nil {
		log.Error().Err(err).Str("conversation_id", record.ID).Msg("failed to persist conversation")
	}

	bundle.ShortAnswer = record.ShortAnswer
	bundle.DetailedSummary = record.DetailedSummary
	bundle.Extractions = record.Extractions
	bundle.Sources = record.Sources
	bundle.Quality = record.Quality
	return bundle
}

// assessQuality runs every quality-assurance stage and persists each
// stage's record. A persistence failure is logged and does not affect
// the returned QualityMetrics or fail the query response.
func (e *Engine) assessQuality(ctx context.Context, record *clinical.ConversationRecord, llmPrompt string) clinical.QualityMetrics {
	groundingResult, err := e.grounding.Verify(ctx, record.ShortAnswer, record.DetailedSummary, record.RetrievalCandidates)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", record.ID).Msg("grounding verification failed")
	} else if err := e.conversations.SaveGroundingVerification(ctx, record.ID, groundingResult.Score, unsupportedStatements(groundingResult), groundingResult.Warnings); err != nil {
		log.Error().Err(err).Str("conversation_id", record.ID).Msg("persist grounding verification failed")
	}

	consistencyResult, err := e.consistency.Check(ctx, record.PatientID, record.ID, record.Extractions, record.ShortAnswer, record.DetailedSummary, record.QueryTimestamp)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", record.ID).Msg("consistency check failed")
		consistencyResult = quality.ConsistencyResult{Score: 1}
	} else if err := e.conversations.SaveConsistencyCheck(ctx, record.ID, consistencyResult.Score, consistencyResult.Contradictions, consistencyResult.Warnings); err != nil {
		log.Error().Err(err).Str("conversation_id", record.ID).Msg("persist consistency check failed")
	}

	confidenceResult := quality.AggregateConfidence(record.Extractions, record.RetrievalCandidates, consistencyResult.Score)
	if err := e.conversations.SaveConfidenceMetrics(ctx, record.ID, confidenceResult.Overall, confidenceResult.UncertaintyLevel, confidenceResult.LowConfidenceReasons); err != nil {
		log.Error().Err(err).Str("conversation_id", record.ID).Msg("persist confidence metrics failed")
	}

	hallucination := e.detectHallucination(ctx, groundingResult.Score, consistencyResult.Score, confidenceResult.Overall, llmPrompt)
	if err := e.conversations.SaveHallucinationDetection(ctx, record.ID, hallucination.Risk, hallucination.Detected, hallucination.RiskLevel, hallucination.Method); err != nil {
		log.Error().Err(err).Str("conversation_id", record.ID).Msg("persist hallucination detection failed")
	}

	return quality.Aggregate(groundingResult.Score, consistencyResult.Score, confidenceResult.Overall, hallucination.Risk)
}

// detectHallucination runs the primary weighted-score formula and, when
// enabled, also runs the optional SelfCheckGPT regeneration path, taking
// the higher of the two risks and flagging detection if either path
// flags it ("more cautious wins").
func (e *Engine) detectHallucination(ctx context.Context, grounding, consistency, confidence float64, llmPrompt string) quality.HallucinationResult {
	primary := quality.DetectPrimary(grounding, consistency, confidence)
	if !e.cfg.EnableSelfCheckGPT {
		return primary
	}
	selfCheck, err := quality.DetectSelfCheckGPT(ctx, e.client, e.client, llmPrompt, e.cfg.SelfCheckGPT)
	if err != nil {
		log.Warn().Err(err).Msg("selfcheckgpt path failed, falling back to primary hallucination risk")
		return primary
	}
	if selfCheck.Risk <= primary.Risk {
		return primary
	}
	selfCheck.Method = "primary+selfcheckgpt"
	selfCheck.Detected = selfCheck.Detected || primary.Detected
	return selfCheck
}

// Index triggers ingestion for the bundles under the indexer's root
// directory. forceReindex is accepted for interface parity but has no
// effect beyond the already-idempotent UpsertChunk, since re-ingesting
// unchanged content converges to the same metadata store state.
func (e *Engine) Index(ctx context.Context, patientID string, forceReindex bool) clinical.IndexReport {
	start := time.Now()
	report := clinical.IndexReport{PatientID: patientID}
	if e.indexer == nil {
		report.Error = "no indexer configured for this engine"
		return report
	}
	if err := e.indexer.Run(ctx); err != nil {
		report.Error = err.Error()
	} else {
		report.Success = true
	}
	report.DurationMillis = time.Since(start).Milliseconds()
	return report
}

// RecentQueries returns a patient's most recent persisted conversations,
// newest first.
func (e *Engine) RecentQueries(ctx context.Context, patientID string, limit int) ([]clinical.ConversationRecord, error) {
	return e.conversations.RecentConversations(ctx, patientID, limit)
}

func sourceArtifactIDs(extractions []clinical.Extraction) []string {
	seen := make(map[string]bool, len(extractions))
	var out []string
	for _, ex := range extractions {
		id := ex.Provenance.ArtifactID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func unsupportedStatements(g quality.GroundingResult) []string {
	var out []string
	for _, s := range g.Statements {
		if s.VerificationMethod == clinical.VerifyUnsupported {
			out = append(out, s.Statement)
		}
	}
	return out
}
