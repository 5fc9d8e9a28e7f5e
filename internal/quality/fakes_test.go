package quality

import (
	"context"
	"time"

	"github.com/cliniquery/cliniquery/internal/ai"
	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

type fakeEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.EmbedFunc != nil {
		return f.EmbedFunc(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
func (f *fakeEmbedder) Health(ctx context.Context) bool { return true }
func (f *fakeEmbedder) EmbeddingInfo() ai.EmbeddingInfo { return ai.EmbeddingInfo{Provider: "stub"} }

type fakeGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)
	calls        int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	f.calls++
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, prompt, opts)
	}
	return "answer", nil
}
func (f *fakeGenerator) Health(ctx context.Context) bool          { return true }
func (f *fakeGenerator) GenerationInfo() ai.GenerationInfo        { return ai.GenerationInfo{Provider: "stub"} }

type fakeVectorStore struct {
	SimilarityFunc func(ctx context.Context, vector []float32, ids []string) (map[string]float64, error)
}

func (f *fakeVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, vector []float32, k int) ([]store.VectorResult, error) {
	return nil, nil
}
func (f *fakeVectorStore) SimilarityForIDs(ctx context.Context, vector []float32, ids []string) (map[string]float64, error) {
	if f.SimilarityFunc != nil {
		return f.SimilarityFunc(ctx, vector, ids)
	}
	return map[string]float64{}, nil
}
func (f *fakeVectorStore) Load(ctx context.Context) error { return nil }
func (f *fakeVectorStore) Save(ctx context.Context) error { return nil }
func (f *fakeVectorStore) Stats(ctx context.Context) (store.VectorStats, error) {
	return store.VectorStats{}, nil
}

type fakeConversationStore struct {
	ConversationsSinceFunc func(ctx context.Context, patientID string, since time.Time, excludeID string) ([]clinical.ConversationRecord, error)
}

func (f *fakeConversationStore) SaveConversation(ctx context.Context, rec clinical.ConversationRecord) error {
	return nil
}
func (f *fakeConversationStore) SaveGroundingVerification(ctx context.Context, conversationID string, score float64, unsupported, warnings []string) error {
	return nil
}
func (f *fakeConversationStore) SaveConsistencyCheck(ctx context.Context, conversationID string, score float64, contradictions []clinical.Contradiction, warnings []string) error {
	return nil
}
func (f *fakeConversationStore) SaveConfidenceMetrics(ctx context.Context, conversationID string, overall float64, uncertaintyLevel string, lowConfidenceReasons []string) error {
	return nil
}
func (f *fakeConversationStore) SaveHallucinationDetection(ctx context.Context, conversationID string, risk float64, detected bool, riskLevel, method string) error {
	return nil
}
func (f *fakeConversationStore) SaveQualityTrend(ctx context.Context, patientID string, windowStart, windowEnd time.Time, avgGrounding, avgConsistency, avgConfidence, avgOverall float64, sampleCount int) error {
	return nil
}
func (f *fakeConversationStore) RecentConversations(ctx context.Context, patientID string, limit int) ([]clinical.ConversationRecord, error) {
	return nil, nil
}
func (f *fakeConversationStore) ConversationsSince(ctx context.Context, patientID string, since time.Time, excludeID string) ([]clinical.ConversationRecord, error) {
	if f.ConversationsSinceFunc != nil {
		return f.ConversationsSinceFunc(ctx, patientID, since, excludeID)
	}
	return nil, nil
}
