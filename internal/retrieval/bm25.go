// Package retrieval implements the hybrid search and scoring pipeline:
// metadata filtering, BM25 + dense hybrid search, initial scoring,
// optional re-ranking, diversification, and recency decay, plus
// snippet/highlight extraction and the bounded result cache.
package retrieval

import (
	"context"
	"math"
	"sync"

	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/internal/textproc"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Index is the process-wide mutable keyword index: per-document
// term frequencies, per-term document frequency, and a running average
// document length, all updated incrementally as documents are added.
// Adds are serialized against each other; reads are concurrent, via a
// RWMutex.
type BM25Index struct {
	mu         sync.RWMutex
	docTerms   map[string]map[string]int // docID -> term -> tf
	docLength  map[string]int            // docID -> token count (length-1 convention for empty docs)
	docFreq    map[string]int            // term -> number of docs containing it
	totalDocs  int
	totalWords int
}

// NewBM25Index creates an empty index.
func NewBM25Index() *BM25Index {
	return &BM25Index{
		docTerms:  make(map[string]map[string]int),
		docLength: make(map[string]int),
		docFreq:   make(map[string]int),
	}
}

// Add indexes (or re-indexes) a document's text under docID. Re-adding the
// same docID first removes its prior contribution so repeated ingestion of
// an unchanged chunk is idempotent.
func (idx *BM25Index) Add(docID, text string) {
	tokens := textproc.Tokenize(text)
	tf := textproc.TermFrequencies(tokens)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(docID)

	length := len(tokens)
	if length == 0 {
		length = 1 // a document with zero tokens has length 1 by convention
	}
	idx.docTerms[docID] = tf
	idx.docLength[docID] = length
	idx.totalDocs++
	idx.totalWords += length
	for term := range tf {
		idx.docFreq[term]++
	}
}

// Remove drops a document from the index.
func (idx *BM25Index) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(docID)
}

func (idx *BM25Index) removeLocked(docID string) {
	tf, ok := idx.docTerms[docID]
	if !ok {
		return
	}
	for term := range tf {
		idx.docFreq[term]--
		if idx.docFreq[term] <= 0 {
			delete(idx.docFreq, term)
		}
	}
	idx.totalWords -= idx.docLength[docID]
	idx.totalDocs--
	delete(idx.docTerms, docID)
	delete(idx.docLength, docID)
}

// avgDocLengthLocked returns the running average document length; callers must
// hold at least a read lock.
func (idx *BM25Index) avgDocLengthLocked() float64 {
	if idx.totalDocs == 0 {
		return 1
	}
	return float64(idx.totalWords) / float64(idx.totalDocs)
}

// Score computes the Okapi BM25 score of query against docID (k1=1.5,
// b=0.75). Scoring a document outside the index, or an empty index,
// yields 0 without division by zero.
func (idx *BM25Index) Score(query []string, docID string) float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 {
		return 0
	}
	tf, ok := idx.docTerms[docID]
	if !ok {
		return 0
	}
	avgLen := idx.avgDocLengthLocked()
	docLen := float64(idx.docLength[docID])

	var score float64
	for _, term := range query {
		freq, ok := tf[term]
		if !ok || freq == 0 {
			continue
		}
		df := idx.docFreq[term]
		idf := math.Log(1 + (float64(idx.totalDocs)-float64(df)+0.5)/(float64(df)+0.5))
		numerator := float64(freq) * (bm25K1 + 1)
		denominator := float64(freq) + bm25K1*(1-bm25B+bm25B*(docLen/avgLen))
		score += idf * (numerator / denominator)
	}
	return score
}

// ScoreAll computes BM25 scores for every document currently in the
// index, for callers that want a full ranked keyword pass rather than
// scoring a pre-selected candidate set.
func (idx *BM25Index) ScoreAll(query []string) map[string]float64 {
	idx.mu.RLock()
	docIDs := make([]string, 0, len(idx.docTerms))
	for id := range idx.docTerms {
		docIDs = append(docIDs, id)
	}
	idx.mu.RUnlock()

	out := make(map[string]float64, len(docIDs))
	for _, id := range docIDs {
		out[id] = idx.Score(query, id)
	}
	return out
}

// Len reports the number of documents currently indexed.
func (idx *BM25Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs
}

// LoadBM25FromStore rebuilds a process-wide BM25Index from every chunk in
// metadata, for a freshly started API server that must recover its
// in-memory keyword index against an already populated metadata store.
func LoadBM25FromStore(ctx context.Context, metadata store.MetadataStore) (*BM25Index, error) {
	chunks, err := metadata.AllChunks(ctx)
	if err != nil {
		return nil, err
	}
	idx := NewBM25Index()
	for _, c := range chunks {
		idx.Add(c.ChunkID, c.Text)
	}
	return idx, nil
}
