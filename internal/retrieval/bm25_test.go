package retrieval

import "testing"

func TestBM25EmptyIndexReturnsZeroWithoutPanicking(t *testing.T) {
	idx := NewBM25Index()
	if got := idx.Score([]string{"fever"}, "doc-1"); got != 0 {
		t.Errorf("expected 0 score on empty index, got %v", got)
	}
	if all := idx.ScoreAll([]string{"fever"}); len(all) != 0 {
		t.Errorf("expected empty result set, got %v", all)
	}
}

func TestBM25FavorsDocumentWithHigherTermFrequency(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("doc-1", "patient reports fever fever fever and chills")
	idx.Add("doc-2", "patient reports a single mild fever today")
	idx.Add("doc-3", "routine checkup, no complaints")

	s1 := idx.Score([]string{"fever"}, "doc-1")
	s2 := idx.Score([]string{"fever"}, "doc-2")
	if s1 <= s2 {
		t.Errorf("expected doc-1 (3 occurrences) to outscore doc-2 (1 occurrence): %v vs %v", s1, s2)
	}
	if idx.Score([]string{"fever"}, "doc-3") != 0 {
		t.Errorf("expected 0 score for a document without the term")
	}
}

func TestBM25ReaddingDocumentIsIdempotent(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("doc-1", "chest pain and shortness of breath")
	first := idx.Score([]string{"chest", "pain"}, "doc-1")

	idx.Add("doc-1", "chest pain and shortness of breath")
	second := idx.Score([]string{"chest", "pain"}, "doc-1")

	if first != second {
		t.Errorf("expected re-adding the same content to be idempotent: %v vs %v", first, second)
	}
	if idx.Len() != 1 {
		t.Errorf("expected 1 document after re-add, got %d", idx.Len())
	}
}

func TestBM25RemoveDropsDocument(t *testing.T) {
	idx := NewBM25Index()
	idx.Add("doc-1", "fever and chills")
	idx.Remove("doc-1")
	if idx.Len() != 0 {
		t.Errorf("expected 0 documents after remove, got %d", idx.Len())
	}
	if idx.Score([]string{"fever"}, "doc-1") != 0 {
		t.Error("expected 0 score for a removed document")
	}
}
