// Package textproc provides the sentence segmentation and tokenization
// primitives shared by ingestion chunking and the BM25 side of retrieval.
package textproc

import (
	"strings"
	"unicode"
)

// stopWords are dropped from the BM25 token stream; short closed-class
// words in English clinical free text that never carry keyword signal.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "being": true, "has": true, "have": true,
	"had": true, "it": true, "its": true, "this": true, "that": true,
	"as": true, "by": true, "from": true, "he": true, "she": true,
	"his": true, "her": true, "patient": true, "pt": true,
}

// Tokenize lowercases text, strips non-alphanumeric runes, and drops stop
// words and single-character tokens, producing the keyword stream BM25
// indexes over.
func Tokenize(text string) []string {
	lower := strings.ToLower(text)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 1 {
			continue
		}
		if stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// TermFrequencies counts token occurrences in a single document's token
// stream, the input BM25 needs per-document.
func TermFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}
