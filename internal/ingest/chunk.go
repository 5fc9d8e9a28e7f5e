package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/cliniquery/cliniquery/internal/textproc"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

const (
	minChunkWords = 50
	maxChunkWords = 150
	maxSentenceRunes = 400
)

// hashID returns a SHA-1 hex digest used as a content-addressed,
// idempotent identifier.
func hashID(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Chunk splits an artifact's text into ~50-150 word chunks without ever
// splitting a sentence, and segments each chunk into sentences carrying
// both chunk-relative and artifact-relative offsets.
func Chunk(a clinical.Artifact) ([]clinical.Chunk, []clinical.Sentence) {
	sentenceSpans := textproc.SplitSentences(a.Text, maxSentenceRunes)
	if len(sentenceSpans) == 0 {
		return nil, nil
	}

	var chunks []clinical.Chunk
	var sentences []clinical.Sentence

	var cur []textproc.Span
	curWords := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		start := cur[0].Start
		end := cur[len(cur)-1].End
		text := strings.TrimSpace(a.Text[start:end])
		if text == "" {
			cur = nil
			curWords = 0
			return
		}
		chunkID := hashID(a.PatientID, a.ID, text)
		chunks = append(chunks, clinical.Chunk{
			ChunkID:      chunkID,
			ArtifactID:   a.ID,
			PatientID:    a.PatientID,
			ArtifactType: a.Type,
			OccurredAt:   a.OccurredAt,
			Author:       a.Author,
			Text:         text,
		})
		for _, span := range cur {
			sTextStart := span.Start - start
			sTextEnd := span.End - start
			sText := a.Text[span.Start:span.End]
			sentences = append(sentences, clinical.Sentence{
				SentenceID:  hashID(chunkID, sText),
				ChunkID:     chunkID,
				Text:        sText,
				ChunkStart:  sTextStart,
				ChunkEnd:    sTextEnd,
				ArtifactPos: span.Start,
				ArtifactEnd: span.End,
			})
		}
		cur = nil
		curWords = 0
	}

	for _, span := range sentenceSpans {
		sentenceText := a.Text[span.Start:span.End]
		words := wordCount(sentenceText)

		// A chunk closes before absorbing another sentence when that
		// sentence would push it past the target ceiling, unless it's still
		// below the floor (then we must keep absorbing to avoid fragment
		// chunks).
		if curWords >= minChunkWords && curWords+words > maxChunkWords {
			flush()
		}
		cur = append(cur, span)
		curWords += words
	}
	flush()

	return chunks, sentences
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
