package retrieval

import (
	"sort"
	"strings"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

const defaultSnippetLength = 200

// Snippet finds the earliest occurrence of any query token, centers a
// window of snippetLength bytes around it,
// and prepend/append ellipses as needed. Highlights cover every query
// token of length >= 3 occurring anywhere in the chunk, sorted by start
// offset.
func Snippet(chunkText string, queryTokens []string, snippetLength int) (string, []clinical.Highlight) {
	if snippetLength <= 0 {
		snippetLength = defaultSnippetLength
	}
	lower := strings.ToLower(chunkText)

	earliest := -1
	for _, tok := range queryTokens {
		if tok == "" {
			continue
		}
		if idx := strings.Index(lower, tok); idx >= 0 && (earliest < 0 || idx < earliest) {
			earliest = idx
		}
	}
	if earliest < 0 {
		earliest = 0
	}

	half := snippetLength / 2
	start := earliest - half
	if start < 0 {
		start = 0
	}
	end := start + snippetLength
	if end > len(chunkText) {
		end = len(chunkText)
		start = end - snippetLength
		if start < 0 {
			start = 0
		}
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(chunkText[start:end])
	if end < len(chunkText) {
		b.WriteString("...")
	}
	snippet := b.String()

	var highlights []clinical.Highlight
	for _, tok := range queryTokens {
		if len(tok) < 3 {
			continue
		}
		searchFrom := 0
		lowerChunk := lower
		for {
			idx := strings.Index(lowerChunk[searchFrom:], tok)
			if idx < 0 {
				break
			}
			pos := searchFrom + idx
			highlights = append(highlights, clinical.Highlight{
				Start: pos,
				End:   pos + len(tok),
				Text:  chunkText[pos : pos+len(tok)],
			})
			searchFrom = pos + len(tok)
		}
	}
	sort.Slice(highlights, func(i, j int) bool { return highlights[i].Start < highlights[j].Start })

	return snippet, highlights
}
