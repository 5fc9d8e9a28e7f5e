package textproc

import (
	"strings"
	"unicode"
)

// clinicalAbbreviations are period-terminated tokens that do not end a
// sentence in medical free text. Matched case-insensitively against the
// word immediately preceding a period.
var clinicalAbbreviations = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "vs": true,
	"etc": true, "approx": true, "wt": true, "ht": true, "temp": true,
	"hx": true, "dx": true, "tx": true, "rx": true, "sx": true,
	"mg": true, "ml": true, "mcg": true, "mmol": true, "meq": true,
	"q": true, "qd": true, "bid": true, "tid": true, "qid": true,
	"prn": true, "npo": true, "stat": true, "abd": true, "approx.": true,
	"no": true, "gen": true, "neg": true, "pos": true, "appt": true,
}

// Span is a half-open [Start, End) byte offset range into the artifact's
// original text.
type Span struct {
	Start int
	End   int
}

// SplitSentences segments text into sentence spans, aware of common
// clinical abbreviations so "Dr. Smith ordered..." is not split after
// "Dr.". maxLen caps any single sentence's rune length; a sentence longer
// than maxLen is further split at the nearest preceding clause boundary
// (comma or semicolon) so no single chunk-able unit is unreasonably long.
func SplitSentences(text string, maxLen int) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var spans []Span
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if isAbbreviationBoundary(runes, i) {
			continue
		}
		// Require the terminator to be followed by whitespace or end of
		// text; a period inside "3.5mg" is not a sentence boundary.
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		end := i + 1
		spans = append(spans, Span{Start: start, End: end})
		start = end
	}
	if start < len(runes) {
		trailing := strings.TrimSpace(string(runes[start:]))
		if trailing != "" {
			spans = append(spans, Span{Start: start, End: len(runes)})
		}
	}
	if maxLen <= 0 {
		return byteSpans(text, runes, spans)
	}
	return byteSpans(text, runes, splitOverlong(runes, spans, maxLen))
}

// isAbbreviationBoundary reports whether the '.' at runes[i] terminates a
// known clinical abbreviation rather than a sentence.
func isAbbreviationBoundary(runes []rune, i int) bool {
	if runes[i] != '.' {
		return false
	}
	j := i
	for j > 0 && (unicode.IsLetter(runes[j-1]) || runes[j-1] == '.') {
		j--
	}
	word := strings.ToLower(strings.Trim(string(runes[j:i]), "."))
	return clinicalAbbreviations[word]
}

// splitOverlong breaks any sentence longer than maxLen runes at the
// nearest comma or semicolon before the limit, never mid-word.
func splitOverlong(runes []rune, spans []Span, maxLen int) []Span {
	var out []Span
	for _, s := range spans {
		if s.End-s.Start <= maxLen {
			out = append(out, s)
			continue
		}
		segStart := s.Start
		for segStart < s.End {
			limit := segStart + maxLen
			if limit >= s.End {
				out = append(out, Span{Start: segStart, End: s.End})
				break
			}
			cut := limit
			for cut > segStart && runes[cut] != ',' && runes[cut] != ';' {
				cut--
			}
			if cut == segStart {
				cut = limit // no clause boundary found, hard-cut at the limit
			} else {
				cut++ // include the delimiter in the first half
			}
			out = append(out, Span{Start: segStart, End: cut})
			segStart = cut
		}
	}
	return out
}

func byteSpans(text string, runes []rune, spans []Span) []Span {
	// runes and bytes coincide for ASCII clinical text in practice, but to
	// stay correct under multi-byte runes we recompute byte offsets.
	if len(text) == len(runes) {
		return spans
	}
	byteOffsets := make([]int, len(runes)+1)
	b := 0
	for i, r := range runes {
		byteOffsets[i] = b
		b += len(string(r))
	}
	byteOffsets[len(runes)] = b
	out := make([]Span, len(spans))
	for i, s := range spans {
		out[i] = Span{Start: byteOffsets[s.Start], End: byteOffsets[s.End]}
	}
	return out
}
