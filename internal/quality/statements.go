package quality

import (
	"regexp"
	"strings"

	"github.com/cliniquery/cliniquery/internal/textproc"
)

// minStatementLength drops fragments too short to carry an independently
// verifiable claim.
const minStatementLength = 11

var coordinatingConjunctionRe = regexp.MustCompile(`(?i)\s+(?:and|but|or|nor|yet|so)\s+`)

// decomposeStatements splits texts into atomic statements: sentence
// segmentation followed by a further split on coordinating conjunctions,
// dropping anything shorter than minStatementLength.
func decomposeStatements(texts ...string) []string {
	var out []string
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, span := range textproc.SplitSentences(text, 0) {
			sentence := text[span.Start:span.End]
			for _, clause := range coordinatingConjunctionRe.Split(sentence, -1) {
				clause = strings.TrimSpace(clause)
				if len(clause) < minStatementLength {
					continue
				}
				out = append(out, clause)
			}
		}
	}
	return out
}
