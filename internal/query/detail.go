package query

import (
	"regexp"
	"strings"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

var (
	yesNoRe       = regexp.MustCompile(`(?i)^\s*(is|are|does|do|did|has|have|was|were|can)\b`)
	factoidRe     = regexp.MustCompile(`(?i)^\s*(what|when|who|which)\b`)
	analysisRe    = regexp.MustCompile(`(?i)\b(analyze|analysis|compare|comparison|why|trend|trends)\b`)
)

// DetailLevelConstraints fixes the response shape for a given level.
type DetailLevelConstraints struct {
	MaxShortAnswerWords int
	SummaryBullets      int
	MinSources          int
	IncludeReasoning    bool
}

// Constraints returns the fixed response constraints for a detail level
// (1..5): level 1 caps short answers at 10 words; level 5 requires at
// least 6 summary bullets and 4 sources.
func Constraints(level int) DetailLevelConstraints {
	switch level {
	case 1:
		return DetailLevelConstraints{MaxShortAnswerWords: 10, SummaryBullets: 0, MinSources: 1, IncludeReasoning: false}
	case 2:
		return DetailLevelConstraints{MaxShortAnswerWords: 25, SummaryBullets: 2, MinSources: 1, IncludeReasoning: false}
	case 3:
		return DetailLevelConstraints{MaxShortAnswerWords: 40, SummaryBullets: 3, MinSources: 2, IncludeReasoning: false}
	case 4:
		return DetailLevelConstraints{MaxShortAnswerWords: 60, SummaryBullets: 4, MinSources: 3, IncludeReasoning: true}
	default: // 5
		return DetailLevelConstraints{MaxShortAnswerWords: 80, SummaryBullets: 6, MinSources: 4, IncludeReasoning: true}
	}
}

// DetermineDetailLevel picks a detail level by rule precedence: yes/no
// question -> 1; simple short factoid -> 2; analysis keywords -> 5;
// multiple entities/time references/compound conditions -> 4;
// intent-driven (summary -> 4, comparison -> 5); otherwise 3.
func DetermineDetailLevel(q string, entities []clinical.Entity, temporal *clinical.TemporalFilter, intent clinical.Intent) int {
	trimmed := strings.TrimSpace(q)

	if yesNoRe.MatchString(trimmed) {
		return 1
	}
	if factoidRe.MatchString(trimmed) && len(strings.Fields(trimmed)) <= 8 {
		return 2
	}
	if analysisRe.MatchString(trimmed) {
		return 5
	}
	if isCompound(trimmed, entities, temporal) {
		return 4
	}
	switch intent {
	case clinical.IntentSummary:
		return 4
	case clinical.IntentComparison:
		return 5
	}
	return 3
}

func isCompound(q string, entities []clinical.Entity, temporal *clinical.TemporalFilter) bool {
	if countEntityTypes(entities) >= 2 {
		return true
	}
	if strings.Contains(strings.ToLower(q), " and ") && temporal != nil {
		return true
	}
	return false
}

func countEntityTypes(entities []clinical.Entity) int {
	types := map[string]bool{}
	for _, e := range entities {
		types[e.Type] = true
	}
	return len(types)
}
