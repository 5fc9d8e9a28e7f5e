package query

import (
	"strings"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// ambiguityEpsilon bounds how close two intent scores must be before both
// are reported in AmbiguousIntent.
const ambiguityEpsilon = 0.05

// abbreviations expands common clinical shorthand before keyword scoring,
// e.g. "bp" -> "blood pressure".
var abbreviations = map[string]string{
	"bp":   "blood pressure",
	"meds": "medications",
	"rx":   "prescription",
	"hx":   "history",
	"dx":   "diagnosis",
	"tx":   "treatment",
	"f/u":  "follow up",
	"fu":   "follow up",
	"labs": "lab results",
	"cp":   "care plan",
	"pmhx": "past medical history",
}

// intentKeywords lists, per intent, the words whose presence in the
// (abbreviation-expanded) query contributes one point to that intent's
// score.
var intentKeywords = map[clinical.Intent][]string{
	clinical.IntentRetrieveMedications: {"medication", "medications", "drug", "drugs", "prescription", "dose", "dosage", "taking"},
	clinical.IntentRetrieveCarePlans:   {"care", "plan", "careplan", "goal", "goals"},
	clinical.IntentRetrieveNotes:       {"note", "notes", "visit", "encounter", "documented"},
	clinical.IntentSummary:            {"summary", "summarize", "overview", "overall"},
	clinical.IntentComparison:         {"compare", "comparison", "versus", "vs", "difference", "changed", "change"},
	clinical.IntentRetrieveAll:        {"everything", "all", "history", "records"},
}

// intentPriority fixes a deterministic iteration order over intentKeywords
// so that equal-scoring intents resolve to the same winner on every run;
// earlier entries win ties, most-specific intents are listed first.
var intentPriority = []clinical.Intent{
	clinical.IntentRetrieveMedications,
	clinical.IntentRetrieveCarePlans,
	clinical.IntentRetrieveNotes,
	clinical.IntentSummary,
	clinical.IntentComparison,
	clinical.IntentRetrieveAll,
}

// ClassifyIntent expands abbreviations, scores each intent by keyword
// hits, and returns the top-scoring intent with
// confidence = maxScore/tokenCount clamped to [0,1]. Intents whose score
// falls within ambiguityEpsilon of the winner are returned as ambiguous
// metadata, not as an alternate primary intent.
func ClassifyIntent(query string) (intent clinical.Intent, confidence float64, ambiguous []clinical.Intent) {
	expanded := expandAbbreviations(query)
	tokens := strings.Fields(strings.ToLower(expanded))
	if len(tokens) == 0 {
		return clinical.IntentUnknown, 0, nil
	}

	scores := make(map[clinical.Intent]float64, len(intentKeywords))
	lower := strings.ToLower(expanded)
	for _, in := range intentPriority {
		var hits float64
		for _, kw := range intentKeywords[in] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		scores[in] = hits
	}

	var best clinical.Intent = clinical.IntentUnknown
	var bestScore float64
	for _, in := range intentPriority {
		if scores[in] > bestScore {
			best, bestScore = in, scores[in]
		}
	}
	if bestScore == 0 {
		return clinical.IntentUnknown, 0, nil
	}

	tokenCount := float64(len(tokens))
	for _, in := range intentPriority {
		if in == best || scores[in] == 0 {
			continue
		}
		if (bestScore-scores[in])/tokenCount <= ambiguityEpsilon {
			ambiguous = append(ambiguous, in)
		}
	}

	confidence = bestScore / tokenCount
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence, ambiguous
}

func expandAbbreviations(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		key := strings.ToLower(strings.Trim(w, ".,?!"))
		if expansion, ok := abbreviations[key]; ok {
			words[i] = expansion
		}
	}
	return strings.Join(words, " ")
}
