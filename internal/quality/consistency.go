package quality

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/internal/store"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// lookbackWindow is the conversation history window checked for
// contradictions.
const lookbackWindow = 30 * 24 * time.Hour

// dosageChangeWindow bounds how recent a prior medication mention must be
// for a dosage difference to count as a medium-severity contradiction.
const dosageChangeWindow = 7 * 24 * time.Hour

var severityWeights = map[clinical.Severity]float64{
	clinical.SeverityLow:      0.05,
	clinical.SeverityMedium:   0.15,
	clinical.SeverityHigh:     0.30,
	clinical.SeverityCritical: 0.50,
}

// semanticKeywords is the fixed keyword set checked for negation flips
// between a past answer and the current one.
var semanticKeywords = []string{"diabetes", "hypertension", "allergy", "medication", "condition"}

var negationRe = func(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:no|denies|without|not)\b[^.]{0,20}\b` + regexp.QuoteMeta(keyword) + `\b`)
}

var discontinuedRe = regexp.MustCompile(`(?i)\b(?:discontinued|stopped|no longer taking)\b`)

// ConsistencyResult is the output of cross-conversation consistency
// checking for one answered query.
type ConsistencyResult struct {
	Score          float64
	Contradictions []clinical.Contradiction
	Warnings       []string
}

// ConsistencyChecker checks a freshly answered query against the
// patient's recent conversation history for contradictions.
type ConsistencyChecker struct {
	conversations store.ConversationStore
}

func NewConsistencyChecker(conversations store.ConversationStore) *ConsistencyChecker {
	return &ConsistencyChecker{conversations: conversations}
}

// Check compares the current answer's extractions and text against the
// patient's conversation history from the last 30 days, excluding the
// conversation currently being evaluated.
func (c *ConsistencyChecker) Check(ctx context.Context, patientID, currentConversationID string, currentExtractions []clinical.Extraction, currentShortAnswer, currentSummary string, now time.Time) (ConsistencyResult, error) {
	past, err := c.conversations.ConversationsSince(ctx, patientID, now.Add(-lookbackWindow), currentConversationID)
	if err != nil {
		return ConsistencyResult{}, errs.Wrap(errs.UpstreamUnavailable, "load conversation history", err)
	}
	if len(past) == 0 {
		return ConsistencyResult{Score: 1}, nil
	}

	var contradictions []clinical.Contradiction
	contradictions = append(contradictions, entityContradictions(currentExtractions, past, now)...)
	contradictions = append(contradictions, temporalContradictions(currentExtractions, currentShortAnswer, currentSummary, past)...)
	contradictions = append(contradictions, semanticContradictions(currentShortAnswer, currentSummary, past)...)

	var weightSum float64
	counts := map[clinical.Severity]int{}
	for _, ct := range contradictions {
		weightSum += severityWeights[ct.Severity]
		counts[ct.Severity]++
	}
	score := 1 - weightSum
	if score < 0 {
		score = 0
	}

	var warnings []string
	if len(contradictions) > 0 {
		warnings = append(warnings, fmt.Sprintf("%d contradiction(s) found: %d low, %d medium, %d high, %d critical",
			len(contradictions), counts[clinical.SeverityLow], counts[clinical.SeverityMedium], counts[clinical.SeverityHigh], counts[clinical.SeverityCritical]))
	}

	return ConsistencyResult{Score: score, Contradictions: contradictions, Warnings: warnings}, nil
}

func entityContradictions(current []clinical.Extraction, past []clinical.ConversationRecord, now time.Time) []clinical.Contradiction {
	var out []clinical.Contradiction
	for _, ce := range current {
		value := extractionValue(ce)
		if value == "" {
			continue
		}
		for _, rec := range past {
			for _, pe := range rec.Extractions {
				if pe.Type != ce.Type || !strings.EqualFold(extractionValue(pe), value) {
					continue
				}
				switch ce.Type {
				case "medication":
					if now.Sub(rec.QueryTimestamp) <= dosageChangeWindow && ce.Content["dose"] != pe.Content["dose"] && ce.Content["dose"] != "" && pe.Content["dose"] != "" {
						out = append(out, clinical.Contradiction{
							CurrentStatement:  fmt.Sprintf("%s at %s", value, ce.Content["dose"]),
							PreviousStatement: fmt.Sprintf("%s at %s", value, pe.Content["dose"]),
							PreviousConvoID:   rec.ID,
							PreviousTimestamp: rec.QueryTimestamp,
							Severity:          clinical.SeverityMedium,
							Explanation:       "medication dosage changed within 7 days",
							EntityType:        ce.Type,
							EntityValue:       value,
						})
					}
				case "condition":
					if strings.EqualFold(ce.Content["status"], "active") && strings.EqualFold(pe.Content["status"], "resolved") {
						out = append(out, clinical.Contradiction{
							CurrentStatement:  fmt.Sprintf("%s is active", value),
							PreviousStatement: fmt.Sprintf("%s was resolved", value),
							PreviousConvoID:   rec.ID,
							PreviousTimestamp: rec.QueryTimestamp,
							Severity:          clinical.SeverityHigh,
							Explanation:       "condition marked active after previously being resolved",
							EntityType:        ce.Type,
							EntityValue:       value,
						})
					}
				}
			}
		}
	}
	return out
}

func temporalContradictions(current []clinical.Extraction, currentShortAnswer, currentSummary string, past []clinical.ConversationRecord) []clinical.Contradiction {
	var out []clinical.Contradiction
	currentText := strings.ToLower(currentShortAnswer + " " + currentSummary)
	for _, ce := range current {
		if ce.Type != "medication" {
			continue
		}
		value := extractionValue(ce)
		if value == "" || !strings.Contains(currentText, strings.ToLower(value)) {
			continue
		}
		for _, rec := range past {
			priorText := strings.ToLower(rec.ShortAnswer + " " + rec.DetailedSummary)
			if !strings.Contains(priorText, strings.ToLower(value)) {
				continue
			}
			idx := strings.Index(priorText, strings.ToLower(value))
			window := priorText[max0(idx-40):min(len(priorText), idx+40)]
			if discontinuedRe.MatchString(window) {
				out = append(out, clinical.Contradiction{
					CurrentStatement:  fmt.Sprintf("currently taking %s", value),
					PreviousStatement: window,
					PreviousConvoID:   rec.ID,
					PreviousTimestamp: rec.QueryTimestamp,
					Severity:          clinical.SeverityHigh,
					Explanation:       "medication stated current contradicts a prior discontinuation",
					EntityType:        ce.Type,
					EntityValue:       value,
				})
			}
		}
	}
	return out
}

func semanticContradictions(currentShortAnswer, currentSummary string, past []clinical.ConversationRecord) []clinical.Contradiction {
	var out []clinical.Contradiction
	currentText := currentShortAnswer + " " + currentSummary
	for _, keyword := range semanticKeywords {
		re := negationRe(keyword)
		currentNegates := re.MatchString(currentText)
		if currentNegates {
			continue
		}
		if !strings.Contains(strings.ToLower(currentText), keyword) {
			continue
		}
		for _, rec := range past {
			priorText := rec.ShortAnswer + " " + rec.DetailedSummary
			if re.MatchString(priorText) {
				out = append(out, clinical.Contradiction{
					CurrentStatement:  currentText,
					PreviousStatement: priorText,
					PreviousConvoID:   rec.ID,
					PreviousTimestamp: rec.QueryTimestamp,
					Severity:          clinical.SeverityMedium,
					Explanation:       fmt.Sprintf("prior answer negated %q, current answer affirms it", keyword),
					EntityType:        "keyword",
					EntityValue:       keyword,
				})
			}
		}
	}
	return out
}

// extractionValue picks a representative display value out of an
// extraction's content map, preferring the conventional keys.
func extractionValue(e clinical.Extraction) string {
	for _, key := range []string{"name", "value", "condition"} {
		if v, ok := e.Content[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
