package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

var (
	relativeWindowRe = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(day|week|month|year)s?\b`)
	sinceMonthRe     = regexp.MustCompile(`(?i)\bsince\s+(january|february|march|april|may|june|july|august|september|october|november|december)\b(?:\s+(\d{4}))?`)
	betweenRe        = regexp.MustCompile(`(?i)\bbetween\s+([\w/\-]+)\s+and\s+([\w/\-]+)\b`)
	isoDateRe        = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDateRe      = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`)

	monthNames = map[string]time.Month{
		"january": time.January, "february": time.February, "march": time.March,
		"april": time.April, "may": time.May, "june": time.June,
		"july": time.July, "august": time.August, "september": time.September,
		"october": time.October, "november": time.November, "december": time.December,
	}
)

// ParseTemporal extracts a date window from relative phrases ("last 3
// months"), "since <month>" expressions,
// explicit "between X and Y" ranges, or bare date literals. Relative
// phrases resolve against now. Returns nil when the query carries no
// recognizable temporal expression.
func ParseTemporal(q string, now time.Time) *clinical.TemporalFilter {
	if m := relativeWindowRe.FindStringSubmatch(q); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			from := subtractUnit(now, n, strings.ToLower(m[2]))
			return &clinical.TemporalFilter{From: from, To: now, Label: strings.ToLower(m[0])}
		}
	}

	if m := sinceMonthRe.FindStringSubmatch(q); m != nil {
		month := monthNames[strings.ToLower(m[1])]
		year := now.Year()
		if m[2] != "" {
			if y, err := strconv.Atoi(m[2]); err == nil {
				year = y
			}
		} else if month > now.Month() {
			year--
		}
		from := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
		return &clinical.TemporalFilter{From: from, To: now, Label: strings.ToLower(m[0])}
	}

	if m := betweenRe.FindStringSubmatch(q); m != nil {
		from, fromOK := parseDateLiteral(m[1])
		to, toOK := parseDateLiteral(m[2])
		if fromOK && toOK {
			return &clinical.TemporalFilter{From: from, To: to, Label: strings.ToLower(m[0])}
		}
	}

	if dates := collectDateLiterals(q); len(dates) == 1 {
		return &clinical.TemporalFilter{From: dates[0], To: now, Label: formatDateLabel(dates[0])}
	} else if len(dates) >= 2 {
		from, to := dates[0], dates[1]
		if to.Before(from) {
			from, to = to, from
		}
		return &clinical.TemporalFilter{From: from, To: to, Label: "date range"}
	}

	return nil
}

func subtractUnit(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "day":
		return now.AddDate(0, 0, -n)
	case "week":
		return now.AddDate(0, 0, -7*n)
	case "month":
		return now.AddDate(0, -n, 0)
	case "year":
		return now.AddDate(-n, 0, 0)
	default:
		return now
	}
}

func parseDateLiteral(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func collectDateLiterals(q string) []time.Time {
	var out []time.Time
	for _, raw := range isoDateRe.FindAllString(q, -1) {
		if t, ok := parseDateLiteral(raw); ok {
			out = append(out, t)
		}
	}
	for _, raw := range slashDateRe.FindAllString(q, -1) {
		if t, ok := parseDateLiteral(raw); ok {
			out = append(out, t)
		}
	}
	return out
}

func formatDateLabel(t time.Time) string {
	return t.Format("2006-01-02")
}
