package query

import (
	"strings"
	"testing"
	"time"

	"github.com/cliniquery/cliniquery/internal/errs"
	"github.com/cliniquery/cliniquery/pkg/clinical"
)

func TestParseRejectsEmptyQuery(t *testing.T) {
	_, err := Parse("", "p1")
	if !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestParseRejectsOverlongQuery(t *testing.T) {
	_, err := Parse(strings.Repeat("a", 1001), "p1")
	if !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestParseRejectsEmptyPatientID(t *testing.T) {
	_, err := Parse("what medications is the patient taking", "")
	if !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestParseMedicationIntentRestrictsFilters(t *testing.T) {
	sq, err := Parse("What medications is the patient taking?", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sq.Intent != clinical.IntentRetrieveMedications {
		t.Errorf("expected retrieve_medications intent, got %s", sq.Intent)
	}
	if len(sq.Filters.ArtifactTypes) != 1 || sq.Filters.ArtifactTypes[0] != clinical.ArtifactMedication {
		t.Errorf("expected filters restricted to medication, got %+v", sq.Filters.ArtifactTypes)
	}
	if sq.QueryID == "" {
		t.Error("expected a generated query id")
	}
}

func TestParseYesNoQuestionIsDetailLevelOne(t *testing.T) {
	sq, err := Parse("Is patient on aspirin?", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sq.DetailLevel != 1 {
		t.Errorf("expected detail level 1, got %d", sq.DetailLevel)
	}
	c := Constraints(sq.DetailLevel)
	if c.MinSources != 1 || c.IncludeReasoning {
		t.Errorf("unexpected constraints for level 1: %+v", c)
	}
}

func TestParseTemporalFilteringLast3Months(t *testing.T) {
	sq, err := Parse("medications in the last 3 months", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sq.TemporalFilter == nil {
		t.Fatal("expected a temporal filter")
	}
	if sq.Filters.DateRange == nil {
		t.Error("expected filters to carry the temporal window")
	}
}

func TestParseSummaryIntentDetailLevelFour(t *testing.T) {
	sq, err := Parse("Give me a summary of the patient's history", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sq.Intent != clinical.IntentSummary {
		t.Errorf("expected summary intent, got %s", sq.Intent)
	}
	if sq.DetailLevel != 4 {
		t.Errorf("expected detail level 4 for summary intent, got %d", sq.DetailLevel)
	}
}

func TestParseUnknownIntentWhenNoKeywordsMatch(t *testing.T) {
	sq, err := Parse("xyzzy plugh", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sq.Intent != clinical.IntentUnknown {
		t.Errorf("expected unknown intent, got %s", sq.Intent)
	}
}

func TestConstraintsLevelFiveRequiresSixBulletsAndFourSources(t *testing.T) {
	c := Constraints(5)
	if c.SummaryBullets < 6 || c.MinSources < 4 {
		t.Errorf("expected level 5 to require >=6 bullets and >=4 sources, got %+v", c)
	}
}

func TestParseTemporalResolvesAgainstGivenNow(t *testing.T) {
	// sanity: ParseTemporal resolves relative phrases against "now" without
	// depending on wall-clock granularity smaller than a day.
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	tf := ParseTemporal("last 3 months", now)
	if tf == nil {
		t.Fatal("expected a temporal filter")
	}
	if tf.From.After(now) || tf.To != now {
		t.Errorf("unexpected temporal window: %+v", tf)
	}
}
