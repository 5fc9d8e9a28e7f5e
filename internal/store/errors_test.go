package store

import (
	"errors"
	"testing"

	"github.com/cliniquery/cliniquery/internal/errs"
)

func TestIsUniqueViolationDetectsSQLState23505(t *testing.T) {
	err := errors.New(`ERROR: duplicate key value violates unique constraint "grounding_verification_pkey" (SQLSTATE 23505)`)
	if !isUniqueViolation(err) {
		t.Error("expected SQLSTATE 23505 to be detected as a unique violation")
	}
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("did not expect a generic error to be treated as a unique violation")
	}
	if isUniqueViolation(nil) {
		t.Error("did not expect nil to be treated as a unique violation")
	}
}

func TestWrapWriteErrMapsUniqueViolationToIntegrityViolation(t *testing.T) {
	cause := errors.New(`duplicate key (SQLSTATE 23505)`)
	err := wrapWriteErr("save grounding verification", cause)
	if !errs.Is(err, errs.IntegrityViolation) {
		t.Errorf("expected IntegrityViolation, got %v", err)
	}
}

func TestWrapWriteErrMapsOtherErrorsToQualityPersistenceError(t *testing.T) {
	err := wrapWriteErr("save confidence metrics", errors.New("connection reset"))
	if !errs.Is(err, errs.QualityPersistenceError) {
		t.Errorf("expected QualityPersistenceError, got %v", err)
	}
}

func TestWrapWriteErrPassesThroughNil(t *testing.T) {
	if err := wrapWriteErr("anything", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
