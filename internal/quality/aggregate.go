package quality

import "github.com/cliniquery/cliniquery/pkg/clinical"

// Aggregate combines the four quality scores into an overall score,
// grade, and pass/fail gate.
func Aggregate(grounding, consistency, confidence, hallucinationRisk float64) clinical.QualityMetrics {
	overall := 0.35*grounding + 0.25*consistency + 0.25*confidence + 0.15*(1-hallucinationRisk)

	return clinical.QualityMetrics{
		GroundingScore:      grounding,
		ConsistencyScore:    consistency,
		ConfidenceScore:     confidence,
		HallucinationRisk:   hallucinationRisk,
		OverallQualityScore: overall,
		QualityGrade:        grade(overall),
		PassesQualityChecks: grounding >= 0.7 && consistency >= 0.8 && confidence >= 0.6 && hallucinationRisk < 0.3,
	}
}

func grade(overall float64) clinical.QualityGrade {
	switch {
	case overall >= 0.90:
		return clinical.GradeExcellent
	case overall >= 0.80:
		return clinical.GradeGood
	case overall >= 0.70:
		return clinical.GradeAcceptable
	case overall >= 0.50:
		return clinical.GradePoor
	default:
		return clinical.GradeUnacceptable
	}
}
