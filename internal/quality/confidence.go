package quality

import (
	"fmt"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// sourceConfidenceTable ranks artifact types by how reliable their
// provenance is, highest for structured lab/vital data and lowest for
// free-text messages.
var sourceConfidenceTable = map[clinical.ArtifactType]float64{
	clinical.ArtifactLabObservation:  0.95,
	clinical.ArtifactVital:           0.92,
	clinical.ArtifactMedication:      0.90,
	clinical.ArtifactCondition:       0.88,
	clinical.ArtifactAllergy:         0.88,
	clinical.ArtifactCarePlan:        0.82,
	clinical.ArtifactFamilyHistory:   0.80,
	clinical.ArtifactNote:            0.75,
	clinical.ArtifactDocument:        0.72,
	clinical.ArtifactAppointment:     0.70,
	clinical.ArtifactTask:            0.68,
	clinical.ArtifactFormResponse:    0.65,
	clinical.ArtifactForm:            0.65,
	clinical.ArtifactIntakeFlow:      0.62,
	clinical.ArtifactSuperbill:       0.60,
	clinical.ArtifactInsurancePolicy: 0.60,
	clinical.ArtifactMessage:         0.55,
}

const defaultSourceConfidence = 0.5

// factorWeight is the fixed weight applied to each of the four confidence
// factors when aggregating a per-extraction confidence: the four factors
// are weighted equally.
const factorWeight = 0.25

const lowFactorThreshold = 0.6

// ExtractionConfidence is the per-extraction confidence breakdown.
type ExtractionConfidence struct {
	Extraction            clinical.Extraction
	RetrievalConfidence   float64
	SourceConfidence      float64
	ExtractionConfidence  float64
	ConsistencyConfidence float64
	Aggregate             float64
}

// ConfidenceResult is the output of confidence aggregation for one answer.
type ConfidenceResult struct {
	PerExtraction        []ExtractionConfidence
	Overall              float64
	UncertaintyLevel     string
	LowConfidenceReasons []string
	Recommendation       string
}

// AggregateConfidence combines four per-extraction factors into an
// aggregate, then averages across extractions for the overall score.
func AggregateConfidence(extractions []clinical.Extraction, candidates []clinical.RetrievalCandidate, consistencyScore float64) ConfidenceResult {
	scoreByChunk := make(map[string]float64, len(candidates))
	typeByChunk := make(map[string]clinical.ArtifactType, len(candidates))
	for _, c := range candidates {
		scoreByChunk[c.Chunk.ChunkID] = clampUnit(c.Score)
		typeByChunk[c.Chunk.ChunkID] = c.Chunk.ArtifactType
	}

	var result ConfidenceResult
	var sum float64
	for _, ex := range extractions {
		retrieval := scoreByChunk[ex.Provenance.ChunkID]
		source := sourceConfidenceTable[typeByChunk[ex.Provenance.ChunkID]]
		if source == 0 {
			source = defaultSourceConfidence
		}
		extractionConf := clampUnit(ex.Provenance.Confidence)
		consistencyConf := clampUnit(consistencyScore)

		aggregate := factorWeight*retrieval + factorWeight*source + factorWeight*extractionConf + factorWeight*consistencyConf

		ec := ExtractionConfidence{
			Extraction:            ex,
			RetrievalConfidence:   retrieval,
			SourceConfidence:      source,
			ExtractionConfidence:  extractionConf,
			ConsistencyConfidence: consistencyConf,
			Aggregate:             aggregate,
		}
		result.PerExtraction = append(result.PerExtraction, ec)
		sum += aggregate

		factors := []struct {
			name  string
			value float64
		}{
			{"retrieval_confidence", retrieval},
			{"source_confidence", source},
			{"extraction_confidence", extractionConf},
			{"consistency_confidence", consistencyConf},
		}
		for _, f := range factors {
			if f.value < lowFactorThreshold {
				result.LowConfidenceReasons = append(result.LowConfidenceReasons,
					fmt.Sprintf("%s extraction %q has low %s (%.2f)", ex.Type, extractionDisplayValue(ex), f.name, f.value))
			}
		}
	}

	if len(extractions) == 0 {
		result.Overall = clampUnit(consistencyScore)
	} else {
		result.Overall = sum / float64(len(extractions))
	}
	result.UncertaintyLevel = uncertaintyLevel(result.Overall)
	result.Recommendation = recommendation(result.UncertaintyLevel)
	return result
}

func uncertaintyLevel(confidence float64) string {
	switch {
	case confidence >= 0.90:
		return "very_low"
	case confidence >= 0.80:
		return "low"
	case confidence >= 0.60:
		return "medium"
	case confidence >= 0.40:
		return "high"
	default:
		return "very_high"
	}
}

func recommendation(uncertainty string) string {
	switch uncertainty {
	case "very_low", "low":
		return "No action needed; confidence is adequately supported."
	case "medium":
		return "Consider surfacing the supporting sources alongside the answer."
	default:
		return "Recommend requesting additional sources or a follow-up query before relying on this answer."
	}
}

func extractionDisplayValue(e clinical.Extraction) string {
	if v := extractionValue(e); v != "" {
		return v
	}
	return e.Type
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
