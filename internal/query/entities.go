package query

import (
	"regexp"
	"strings"

	"github.com/cliniquery/cliniquery/pkg/clinical"
)

// medicationGazetteer, conditionGazetteer, and symptomGazetteer are small
// curated term lists, not exhaustive coverage of every drug or diagnosis
// name.
var medicationGazetteer = []string{
	"metformin", "lisinopril", "atorvastatin", "aspirin", "insulin",
	"amoxicillin", "ibuprofen", "acetaminophen", "warfarin", "omeprazole",
	"hydrochlorothiazide", "levothyroxine", "albuterol", "prednisone",
	"gabapentin", "losartan", "amlodipine", "simvastatin", "metoprolol",
}

var conditionGazetteer = []string{
	"diabetes", "hypertension", "asthma", "copd", "depression", "anxiety",
	"hyperlipidemia", "arthritis", "obesity", "hypothyroidism",
	"coronary artery disease", "atrial fibrillation", "chronic kidney disease",
}

var symptomGazetteer = []string{
	"pain", "fever", "cough", "fatigue", "nausea", "dizziness", "headache",
	"shortness of breath", "swelling", "rash", "chest pain", "back pain",
}

var personRe = regexp.MustCompile(`\b(?:Dr\.?|Mr\.?|Mrs\.?|Ms\.?)\s+[A-Z][a-zA-Z'-]+\b`)

// ExtractEntities recognizes medications, conditions, symptoms, dates and
// persons in free text using a curated gazetteer plus regex. Entities
// are returned in order of appearance.
func ExtractEntities(query string) []clinical.Entity {
	var entities []clinical.Entity

	entities = append(entities, gazetteerMatches(query, medicationGazetteer, "medication")...)
	entities = append(entities, gazetteerMatches(query, conditionGazetteer, "condition")...)
	entities = append(entities, gazetteerMatches(query, symptomGazetteer, "symptom")...)

	for _, loc := range personRe.FindAllStringIndex(query, -1) {
		entities = append(entities, clinical.Entity{Type: "person", Value: query[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
	}
	for _, loc := range isoDateRe.FindAllStringIndex(query, -1) {
		entities = append(entities, clinical.Entity{Type: "date", Value: query[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
	}
	for _, loc := range slashDateRe.FindAllStringIndex(query, -1) {
		entities = append(entities, clinical.Entity{Type: "date", Value: query[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
	}

	sortEntitiesByStart(entities)
	return entities
}

func gazetteerMatches(query string, terms []string, entityType string) []clinical.Entity {
	lower := strings.ToLower(query)
	var out []clinical.Entity
	for _, term := range terms {
		searchFrom := 0
		for {
			idx := strings.Index(lower[searchFrom:], term)
			if idx < 0 {
				break
			}
			start := searchFrom + idx
			end := start + len(term)
			out = append(out, clinical.Entity{Type: entityType, Value: query[start:end], Start: start, End: end})
			searchFrom = end
		}
	}
	return out
}

func sortEntitiesByStart(entities []clinical.Entity) {
	for i := 1; i < len(entities); i++ {
		for j := i; j > 0 && entities[j].Start < entities[j-1].Start; j-- {
			entities[j], entities[j-1] = entities[j-1], entities[j]
		}
	}
}
