package query

import "github.com/cliniquery/cliniquery/pkg/clinical"

// intentArtifactTypes maps an intent to its allowed artifact types, using
// the singular artifact-type spellings stored in the metadata store.
var intentArtifactTypes = map[clinical.Intent][]clinical.ArtifactType{
	clinical.IntentRetrieveMedications: {clinical.ArtifactMedication},
	clinical.IntentRetrieveCarePlans:   {clinical.ArtifactCarePlan},
	clinical.IntentRetrieveNotes:       {clinical.ArtifactNote},
}

// BuildFilters restricts artifact types by intent (summary/comparison/
// retrieve_all/unknown see every type), and folds the temporal window,
// when present, into the filter's date range.
func BuildFilters(intent clinical.Intent, temporal *clinical.TemporalFilter) clinical.Filters {
	f := clinical.Filters{}
	if types, ok := intentArtifactTypes[intent]; ok {
		f.ArtifactTypes = types
	}
	if temporal != nil {
		f.DateRange = temporal
	}
	return f
}
