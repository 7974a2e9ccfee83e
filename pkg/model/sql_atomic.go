package model

// SQLAtomic is a MappedAtomic plus a parametrized OMOP CDM SELECT that
// returns person_id (spec.md §3, §4.8).
type SQLAtomic struct {
	MappedAtomic
	Table        string            `json:"table"`
	SQL          string            `json:"sql"`
	FhirQueries  []string          `json:"fhir_queries,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
}
