package model

// OmopMapping is a resolved OMOP vocabulary concept reference (spec.md §3).
type OmopMapping struct {
	ConceptID   int64      `json:"concept_id"`
	ConceptName string     `json:"concept_name"`
	VocabularyID string    `json:"vocabulary_id"`
	DomainID    OmopDomain `json:"domain_id"`
	TableName   string     `json:"table_name"`
	IsStandard  bool       `json:"is_standard"`
}

// FhirMapping is a resolved FHIR search-parameter reference (spec.md §3).
type FhirMapping struct {
	ResourceType    string `json:"resource_type"`
	CodeSystem      string `json:"code_system"`
	Code            string `json:"code"`
	SearchParameter string `json:"search_parameter,omitempty"`
}

// SemanticValidation records the Reflection Engine's semantic-mapping-
// validity verdict (spec.md §4.3 domain 3).
type SemanticValidation struct {
	Valid      bool    `json:"valid"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// MappedAtomic is an Atomic enriched with zero-or-more OMOP/FHIR mappings,
// a validation confidence, and the semantic-validation verdict (spec.md §3).
type MappedAtomic struct {
	Atomic
	PrimaryMapping   *OmopMapping         `json:"primary_mapping,omitempty"`
	SecondaryMappings []OmopMapping       `json:"secondary_mappings,omitempty"`
	FhirMappings     []FhirMapping        `json:"fhir_mappings,omitempty"`
	ValidationConfidence float64          `json:"validation_confidence"`
	SemanticValidation   *SemanticValidation `json:"semantic_validation,omitempty"`
}

// HasMapping reports whether the atomic resolved to at least one OMOP
// concept.
func (m *MappedAtomic) HasMapping() bool {
	return m != nil && m.PrimaryMapping != nil
}
