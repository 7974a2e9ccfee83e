package model

// ClinicalConceptGroup clusters atomics that share a `clinicalConceptGroup`
// tag, for the QEB clinical summary (spec.md §4.11 step 7).
type ClinicalConceptGroup struct {
	GroupName string   `json:"group_name"`
	AtomicIDs []string `json:"atomic_ids"`
}

// ClinicalSummary is the plain-English digest attached to a QEB (spec.md §3).
type ClinicalSummary struct {
	ConceptGroups            []ClinicalConceptGroup `json:"concept_groups"`
	ScreeningOnlyRequirements []string               `json:"screening_only_requirements,omitempty"`
	PlainEnglishLogic        string                 `json:"plain_english_logic"`
}

// DataSourceClassification is the per-QEB aggregate of the atomic-level
// data-source classifications used to derive QueryableStatus.
type DataSourceClassification struct {
	PrimarySource DataSource         `json:"primary_source"`
	BySource      map[DataSource]int `json:"by_source,omitempty"`
}

// QEB (Queryable Eligibility Block) is 1:1 with a RawCriterion (spec.md §3,
// §4.11).
type QEB struct {
	CriterionID         string                     `json:"criterion_id"`
	CriterionType       CriterionType              `json:"criterion_type"`
	State               QEBState                   `json:"state"`
	CombinedSQL         string                     `json:"combined_sql"`
	ClinicalName        string                     `json:"clinical_name"`
	ClinicalDescription string                     `json:"clinical_description"`
	ClinicalCategory    ClinicalCategory           `json:"clinical_category"`
	InternalLogic       string                     `json:"internal_logic,omitempty"` // e.g. "OR", "AND", "NOT", "IMPLICATION"
	FunnelStage         FunnelStageType            `json:"funnel_stage,omitempty"`
	FunnelOrder         int                        `json:"funnel_order,omitempty"`
	QueryableStatus     QEBQueryableStatus         `json:"queryable_status"`
	QueryableStatusReason string                   `json:"queryable_status_reason,omitempty"`
	DataSource          DataSourceClassification   `json:"data_source"`
	OmopConcepts        []OmopMapping              `json:"omop_concepts,omitempty"`
	FhirResources       []FhirMapping              `json:"fhir_resources,omitempty"`
	BiomedicalConcepts  []BiomedicalConcept        `json:"biomedical_concepts,omitempty"`
	ClinicalSummary     ClinicalSummary            `json:"clinical_summary"`
	EstimatedEliminationRate float64               `json:"estimated_elimination_rate,omitempty"`
	IsKillerCriterion   bool                       `json:"is_killer_criterion,omitempty"`
	AtomicIDs           []string                   `json:"atomic_ids"`
}

// BiomedicalConcept is a CDISC biomedical concept derived from an OMOP
// domain mapping (spec.md §4.9, §4.11 step 7).
type BiomedicalConcept struct {
	ConceptName string  `json:"concept_name"`
	CdiscCode   string  `json:"cdisc_code"`
	Domain      string  `json:"domain"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale,omitempty"`
}

// Transition advances q.State to next if the transition is forward-only
// (spec.md §4.11 state machine); returns false and leaves State unchanged
// otherwise.
func (q *QEB) Transition(next QEBState) bool {
	if !CanTransition(q.State, next) {
		return false
	}
	q.State = next
	return true
}

// ExecutionGuide is the recommended-order summary attached to QEBOutput.
type ExecutionGuide struct {
	RecommendedOrder     []string `json:"recommended_order"` // criterion IDs
	KillerCriteria       []string `json:"killer_criteria"`
	ManualReviewRequired []string `json:"manual_review_required"`
}

// QEBOutput is the final Stage-12 artifact (spec.md §3).
type QEBOutput struct {
	TotalCriteria   int              `json:"total_criteria"`
	TotalQEBs       int              `json:"total_qebs"`
	FunnelStages    []FunnelStage    `json:"funnel_stages"`
	QueryableBlocks []QEB            `json:"queryable_blocks"`
	AtomicCriteria  []MappedAtomic   `json:"atomic_criteria"`
	LogicalGroups   map[string][]string `json:"logical_groups"` // criterionID -> atomicIDs
	ExecutionGuide  ExecutionGuide   `json:"execution_guide"`
	Warnings        []string         `json:"warnings,omitempty"`
}
