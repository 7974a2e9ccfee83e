// Package model holds the shared domain types produced and consumed across
// pipeline stages: raw criteria, expression trees, atomics, concept
// expansions, OMOP/FHIR mappings, SQL atomics, key criteria, funnel stages
// and queryable eligibility blocks.
package model

// CriterionType distinguishes inclusion from exclusion criteria.
type CriterionType string

const (
	CriterionInclusion CriterionType = "inclusion"
	CriterionExclusion CriterionType = "exclusion"
)

// ParseCriterionType defaults unknown values to inclusion, per the input
// contract's documented behavior for criterion_type.
func ParseCriterionType(raw string) CriterionType {
	switch CriterionType(raw) {
	case CriterionInclusion, CriterionExclusion:
		return CriterionType(raw)
	default:
		return CriterionInclusion
	}
}

// OperatorKind enumerates the closed set of expression-tree operator nodes.
type OperatorKind string

const (
	OpAND         OperatorKind = "AND"
	OpOR          OperatorKind = "OR"
	OpNOT         OperatorKind = "NOT"
	OpEXCEPT      OperatorKind = "EXCEPT"
	OpIMPLICATION OperatorKind = "IMPLICATION"
)

// TemporalDirection describes which side of a reference point a duration
// constraint applies to.
type TemporalDirection string

const (
	DirectionBefore TemporalDirection = "before"
	DirectionAfter  TemporalDirection = "after"
	DirectionWithin TemporalDirection = "within"
)

// ClinicalCategory is the six-way bucket used for feasibility classification
// and funnel-stage assignment.
type ClinicalCategory string

const (
	CategoryPrimaryAnchor     ClinicalCategory = "primary_anchor"
	CategoryBiomarker         ClinicalCategory = "biomarker"
	CategoryTreatmentHistory  ClinicalCategory = "treatment_history"
	CategoryFunctional        ClinicalCategory = "functional"
	CategorySafetyExclusion   ClinicalCategory = "safety_exclusion"
	CategoryAdministrative    ClinicalCategory = "administrative"
	CategoryDiseaseIndication ClinicalCategory = "disease_indication" // QEB-level naming category
	CategoryDemographics      ClinicalCategory = "demographics"       // QEB-level naming category
)

// QueryableStatus describes how automatable a key criterion is.
type QueryableStatus string

const (
	StatusFullyQueryable    QueryableStatus = "fully_queryable"
	StatusPartiallyQueryable QueryableStatus = "partially_queryable"
	StatusNonQueryable      QueryableStatus = "non_queryable"
	StatusReferenceBased    QueryableStatus = "reference_based"
)

// QEBQueryableStatus is the richer per-QEB status vocabulary used by Stage 12
// (spec.md §4.11 step 4), distinct from the key-criterion QueryableStatus
// vocabulary used by Stage 11.
type QEBQueryableStatus string

const (
	QEBFullyQueryable     QEBQueryableStatus = "fully_queryable"
	QEBHybridQueryable    QEBQueryableStatus = "hybrid_queryable"
	QEBLLMExtractable     QEBQueryableStatus = "llm_extractable"
	QEBPartiallyQueryable QEBQueryableStatus = "partially_queryable"
	QEBScreeningOnly      QEBQueryableStatus = "screening_only"
	QEBRequiresManual     QEBQueryableStatus = "requires_manual"
	QEBNotApplicable      QEBQueryableStatus = "not_applicable"
)

// restrictivenessRank implements the most-restrictive-wins ordering from
// spec.md §4.11 step 5 and the QEB status aggregation invariant in §8.
var restrictivenessRank = map[QEBQueryableStatus]int{
	QEBRequiresManual:     6,
	QEBScreeningOnly:      5,
	QEBLLMExtractable:     4,
	QEBHybridQueryable:    3,
	QEBPartiallyQueryable: 2,
	QEBFullyQueryable:     1,
	QEBNotApplicable:      0,
}

// MostRestrictive returns the status in statuses with the highest
// restrictiveness rank. Returns QEBNotApplicable for an empty input.
func MostRestrictive(statuses []QEBQueryableStatus) QEBQueryableStatus {
	best := QEBNotApplicable
	bestRank := -1
	for _, s := range statuses {
		if r := restrictivenessRank[s]; r > bestRank {
			bestRank = r
			best = s
		}
	}
	return best
}

// DataSource enumerates where the evidence answering a criterion lives
// (spec.md glossary: "Data-source classification").
type DataSource string

const (
	DataSourceEHRStructured     DataSource = "ehr_structured"
	DataSourcePathologyReport   DataSource = "pathology_report"
	DataSourceRadiologyReport   DataSource = "radiology_report"
	DataSourceClinicalNotes     DataSource = "clinical_notes"
	DataSourceRealTimeAssess    DataSource = "real_time_assessment"
	DataSourceClinicalJudgment  DataSource = "clinical_judgment"
	DataSourceCalculatedValue   DataSource = "calculated_value"
	DataSourcePatientDecision   DataSource = "patient_decision"
)

// IsUnstructured reports whether a source requires NLP-over-notes rather
// than a structured table lookup.
func (d DataSource) IsUnstructured() bool {
	switch d {
	case DataSourcePathologyReport, DataSourceRadiologyReport, DataSourceClinicalNotes:
		return true
	default:
		return false
	}
}

// ComparisonOperator is the validated set of numeric-constraint operators.
type ComparisonOperator string

const (
	OpGTE ComparisonOperator = ">="
	OpLTE ComparisonOperator = "<="
	OpEQ  ComparisonOperator = "="
	OpGT  ComparisonOperator = ">"
	OpLT  ComparisonOperator = "<"
	OpNEQ ComparisonOperator = "!="
)

// ValidComparisonOperators is the closed set validated before SQL/adapter
// execution (spec.md §6, Query Adapter contract).
var ValidComparisonOperators = map[ComparisonOperator]bool{
	OpGTE: true, OpLTE: true, OpEQ: true, OpGT: true, OpLT: true, OpNEQ: true,
}

// OmopDomain enumerates the OMOP CDM domains Stage 6 can target.
type OmopDomain string

const (
	DomainCondition    OmopDomain = "Condition"
	DomainDrug         OmopDomain = "Drug"
	DomainMeasurement  OmopDomain = "Measurement"
	DomainProcedure    OmopDomain = "Procedure"
	DomainObservation  OmopDomain = "Observation"
	DomainDevice       OmopDomain = "Device"
)

// TableForDomain returns the canonical OMOP CDM table for a domain.
func TableForDomain(d OmopDomain) string {
	switch d {
	case DomainCondition:
		return "condition_occurrence"
	case DomainDrug:
		return "drug_exposure"
	case DomainMeasurement:
		return "measurement"
	case DomainProcedure:
		return "procedure_occurrence"
	case DomainObservation:
		return "observation"
	case DomainDevice:
		return "device_exposure"
	default:
		return ""
	}
}

// ConceptIDColumn returns the single canonical *_concept_id column for a
// table, enforced by Stage 6 / the Reflection Engine's SQL-for-table check.
func ConceptIDColumn(table string) string {
	switch table {
	case "condition_occurrence":
		return "condition_concept_id"
	case "drug_exposure":
		return "drug_concept_id"
	case "measurement":
		return "measurement_concept_id"
	case "procedure_occurrence":
		return "procedure_concept_id"
	case "observation":
		return "observation_concept_id"
	case "device_exposure":
		return "device_concept_id"
	default:
		return ""
	}
}

// ExpansionSource records where a ConceptExpansion value came from.
type ExpansionSource string

const (
	SourceCache    ExpansionSource = "cache"
	SourceLLM      ExpansionSource = "llm"
	SourceFallback ExpansionSource = "fallback"
)

// PopulationMethod enumerates how a FunnelResult's population estimate was
// derived.
type PopulationMethod string

const (
	MethodQuery      PopulationMethod = "query"
	MethodPrevalence PopulationMethod = "prevalence"
	MethodHybrid     PopulationMethod = "hybrid"
)

// ConfidenceWidening is the per-method confidence interval half-width
// applied in Stage 11 population estimation (spec.md §4.10).
var ConfidenceWidening = map[PopulationMethod]float64{
	MethodQuery:      0.15,
	MethodPrevalence: 0.30,
	MethodHybrid:     0.20,
}

// QEBState is the one-directional QEB lifecycle from spec.md §4.11.
type QEBState string

const (
	QEBStateRaw       QEBState = "raw"
	QEBStateNamed     QEBState = "named"
	QEBStateAssessed  QEBState = "assessed"
	QEBStateStaged    QEBState = "staged"
	QEBStateFinalized QEBState = "finalized"
)

// qebStateOrder encodes the single allowed direction of travel.
var qebStateOrder = map[QEBState]int{
	QEBStateRaw: 0, QEBStateNamed: 1, QEBStateAssessed: 2, QEBStateStaged: 3, QEBStateFinalized: 4,
}

// CanTransition reports whether moving from `from` to `to` is a forward
// (or no-op) transition in the QEB state machine.
func CanTransition(from, to QEBState) bool {
	return qebStateOrder[to] >= qebStateOrder[from]
}
