package model

// FunnelStageType enumerates the fixed funnel-stage ordering (spec.md
// §4.10).
type FunnelStageType string

const (
	StageDiseaseIndication     FunnelStageType = "disease_indication"
	StageDemographics          FunnelStageType = "demographics"
	StageBiomarkerRequirements FunnelStageType = "biomarker_requirements"
	StageTreatmentHistory      FunnelStageType = "treatment_history"
	StagePerformanceStatus     FunnelStageType = "performance_status"
	StageLabCriteria           FunnelStageType = "lab_criteria"
	StageSafetyExclusions      FunnelStageType = "safety_exclusions"
)

// FunnelStageOrder is the fixed construction order from spec.md §4.10.
var FunnelStageOrder = []FunnelStageType{
	StageDiseaseIndication,
	StageDemographics,
	StageBiomarkerRequirements,
	StageTreatmentHistory,
	StagePerformanceStatus,
	StageLabCriteria,
	StageSafetyExclusions,
}

// FunnelStageName is the human-readable label for a stage type.
var FunnelStageName = map[FunnelStageType]string{
	StageDiseaseIndication:     "Disease Indication",
	StageDemographics:          "Demographics",
	StageBiomarkerRequirements: "Biomarker Requirements",
	StageTreatmentHistory:      "Treatment History",
	StagePerformanceStatus:     "Performance Status",
	StageLabCriteria:           "Lab Criteria",
	StageSafetyExclusions:      "Safety Exclusions",
}

// FunnelStage is an ordered container of key criteria sharing a category
// (spec.md §3).
type FunnelStage struct {
	Name              string          `json:"name"`
	StageType         FunnelStageType `json:"stage_type"`
	Order             int             `json:"order"`
	Criteria          []KeyCriterion  `json:"criteria"`
	PatientsEntering  int64           `json:"patients_entering"`
	PatientsExiting   int64           `json:"patients_exiting"`
	EliminationRate   float64         `json:"elimination_rate"`
	ExecutionTimeMs   int64           `json:"execution_time_ms"`
}

// PopulationEstimate carries the Stage 11 population estimate and its
// confidence band (spec.md §3).
type PopulationEstimate struct {
	Count           int64            `json:"count"`
	ConfidenceLow   int64            `json:"confidence_low"`
	ConfidenceHigh  int64            `json:"confidence_high"`
	Method          PopulationMethod `json:"method"`
}

// OptimizationOpportunity flags a criterion or ordering change that could
// reduce funnel execution cost or eliminate patients earlier.
type OptimizationOpportunity struct {
	Description string `json:"description"`
	KeyID       string `json:"key_id,omitempty"`
	Impact      string `json:"impact"` // low|medium|high
}

// SiteRanking is a placeholder ranking hook for site-level feasibility
// (populated by external collaborators; the core only carries the shape).
type SiteRanking struct {
	SiteID string  `json:"site_id"`
	Score  float64 `json:"score"`
}

// FunnelResult is the full feasibility result (spec.md §3).
type FunnelResult struct {
	Stages                   []FunnelStage             `json:"stages"`
	KeyCriteria              []KeyCriterion            `json:"key_criteria"`
	KillerCriterionIDs       []string                  `json:"killer_criterion_ids"`
	OptimizationOpportunities []OptimizationOpportunity `json:"optimization_opportunities,omitempty"`
	SiteRankings             []SiteRanking              `json:"site_rankings,omitempty"`
	PopulationEstimate       PopulationEstimate          `json:"population_estimate"`
	InitialPopulation        int64                       `json:"initial_population"`
	OverallEliminationRate   float64                     `json:"overall_elimination_rate"`
}

// ApplyEliminationRate computes next population as
// pop_{k+1} = pop_k * (1 - eliminationRate_k), per spec.md §4.10.
func ApplyEliminationRate(pop int64, eliminationRatePct float64) int64 {
	if eliminationRatePct < 0 {
		eliminationRatePct = 0
	}
	if eliminationRatePct > 100 {
		eliminationRatePct = 100
	}
	retained := float64(pop) * (1 - eliminationRatePct/100)
	if retained < 0 {
		retained = 0
	}
	return int64(retained)
}
