package model

// KeyCriterion is a selected/prioritized criterion for the feasibility
// funnel (spec.md §3, §4.10).
type KeyCriterion struct {
	KeyID                    string           `json:"key_id"`
	OriginalCriterionIDs     []string         `json:"original_criterion_ids"`
	Category                 ClinicalCategory `json:"category"`
	QueryableStatus          QueryableStatus  `json:"queryable_status"`
	EstimatedEliminationRate float64          `json:"estimated_elimination_rate"` // 0..100
	RequiresManualAssessment bool             `json:"requires_manual_assessment"`
	IsKillerCriterion        bool             `json:"is_killer_criterion"`
	FunnelPriority           int              `json:"funnel_priority"`
	OmopMappings             []OmopMapping    `json:"omop_mappings,omitempty"`

	// Score is the composite selection score from spec.md §4.10; retained
	// for audit/ranking though it is not part of the external contract.
	Score float64 `json:"score"`
}

// DataAvailability is a [0,1] estimate of how complete the structured data
// backing this criterion is expected to be, used as the `data_availability`
// term in the composite score formula.
type DataAvailability float64

// CompositeScore implements spec.md §4.10:
// score = elimination_rate · queryability_weight · max(data_availability, 0.3) + category_bonus
func CompositeScore(eliminationRatePct float64, queryabilityWeight float64, dataAvailability DataAvailability, categoryBonus float64) float64 {
	avail := float64(dataAvailability)
	if avail < 0.3 {
		avail = 0.3
	}
	return eliminationRatePct*queryabilityWeight*avail + categoryBonus
}

// QueryabilityWeight maps a QueryableStatus to the weight used in the
// composite score.
func QueryabilityWeight(s QueryableStatus) float64 {
	switch s {
	case StatusFullyQueryable:
		return 1.0
	case StatusPartiallyQueryable:
		return 0.6
	case StatusReferenceBased:
		return 0.3
	case StatusNonQueryable:
		return 0.0
	default:
		return 0.0
	}
}
