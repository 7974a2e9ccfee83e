// Package stage11 implements feasibility: classification → key-criteria
// selection → funnel construction → population estimation (spec.md
// §4.10). Every RawCriterion is classified by the LLM into one of six
// clinical categories and one of four queryable statuses, scored by a
// composite formula, and either force-included or ranked for the
// funnel's fixed seven-stage structure; population is then estimated by
// sequential retention across the funnel.
package stage11

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
)

// Stage runs the feasibility pipeline.
type Stage struct {
	gateway *llmgateway.Gateway
	cfg     *config.FeasibilityConfig
}

// NewStage builds a Stage 11 runner.
func NewStage(gw *llmgateway.Gateway, cfg *config.FeasibilityConfig) *Stage {
	return &Stage{gateway: gw, cfg: cfg}
}

// classification is the LLM's per-criterion verdict (spec.md §4.10: "one
// of six categories... one of four queryable statuses").
type classification struct {
	Category           model.ClinicalCategory  `json:"category"`
	QueryableStatus    model.QueryableStatus   `json:"queryableStatus"`
	DataAvailability   model.DataAvailability  `json:"dataAvailability"`
	EliminationRatePct float64                 `json:"eliminationRatePct"`
	Method             model.PopulationMethod  `json:"method"`
}

// Run classifies every criterion, selects key criteria, constructs the
// funnel, and estimates the eligible population starting from
// initialPopulation.
func (s *Stage) Run(ctx context.Context, criteria []model.RawCriterion, initialPopulation int64) (model.FunnelResult, []pipelineerrors.Warning) {
	var warnings []pipelineerrors.Warning

	classified := s.classifyAll(ctx, criteria, &warnings)
	candidates := buildCandidates(criteria, classified, s.cfg)
	selected := selectKeyCriteria(candidates, s.cfg)
	stages := buildFunnelStages(selected, candidates)
	markKillerCriteria(selected, s.cfg.KillerCriteriaCount)

	result := model.FunnelResult{
		Stages:             stages,
		KeyCriteria:        selected,
		InitialPopulation:  initialPopulation,
	}
	for _, kc := range selected {
		if kc.IsKillerCriterion {
			result.KillerCriterionIDs = append(result.KillerCriterionIDs, kc.KeyID)
		}
	}

	result.PopulationEstimate = estimatePopulation(stages, initialPopulation, dominantMethod(candidates), s.cfg)
	if initialPopulation > 0 {
		result.OverallEliminationRate = 100 * (1 - float64(result.PopulationEstimate.Count)/float64(initialPopulation))
	}
	return result, warnings
}

type candidate struct {
	criterionID string
	classification
	score float64
}

func buildCandidates(criteria []model.RawCriterion, classified map[string]classification, cfg *config.FeasibilityConfig) []candidate {
	candidates := make([]candidate, 0, len(criteria))
	for _, crit := range criteria {
		c := classified[crit.ID]
		bonus := cfg.CategoryBonus[c.Category]
		score := model.CompositeScore(c.EliminationRatePct, model.QueryabilityWeight(c.QueryableStatus), c.DataAvailability, bonus)
		candidates = append(candidates, candidate{criterionID: crit.ID, classification: c, score: score})
	}
	return candidates
}

// selectKeyCriteria applies spec.md §4.10's selection rules in order,
// bounded to cfg.MaxKeyCriteria.
func selectKeyCriteria(candidates []candidate, cfg *config.FeasibilityConfig) []model.KeyCriterion {
	included := make(map[string]bool)
	var selected []candidate

	take := func(c candidate) {
		if included[c.criterionID] || len(selected) >= cfg.MaxKeyCriteria {
			return
		}
		included[c.criterionID] = true
		selected = append(selected, c)
	}

	// Rule 1: always include all primary_anchor.
	for _, c := range candidates {
		if c.Category == model.CategoryPrimaryAnchor {
			take(c)
		}
	}
	// Rule 2: include queryable biomarker.
	for _, c := range candidates {
		if c.Category == model.CategoryBiomarker && c.QueryableStatus != model.StatusNonQueryable {
			take(c)
		}
	}
	// Rule 3: functional / treatment_history / safety_exclusion above
	// category-specific elimination thresholds.
	for _, c := range candidates {
		threshold, ok := cfg.CategoryEliminationThreshold[c.Category]
		if ok && c.EliminationRatePct >= threshold {
			take(c)
		}
	}
	// Rule 4: fill remaining slots by descending score among queryable
	// criteria.
	remaining := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if !included[c.criterionID] && c.QueryableStatus != model.StatusNonQueryable {
			remaining = append(remaining, c)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool { return remaining[i].score > remaining[j].score })
	for _, c := range remaining {
		take(c)
	}

	out := make([]model.KeyCriterion, len(selected))
	for i, c := range selected {
		out[i] = model.KeyCriterion{
			KeyID:                    c.criterionID,
			OriginalCriterionIDs:     []string{c.criterionID},
			Category:                 c.Category,
			QueryableStatus:          c.QueryableStatus,
			EstimatedEliminationRate: c.EliminationRatePct,
			RequiresManualAssessment: c.QueryableStatus == model.StatusNonQueryable,
			FunnelPriority:           i,
			Score:                    c.score,
		}
	}
	return out
}

// categoryFunnelStage maps a clinical category to its fixed funnel stage
// (spec.md §4.10). Routing looks only at the category: administrative and
// any unrecognised category fall to Lab Criteria, since no clinical
// category in the six-way bucket is itself named "lab".
func categoryFunnelStage(cat model.ClinicalCategory) model.FunnelStageType {
	switch cat {
	case model.CategoryPrimaryAnchor, model.CategoryDiseaseIndication:
		return model.StageDiseaseIndication
	case model.CategoryDemographics:
		return model.StageDemographics
	case model.CategoryBiomarker:
		return model.StageBiomarkerRequirements
	case model.CategoryTreatmentHistory:
		return model.StageTreatmentHistory
	case model.CategoryFunctional:
		return model.StagePerformanceStatus
	case model.CategorySafetyExclusion:
		return model.StageSafetyExclusions
	default:
		return model.StageLabCriteria
	}
}

// buildFunnelStages groups key criteria into the fixed stage order,
// sorting within a stage by descending elimination rate and omitting
// empty stages (spec.md §4.10).
func buildFunnelStages(selected []model.KeyCriterion, candidates []candidate) []model.FunnelStage {
	byID := make(map[string]candidate, len(candidates))
	for _, c := range candidates {
		byID[c.criterionID] = c
	}

	grouped := make(map[model.FunnelStageType][]model.KeyCriterion)
	for _, kc := range selected {
		st := categoryFunnelStage(kc.Category)
		grouped[st] = append(grouped[st], kc)
	}

	var stages []model.FunnelStage
	for order, st := range model.FunnelStageOrder {
		criteria := grouped[st]
		if len(criteria) == 0 {
			continue
		}
		sort.SliceStable(criteria, func(i, j int) bool {
			return criteria[i].EstimatedEliminationRate > criteria[j].EstimatedEliminationRate
		})
		stages = append(stages, model.FunnelStage{
			Name:            model.FunnelStageName[st],
			StageType:       st,
			Order:           order,
			Criteria:        criteria,
			EliminationRate: stageEliminationRate(criteria),
		})
	}
	return stages
}

// stageEliminationRate combines independent per-criterion elimination
// rates into a single stage-level elimination rate, in percent:
// 100 · (1 - ∏(1 - rate_k/100)).
func stageEliminationRate(criteria []model.KeyCriterion) float64 {
	retained := 1.0
	for _, c := range criteria {
		retained *= 1 - c.EstimatedEliminationRate/100
	}
	if retained < 0 {
		retained = 0
	}
	return 100 * (1 - retained)
}

// markKillerCriteria flags the top-N queryable criteria by elimination
// rate as killer criteria (default N=8, spec.md §4.10).
func markKillerCriteria(selected []model.KeyCriterion, n int) {
	idx := make([]int, 0, len(selected))
	for i, kc := range selected {
		if kc.QueryableStatus != model.StatusNonQueryable {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return selected[idx[a]].EstimatedEliminationRate > selected[idx[b]].EstimatedEliminationRate
	})
	if n > len(idx) {
		n = len(idx)
	}
	for _, i := range idx[:n] {
		selected[i].IsKillerCriterion = true
	}
}

// estimatePopulation applies sequential retention across funnel stages
// (spec.md §4.10: pop_{k+1} = pop_k · (1 − eliminationRate_k)) and widens
// the confidence band by method.
func estimatePopulation(stages []model.FunnelStage, initial int64, method model.PopulationMethod, cfg *config.FeasibilityConfig) model.PopulationEstimate {
	pop := initial
	for i := range stages {
		stages[i].PatientsEntering = pop
		pop = model.ApplyEliminationRate(pop, stages[i].EliminationRate)
		stages[i].PatientsExiting = pop
	}

	widenPct := cfg.ConfidenceWidenPct[method]
	delta := int64(float64(pop) * widenPct / 100)
	low := pop - delta
	if low < 0 {
		low = 0
	}
	return model.PopulationEstimate{
		Count:          pop,
		ConfidenceLow:  low,
		ConfidenceHigh: pop + delta,
		Method:         method,
	}
}

// dominantMethod returns the estimation method shared by every candidate,
// or MethodHybrid if the classified methods are mixed.
func dominantMethod(candidates []candidate) model.PopulationMethod {
	if len(candidates) == 0 {
		return model.MethodHybrid
	}
	method := candidates[0].Method
	for _, c := range candidates[1:] {
		if c.Method != method {
			return model.MethodHybrid
		}
	}
	if method == "" {
		return model.MethodHybrid
	}
	return method
}

type classifyResponse struct {
	Results map[string]classification `json:"results"`
}

// classifyAll sends every criterion through the LLM gateway in one
// combined request; no batch size from the concurrency config applies.
// Classification prompts are small and benefit from sharing context
// across criteria.
func (s *Stage) classifyAll(ctx context.Context, criteria []model.RawCriterion, warnings *[]pipelineerrors.Warning) map[string]classification {
	out := make(map[string]classification, len(criteria))
	if len(criteria) == 0 {
		return out
	}

	payload, err := json.Marshal(criteria)
	if err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, "stage11", fmt.Sprintf("marshal criteria: %v", err)))
		return defaultClassifications(criteria)
	}

	resp, err := s.gateway.Complete(ctx, "feasibility_classification", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: classificationSystemPrompt},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, "stage11", err.Error()))
		return defaultClassifications(criteria)
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, "stage11", fmt.Sprintf("decode classification response: %v", err)))
		return defaultClassifications(criteria)
	}

	for _, crit := range criteria {
		if c, ok := parsed.Results[crit.ID]; ok {
			out[crit.ID] = c
		} else {
			out[crit.ID] = defaultClassification()
			*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, crit.ID, "classification missing from response"))
		}
	}
	return out
}

func defaultClassifications(criteria []model.RawCriterion) map[string]classification {
	out := make(map[string]classification, len(criteria))
	for _, crit := range criteria {
		out[crit.ID] = defaultClassification()
	}
	return out
}

func defaultClassification() classification {
	return classification{
		Category:         model.CategoryAdministrative,
		QueryableStatus:  model.StatusNonQueryable,
		DataAvailability: 0.3,
		Method:           model.MethodHybrid,
	}
}

const classificationSystemPrompt = `You classify clinical trial eligibility criteria for feasibility analysis.
For each criterion, assign: category (one of primary_anchor, biomarker, treatment_history, functional, safety_exclusion, administrative), queryableStatus (one of fully_queryable, partially_queryable, reference_based, non_queryable), dataAvailability (0..1 estimate of structured-data completeness), eliminationRatePct (0..100 estimated screen-fail percentage), method (one of query, prevalence, hybrid — how the elimination rate was derived).
Return JSON: {"results": {"<criterionId>": {"category": "...", "queryableStatus": "...", "dataAvailability": 0.0, "eliminationRatePct": 0.0, "method": "..."}, ...}}`
