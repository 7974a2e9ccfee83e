package orchestrator

import (
	"fmt"
	"path/filepath"

	"github.com/trialqeb/interpretpipe/pkg/model"
)

// funnelSummary is the compact, human-facing digest of a full funnel run
// (spec.md §6: `{protocolId}_funnel_summary.json`), distinct from the
// full `{protocolId}_funnel_result.json` artifact it's derived from.
type funnelSummary struct {
	ProtocolID             string                          `json:"protocol_id"`
	InitialPopulation      int64                           `json:"initial_population"`
	EstimatedPopulation    int64                            `json:"estimated_population"`
	OverallEliminationRate float64                         `json:"overall_elimination_rate"`
	StageCount             int                             `json:"stage_count"`
	KeyCriteriaCount       int                             `json:"key_criteria_count"`
	KillerCriterionIDs     []string                        `json:"killer_criterion_ids"`
	StageBreakdown         []funnelSummaryStage            `json:"stage_breakdown"`
	OptimizationOpportunities []model.OptimizationOpportunity `json:"optimization_opportunities,omitempty"`
}

type funnelSummaryStage struct {
	Name            string  `json:"name"`
	PatientsEntering int64  `json:"patients_entering"`
	PatientsExiting  int64  `json:"patients_exiting"`
	EliminationRate  float64 `json:"elimination_rate"`
}

func buildFunnelSummary(protocolID string, funnel model.FunnelResult) funnelSummary {
	stages := make([]funnelSummaryStage, len(funnel.Stages))
	for i, s := range funnel.Stages {
		stages[i] = funnelSummaryStage{
			Name:             s.Name,
			PatientsEntering: s.PatientsEntering,
			PatientsExiting:  s.PatientsExiting,
			EliminationRate:  s.EliminationRate,
		}
	}
	return funnelSummary{
		ProtocolID:                protocolID,
		InitialPopulation:         funnel.InitialPopulation,
		EstimatedPopulation:       funnel.PopulationEstimate.Count,
		OverallEliminationRate:    funnel.OverallEliminationRate,
		StageCount:                len(funnel.Stages),
		KeyCriteriaCount:          len(funnel.KeyCriteria),
		KillerCriterionIDs:        funnel.KillerCriterionIDs,
		StageBreakdown:            stages,
		OptimizationOpportunities: funnel.OptimizationOpportunities,
	}
}

// writeFinalArtifacts persists the four protocol-level artifacts spec.md
// §6 names, directly under baseDir (not under interpretation_stages/).
func (r *runState) writeFinalArtifacts(baseDir, protocolID string) error {
	if err := r.checkAbort(); err != nil {
		return err
	}

	funnelResultPath := filepath.Join(baseDir, fmt.Sprintf("%s_funnel_result.json", protocolID))
	keyCriteriaPath := filepath.Join(baseDir, fmt.Sprintf("%s_key_criteria.json", protocolID))
	funnelSummaryPath := filepath.Join(baseDir, fmt.Sprintf("%s_funnel_summary.json", protocolID))
	qebOutputPath := filepath.Join(baseDir, fmt.Sprintf("%s_qeb_output.json", protocolID))

	if err := writeJSONAtomic(funnelResultPath, r.result.Funnel); err != nil {
		return err
	}
	if err := writeJSONAtomic(keyCriteriaPath, r.result.Funnel.KeyCriteria); err != nil {
		return err
	}
	if err := writeJSONAtomic(funnelSummaryPath, buildFunnelSummary(protocolID, r.result.Funnel)); err != nil {
		return err
	}
	if err := writeJSONAtomic(qebOutputPath, r.result.QEBOutput); err != nil {
		return err
	}

	r.result.ArtifactPaths = []string{funnelResultPath, keyCriteriaPath, funnelSummaryPath, qebOutputPath}
	r.emit("final_artifacts", "final_artifacts", r.total, false)
	return nil
}
