package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
	"github.com/trialqeb/interpretpipe/pkg/stage02"
	"github.com/trialqeb/interpretpipe/pkg/stage04"
	"github.com/trialqeb/interpretpipe/pkg/stage06"
	"github.com/trialqeb/interpretpipe/pkg/stage07"
	"github.com/trialqeb/interpretpipe/pkg/stage11"
	"github.com/trialqeb/interpretpipe/pkg/stage12"
	"github.com/trialqeb/interpretpipe/pkg/usdm"
)

// runState carries the per-run mutable context each phase method needs;
// splitting it out of Orchestrator keeps the stage dependencies (gateway,
// vocab, reflection engine) immutable and shared across concurrent runs.
type runState struct {
	o        *Orchestrator
	ctx      context.Context
	runID    string
	runDir   string
	total    int
	progress ProgressFunc
	result   *RunResult
}

// checkAbort returns the run's cancellation error, if any, wrapped so
// callers can distinguish it from a stage failure.
func (r *runState) checkAbort() error {
	if err := r.ctx.Err(); err != nil {
		return fmt.Errorf("orchestrator: run %s canceled: %w", r.runID, err)
	}
	return nil
}

func (r *runState) emit(phase, stageName string, index int, resumed bool) {
	r.progress(Progress{
		RunID:        r.runID,
		Phase:        phase,
		StageIndex:   index,
		TotalStages:  r.total,
		StageName:    stageName,
		Resumed:      resumed,
		WarningCount: len(r.result.Warnings),
	})
}

func (r *runState) timeIt(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.result.Durations[name] = time.Since(start)
	return err
}

// stage02Artifact is the resumable artifact for registry stage 2.
type stage02Artifact struct {
	Trees    []model.ExpressionTree   `json:"trees"`
	Atomics  []model.Atomic           `json:"atomics"`
	Warnings []pipelineerrors.Warning `json:"warnings,omitempty"`
}

func (r *runState) expressionTreeAndDecomposition(criteria []model.RawCriterion) error {
	if err := r.checkAbort(); err != nil {
		return err
	}
	digest := inputDigest(criteria)

	var artifact stage02Artifact
	if artifactFresh(r.runDir, 2, digest) {
		if ok, err := readArtifact(r.runDir, 2, &artifact); err == nil && ok {
			r.result.Trees = artifact.Trees
			r.result.Atomics = artifact.Atomics
			r.result.Warnings = append(r.result.Warnings, artifact.Warnings...)
			r.emit("atomic_decomposition", "atomic_decomposition", 2, true)
			return nil
		}
	}

	var res stage02.Result
	err := r.timeIt("atomic_decomposition", func() error {
		res = stage02.NewStage(r.o.gateway).Run(r.ctx, criteria)
		return nil
	})
	if err != nil {
		return err
	}

	if len(criteria) > 0 && len(res.Atomics) == 0 {
		return pipelineerrors.NewCriticalStageError(2, "atomic_decomposition",
			fmt.Errorf("decomposition produced zero atomics for %d criteria", len(criteria)))
	}

	r.result.Trees = res.Trees
	r.result.Atomics = res.Atomics
	r.result.Warnings = append(r.result.Warnings, res.Warnings...)

	artifact = stage02Artifact{Trees: res.Trees, Atomics: res.Atomics, Warnings: res.Warnings}
	if err := writeArtifact(r.runDir, []int{2}, artifact); err != nil {
		return err
	}
	if err := markArtifactFresh(r.runDir, []int{2}, digest); err != nil {
		return err
	}
	r.emit("atomic_decomposition", "atomic_decomposition", 2, false)
	return nil
}

type stage03Artifact struct {
	Expansions []model.ConceptExpansion `json:"expansions"`
}

func (r *runState) conceptExpansion() error {
	if err := r.checkAbort(); err != nil {
		return err
	}
	terms := make([]string, len(r.result.Atomics))
	for i, a := range r.result.Atomics {
		terms[i] = a.Text
	}
	digest := inputDigest(terms)

	var artifact stage03Artifact
	if artifactFresh(r.runDir, 3, digest) {
		if ok, err := readArtifact(r.runDir, 3, &artifact); err == nil && ok {
			r.applyExpansions(artifact.Expansions)
			r.emit("concept_expansion", "concept_expansion", 3, true)
			return nil
		}
	}

	var expansions []model.ConceptExpansion
	err := r.timeIt("concept_expansion", func() error {
		var expErr error
		expansions, expErr = r.o.concept.ExpandBatch(r.ctx, terms)
		return expErr
	})
	if err != nil {
		w := pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, "", fmt.Sprintf("concept expansion: %v", err))
		r.result.Warnings = append(r.result.Warnings, w)
		r.emit("concept_expansion", "concept_expansion", 3, false)
		return nil
	}

	r.applyExpansions(expansions)

	if err := writeArtifact(r.runDir, []int{3}, stage03Artifact{Expansions: expansions}); err != nil {
		return err
	}
	if err := markArtifactFresh(r.runDir, []int{3}, digest); err != nil {
		return err
	}
	r.emit("concept_expansion", "concept_expansion", 3, false)
	return nil
}

// applyExpansions fills in a still-empty DomainHint from the matching
// concept expansion's OMOP domain hint, matched by concept cache key.
func (r *runState) applyExpansions(expansions []model.ConceptExpansion) {
	byTerm := make(map[string]model.ConceptExpansion, len(expansions))
	for _, e := range expansions {
		byTerm[model.ConceptCacheKey(e.Original)] = e
	}
	for i := range r.result.Atomics {
		if r.result.Atomics[i].DomainHint != "" {
			continue
		}
		if e, ok := byTerm[model.ConceptCacheKey(r.result.Atomics[i].Text)]; ok {
			r.result.Atomics[i].DomainHint = e.OmopDomainHint
		}
	}
}

type stage0405Artifact struct {
	Mapped   []model.MappedAtomic     `json:"mapped"`
	Warnings []pipelineerrors.Warning `json:"warnings,omitempty"`
}

func (r *runState) omopFhirMapping() error {
	if err := r.checkAbort(); err != nil {
		return err
	}
	digest := inputDigest(r.result.Atomics)

	var artifact stage0405Artifact
	if artifactFresh(r.runDir, 4, digest) {
		if ok, err := readArtifact(r.runDir, 4, &artifact); err == nil && ok {
			r.result.Mapped = artifact.Mapped
			r.result.Warnings = append(r.result.Warnings, artifact.Warnings...)
			r.emit("omop_fhir_mapping", "omop_fhir_mapping", 4, true)
			r.emit("semantic_validation", "semantic_validation", 5, true)
			return nil
		}
	}

	var res stage04.Result
	err := r.timeIt("omop_fhir_mapping", func() error {
		res = stage04.NewStage(r.o.gateway, r.o.vocab, r.o.reflect).Run(r.ctx, r.result.Atomics)
		return nil
	})
	if err != nil {
		return err
	}

	if len(r.result.Atomics) > 0 {
		mappedAny := false
		for _, m := range res.Mapped {
			if m.HasMapping() {
				mappedAny = true
				break
			}
		}
		if !mappedAny {
			return pipelineerrors.NewCriticalStageError(4, "omop_fhir_mapping",
				fmt.Errorf("vocabulary/LLM mapping produced zero resolved concepts for %d atomics", len(r.result.Atomics)))
		}
	}

	r.result.Mapped = res.Mapped
	r.result.Warnings = append(r.result.Warnings, res.Warnings...)

	artifact = stage0405Artifact{Mapped: res.Mapped, Warnings: res.Warnings}
	if err := writeArtifact(r.runDir, []int{4, 5}, artifact); err != nil {
		return err
	}
	if err := markArtifactFresh(r.runDir, []int{4, 5}, digest); err != nil {
		return err
	}
	r.emit("omop_fhir_mapping", "omop_fhir_mapping", 4, false)
	r.emit("semantic_validation", "semantic_validation", 5, false)
	return nil
}

type stage06Artifact struct {
	Atomics  []model.SQLAtomic        `json:"atomics"`
	Warnings []pipelineerrors.Warning `json:"warnings,omitempty"`
}

func (r *runState) sqlGeneration() error {
	if err := r.checkAbort(); err != nil {
		return err
	}
	digest := inputDigest(r.result.Mapped)

	var artifact stage06Artifact
	if artifactFresh(r.runDir, 6, digest) {
		if ok, err := readArtifact(r.runDir, 6, &artifact); err == nil && ok {
			r.result.SQLAtomics = artifact.Atomics
			r.result.Warnings = append(r.result.Warnings, artifact.Warnings...)
			r.emit("sql_generation", "sql_generation", 6, true)
			return nil
		}
	}

	var res stage06.Result
	if err := r.timeIt("sql_generation", func() error {
		res = stage06.NewStage(r.o.reflect).Run(r.ctx, r.result.Mapped)
		return nil
	}); err != nil {
		return err
	}

	r.result.SQLAtomics = res.Atomics
	r.result.Warnings = append(r.result.Warnings, res.Warnings...)

	artifact = stage06Artifact{Atomics: res.Atomics, Warnings: res.Warnings}
	if err := writeArtifact(r.runDir, []int{6}, artifact); err != nil {
		return err
	}
	if err := markArtifactFresh(r.runDir, []int{6}, digest); err != nil {
		return err
	}
	r.emit("sql_generation", "sql_generation", 6, false)
	return nil
}

func (r *runState) usdmCompliance(criteria []model.RawCriterion) error {
	if err := r.checkAbort(); err != nil {
		return err
	}

	ids := make([]string, len(criteria))
	texts := make(map[string]string, len(criteria))
	for i, c := range criteria {
		ids[i] = c.ID
		texts[c.ID] = c.Text
	}
	digest := inputDigest(criteria)

	var artifact stage07.ComplianceResult
	if artifactFresh(r.runDir, 7, digest) {
		if ok, err := readArtifact(r.runDir, 7, &artifact); err == nil && ok {
			r.result.Compliance = artifact
			r.emit("usdm_compliance", "usdm_compliance", 7, true)
			return nil
		}
	}

	doc := usdm.BuildDocument(ids, texts, nil)
	var compliance stage07.ComplianceResult
	if err := r.timeIt("usdm_compliance", func() error {
		compliance = stage07.NewStage(true).Run(doc)
		return nil
	}); err != nil {
		return err
	}

	if !compliance.IsCompliant {
		return pipelineerrors.NewCriticalStageError(7, "usdm_compliance",
			fmt.Errorf("document failed compliance: %v", compliance.Errors))
	}

	r.result.Compliance = compliance
	if err := writeArtifact(r.runDir, []int{7}, compliance); err != nil {
		return err
	}
	if err := markArtifactFresh(r.runDir, []int{7}, digest); err != nil {
		return err
	}
	r.emit("usdm_compliance", "usdm_compliance", 7, false)
	return nil
}

type stage08to11Artifact struct {
	Funnel   model.FunnelResult      `json:"funnel"`
	Warnings []pipelineerrors.Warning `json:"warnings,omitempty"`
}

func (r *runState) feasibility(criteria []model.RawCriterion, initialPopulation int64) error {
	if err := r.checkAbort(); err != nil {
		return err
	}
	digest := inputDigest(struct {
		Criteria []model.RawCriterion
		Initial  int64
	}{criteria, initialPopulation})

	var artifact stage08to11Artifact
	if artifactFresh(r.runDir, 8, digest) {
		if ok, err := readArtifact(r.runDir, 8, &artifact); err == nil && ok {
			r.result.Funnel = artifact.Funnel
			r.result.Warnings = append(r.result.Warnings, artifact.Warnings...)
			for _, n := range []int{8, 9, 10, 11} {
				r.emit(stageNameFor(n), stageNameFor(n), n, true)
			}
			return nil
		}
	}

	var funnel model.FunnelResult
	var warnings []pipelineerrors.Warning
	if err := r.timeIt("feasibility", func() error {
		funnel, warnings = stage11.NewStage(r.o.gateway, r.o.cfg.Feasibility).Run(r.ctx, criteria, initialPopulation)
		return nil
	}); err != nil {
		return err
	}

	r.result.Funnel = funnel
	r.result.Warnings = append(r.result.Warnings, warnings...)

	artifact = stage08to11Artifact{Funnel: funnel, Warnings: warnings}
	if err := writeArtifact(r.runDir, []int{8, 9, 10, 11}, artifact); err != nil {
		return err
	}
	if err := markArtifactFresh(r.runDir, []int{8, 9, 10, 11}, digest); err != nil {
		return err
	}
	for _, n := range []int{8, 9, 10, 11} {
		r.emit(stageNameFor(n), stageNameFor(n), n, false)
	}
	return nil
}

func stageNameFor(n int) string {
	names := map[int]string{8: "key_criteria", 9: "funnel_staging", 10: "population_estimation", 11: "feasibility_scoring"}
	return names[n]
}

func (r *runState) qebBuild(criteria []model.RawCriterion) error {
	if err := r.checkAbort(); err != nil {
		return err
	}

	inputs := r.buildStage12Inputs(criteria)
	digest := inputDigest(inputs)

	var qebOutput model.QEBOutput
	if artifactFresh(r.runDir, 12, digest) {
		if ok, err := readArtifact(r.runDir, 12, &qebOutput); err == nil && ok {
			r.result.QEBOutput = qebOutput
			r.emit("qeb_build", "qeb_build", 12, true)
			return nil
		}
	}

	var warnings []pipelineerrors.Warning
	if err := r.timeIt("qeb_build", func() error {
		qebOutput, warnings = stage12.NewStage(r.o.gateway).Run(r.ctx, inputs)
		return nil
	}); err != nil {
		return err
	}

	r.result.QEBOutput = qebOutput
	r.result.Warnings = append(r.result.Warnings, warnings...)

	if err := writeArtifact(r.runDir, []int{12}, qebOutput); err != nil {
		return err
	}
	if err := markArtifactFresh(r.runDir, []int{12}, digest); err != nil {
		return err
	}
	r.emit("qeb_build", "qeb_build", 12, false)
	return nil
}

// buildStage12Inputs groups the pipeline's trees/atomics by criterion id
// into stage12.Input values, in criteria order.
func (r *runState) buildStage12Inputs(criteria []model.RawCriterion) []stage12.Input {
	treesByID := make(map[string]*model.ExpressionTree, len(r.result.Trees))
	for i := range r.result.Trees {
		treesByID[r.result.Trees[i].CriterionID] = &r.result.Trees[i]
	}
	atomicsByID := make(map[string][]model.SQLAtomic)
	for _, a := range r.result.SQLAtomics {
		atomicsByID[a.CriterionID] = append(atomicsByID[a.CriterionID], a)
	}

	inputs := make([]stage12.Input, 0, len(criteria))
	for _, c := range criteria {
		tree, ok := treesByID[c.ID]
		if !ok {
			continue
		}
		inputs = append(inputs, stage12.Input{
			Criterion: c,
			Tree:      tree,
			Atomics:   atomicsByID[c.ID],
		})
	}
	return inputs
}
