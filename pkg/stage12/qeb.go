// Package stage12 builds Queryable Eligibility Blocks (QEBs): one per
// RawCriterion, combining the criterion's expression tree, mapped
// atomics, and SQL templates into a single executable+narratable unit
// (spec.md §4.11).
package stage12

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
)

// Stage runs the QEB-building pipeline.
type Stage struct {
	gateway *llmgateway.Gateway
}

// NewStage builds a Stage 12 runner.
func NewStage(gw *llmgateway.Gateway) *Stage {
	return &Stage{gateway: gw}
}

// Input is the per-criterion material Stage 12 consumes: the criterion
// itself, its expression tree (from Stage 2), and its SQL-enriched
// atomics (from Stage 6, carrying the Stage 4 OMOP/FHIR mappings).
type Input struct {
	Criterion model.RawCriterion
	Tree      *model.ExpressionTree
	Atomics   []model.SQLAtomic
}

// Run builds one QEB per input, reconciles atomic counts, and assembles
// the final QEBOutput artifact.
func (s *Stage) Run(ctx context.Context, inputs []Input) (model.QEBOutput, []pipelineerrors.Warning) {
	var warnings []pipelineerrors.Warning
	out := model.QEBOutput{LogicalGroups: make(map[string][]string)}

	dataSources := s.classifyDataSources(ctx, inputs, &warnings)

	qebs := make([]model.QEB, 0, len(inputs))
	var allAtomics []model.MappedAtomic
	for _, in := range inputs {
		qeb, atomicIDs := s.buildQEB(in, dataSources, &warnings)
		qebs = append(qebs, qeb)
		out.LogicalGroups[in.Criterion.ID] = atomicIDs
		for _, a := range in.Atomics {
			allAtomics = append(allAtomics, a.MappedAtomic)
		}
	}

	s.enrichNaming(ctx, qebs, &warnings)

	out.TotalCriteria = len(inputs)
	out.TotalQEBs = len(qebs)
	out.QueryableBlocks = qebs
	out.AtomicCriteria = allAtomics
	out.FunnelStages = buildFunnelStages(qebs)
	out.ExecutionGuide = buildExecutionGuide(qebs)
	for _, w := range warnings {
		out.Warnings = append(out.Warnings, w.Message)
	}
	return out, warnings
}

// buildQEB assembles a single QEB: node-to-atomic mapping, combined SQL
// lowering, queryable-status aggregation, OMOP dedup, and biomedical
// concept enrichment. Returns the QEB and the atomic IDs it covers.
func (s *Stage) buildQEB(in Input, dataSources map[string]model.DataSource, warnings *[]pipelineerrors.Warning) (model.QEB, []string) {
	crit := in.Criterion
	qeb := model.QEB{
		CriterionID:   crit.ID,
		CriterionType: crit.Type,
		State:         model.QEBStateRaw,
	}

	leaves := in.Tree.Leaves()
	if len(leaves) != len(in.Atomics) {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, crit.ID,
			fmt.Sprintf("atomic count mismatch: tree has %d leaves, received %d atomics (operators: %v)",
				len(leaves), len(in.Atomics), in.Tree.OperatorsUsed())))
	}

	nodeToAtomic := mapNodesToAtomics(crit.ID, leaves, in.Atomics)
	qeb.CombinedSQL = lowerNode(in.Tree.Root, nodeToAtomic)
	qeb.InternalLogic = strings.Join(operatorNames(in.Tree.OperatorsUsed()), ",")
	qeb.Transition(model.QEBStateNamed)

	var statuses []model.QEBQueryableStatus
	var atomicIDs []string
	omopSeen := make(map[int64]bool)
	groupSeen := make(map[string][]string)
	for _, a := range in.Atomics {
		atomicIDs = append(atomicIDs, a.ID)
		ds, ok := dataSources[a.ID]
		if !ok {
			ds = model.DataSourceClinicalJudgment
		}
		status := deriveQueryableStatus(ds, a.HasMapping())
		statuses = append(statuses, status)

		if a.PrimaryMapping != nil && !omopSeen[a.PrimaryMapping.ConceptID] {
			omopSeen[a.PrimaryMapping.ConceptID] = true
			qeb.OmopConcepts = append(qeb.OmopConcepts, *a.PrimaryMapping)
			qeb.BiomedicalConcepts = append(qeb.BiomedicalConcepts, biomedicalConceptFor(*a.PrimaryMapping))
		}
		qeb.FhirResources = append(qeb.FhirResources, a.FhirMappings...)

		if a.ClinicalConceptGroup != "" {
			groupSeen[a.ClinicalConceptGroup] = append(groupSeen[a.ClinicalConceptGroup], a.ID)
		}
	}
	qeb.QueryableStatus = model.MostRestrictive(statuses)
	qeb.DataSource = aggregateDataSource(in.Atomics, dataSources)
	qeb.AtomicIDs = atomicIDs
	qeb.ClinicalSummary.ConceptGroups = buildConceptGroups(groupSeen)
	qeb.Transition(model.QEBStateAssessed)

	return qeb, atomicIDs
}

// mapNodesToAtomics pairs expression-tree leaves with SQL atomics using
// three strategies in priority order (spec.md §4.11 step 1):
// logical-group naming, atomic-id numeric suffix, then position.
func mapNodesToAtomics(criterionID string, leaves []*model.Node, atomics []model.SQLAtomic) map[*model.Node]*model.SQLAtomic {
	byLogicalGroup := make(map[string]*model.SQLAtomic, len(atomics))
	bySuffix := make(map[string]*model.SQLAtomic, len(atomics))
	for i := range atomics {
		a := &atomics[i]
		byLogicalGroup[a.LogicalGroup] = a
		if suffix, ok := numericSuffix(a.ID); ok {
			bySuffix[suffix] = a
		}
	}

	out := make(map[*model.Node]*model.SQLAtomic, len(leaves))
	for idx, leaf := range leaves {
		if a, ok := byLogicalGroup[model.LogicalGroupFor(criterionID, idx)]; ok {
			out[leaf] = a
			continue
		}
		if leaf.AtomicID != "" {
			if suffix, ok := numericSuffix(leaf.AtomicID); ok {
				if a, ok := bySuffix[suffix]; ok {
					out[leaf] = a
					continue
				}
			}
		}
		if idx < len(atomics) {
			out[leaf] = &atomics[idx]
		}
	}
	return out
}

// numericSuffix extracts the trailing digits of an atomic ID (e.g.
// "C001-A2" -> "2"), used for the atomic-id-numeric-suffix matching
// strategy.
func numericSuffix(id string) (string, bool) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) {
		return "", false
	}
	return id[i:], true
}

// lowerNode recursively lowers an expression-tree node to SQL, per
// spec.md §4.11 step 2's rewrite rules.
func lowerNode(n *model.Node, nodeToAtomic map[*model.Node]*model.SQLAtomic) string {
	if n == nil {
		return ""
	}
	switch n.Kind {
	case model.NodeAtomic:
		if a, ok := nodeToAtomic[n]; ok {
			return a.SQL
		}
		return ""
	case model.NodeTemporal:
		inner := lowerNode(n.Operand, nodeToAtomic)
		return wrapTemporal(inner, n.Temporal)
	case model.NodeOperator:
		parts := make([]string, len(n.Operands))
		for i, op := range n.Operands {
			parts[i] = "(" + lowerNode(op, nodeToAtomic) + ")"
		}
		switch n.Operator {
		case model.OpAND:
			return strings.Join(parts, " INTERSECT ")
		case model.OpOR:
			return strings.Join(parts, " UNION ")
		case model.OpNOT:
			return "(SELECT person_id FROM person) EXCEPT " + parts[0]
		case model.OpEXCEPT:
			return parts[0] + " EXCEPT " + parts[1]
		case model.OpIMPLICATION:
			c, r := parts[0], parts[1]
			return "((SELECT person_id FROM person) EXCEPT " + c + ") UNION (" + c + " INTERSECT " + r + ")"
		}
	}
	return ""
}

// wrapTemporal applies a date-range predicate derived from the temporal
// constraint around the already-lowered subquery.
func wrapTemporal(inner string, t *model.TemporalConstraint) string {
	if t == nil {
		return inner
	}
	cmp := "<="
	if t.Direction == model.DirectionAfter {
		cmp = ">="
	}
	return fmt.Sprintf(
		"SELECT t.person_id FROM (%s) t JOIN condition_occurrence co ON co.person_id = t.person_id WHERE co.condition_start_date %s :reference_date - INTERVAL '%d %s'",
		inner, cmp, t.DurationValue, t.DurationUnit,
	)
}

func operatorNames(ops []model.OperatorKind) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}

// deriveQueryableStatus implements the lookup table from spec.md §4.11
// step 4.
func deriveQueryableStatus(ds model.DataSource, hasMapping bool) model.QEBQueryableStatus {
	switch ds {
	case model.DataSourcePatientDecision:
		return model.QEBNotApplicable
	case model.DataSourceRealTimeAssess, model.DataSourceClinicalJudgment, model.DataSourceCalculatedValue:
		return model.QEBScreeningOnly
	}
	if ds.IsUnstructured() {
		if hasMapping {
			return model.QEBHybridQueryable
		}
		return model.QEBLLMExtractable
	}
	if ds == model.DataSourceEHRStructured && hasMapping {
		return model.QEBFullyQueryable
	}
	return model.QEBLLMExtractable
}

// aggregateDataSource builds the QEB-level DataSourceClassification from
// its atomics' individually classified sources.
func aggregateDataSource(atomics []model.SQLAtomic, sources map[string]model.DataSource) model.DataSourceClassification {
	counts := make(map[model.DataSource]int)
	for _, a := range atomics {
		counts[sources[a.ID]]++
	}
	best := model.DataSource("")
	bestCount := -1
	for ds, n := range counts {
		if n > bestCount {
			bestCount = n
			best = ds
		}
	}
	return model.DataSourceClassification{PrimarySource: best, BySource: counts}
}

func buildConceptGroups(groupSeen map[string][]string) []model.ClinicalConceptGroup {
	names := make([]string, 0, len(groupSeen))
	for name := range groupSeen {
		names = append(names, name)
	}
	sort.Strings(names)
	groups := make([]model.ClinicalConceptGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, model.ClinicalConceptGroup{GroupName: name, AtomicIDs: groupSeen[name]})
	}
	return groups
}

// cdiscDomainTable is a curated OMOP-domain → CDISC biomedical-concept
// mapping, in the spirit of a small lookup table rather than an LLM call
// per concept (spec.md §4.11 step 7).
var cdiscDomainTable = map[model.OmopDomain]string{
	model.DomainCondition:   "C_COND",
	model.DomainDrug:        "C_DRUG",
	model.DomainMeasurement: "C_LAB",
	model.DomainProcedure:   "C_PROC",
	model.DomainObservation: "C_OBS",
	model.DomainDevice:      "C_DEV",
}

func biomedicalConceptFor(m model.OmopMapping) model.BiomedicalConcept {
	code, ok := cdiscDomainTable[m.DomainID]
	if !ok {
		code = "C_UNK"
	}
	return model.BiomedicalConcept{
		ConceptName: m.ConceptName,
		CdiscCode:   code + "-" + strconv.FormatInt(m.ConceptID, 10),
		Domain:      string(m.DomainID),
		Confidence:  1.0,
		Rationale:   "derived from OMOP domain mapping",
	}
}

func buildFunnelStages(qebs []model.QEB) []model.FunnelStage {
	grouped := make(map[model.FunnelStageType][]model.QEB)
	for _, q := range qebs {
		if q.FunnelStage == "" {
			continue
		}
		grouped[q.FunnelStage] = append(grouped[q.FunnelStage], q)
	}
	var stages []model.FunnelStage
	for order, st := range model.FunnelStageOrder {
		qs := grouped[st]
		if len(qs) == 0 {
			continue
		}
		var criteria []model.KeyCriterion
		for _, q := range qs {
			criteria = append(criteria, model.KeyCriterion{
				KeyID:                    q.CriterionID,
				Category:                 q.ClinicalCategory,
				EstimatedEliminationRate: q.EstimatedEliminationRate,
				IsKillerCriterion:        q.IsKillerCriterion,
			})
		}
		stages = append(stages, model.FunnelStage{Name: model.FunnelStageName[st], StageType: st, Order: order, Criteria: criteria})
	}
	return stages
}

func buildExecutionGuide(qebs []model.QEB) model.ExecutionGuide {
	guide := model.ExecutionGuide{}
	sorted := make([]model.QEB, len(qebs))
	copy(sorted, qebs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].FunnelOrder < sorted[j].FunnelOrder })
	for _, q := range sorted {
		guide.RecommendedOrder = append(guide.RecommendedOrder, q.CriterionID)
		if q.IsKillerCriterion {
			guide.KillerCriteria = append(guide.KillerCriteria, q.CriterionID)
		}
		if q.QueryableStatus == model.QEBRequiresManual || q.QueryableStatus == model.QEBScreeningOnly {
			guide.ManualReviewRequired = append(guide.ManualReviewRequired, q.CriterionID)
		}
	}
	return guide
}

type dataSourceResponse struct {
	Results map[string]model.DataSource `json:"results"`
}

// classifyDataSources batches every atomic across every input through a
// single LLM call (spec.md §4.11 step 3).
func (s *Stage) classifyDataSources(ctx context.Context, inputs []Input, warnings *[]pipelineerrors.Warning) map[string]model.DataSource {
	out := make(map[string]model.DataSource)
	type item struct {
		ID   string `json:"atomic_id"`
		Text string `json:"atomic_text"`
	}
	var items []item
	for _, in := range inputs {
		for _, a := range in.Atomics {
			items = append(items, item{ID: a.ID, Text: a.Text})
		}
	}
	if len(items) == 0 {
		return out
	}

	payload, err := json.Marshal(items)
	if err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, "stage12", fmt.Sprintf("marshal atomics: %v", err)))
		return out
	}

	resp, err := s.gateway.Complete(ctx, "qeb_data_source_classification", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: dataSourceSystemPrompt},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, "stage12", err.Error()))
		return out
	}

	var parsed dataSourceResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, "stage12", fmt.Sprintf("decode data-source response: %v", err)))
		return out
	}
	return parsed.Results
}

const dataSourceSystemPrompt = `You classify the evidence source for each clinical trial eligibility atomic criterion.
Assign exactly one of: ehr_structured, pathology_report, radiology_report, clinical_notes, real_time_assessment, clinical_judgment, calculated_value, patient_decision.
Return JSON: {"results": {"<atomicId>": "<source>", ...}}`

type namingResponse struct {
	Results map[string]struct {
		ClinicalName        string                 `json:"clinicalName"`
		ClinicalDescription string                 `json:"clinicalDescription"`
		ClinicalCategory    model.ClinicalCategory `json:"clinicalCategory"`
		EliminationRatePct   float64                `json:"eliminationRatePct"`
		IsKillerCriterion    bool                   `json:"isKillerCriterion"`
		FunnelStage          model.FunnelStageType  `json:"funnelStage"`
	} `json:"results"`
}

// enrichNaming batch-calls the LLM for clinical naming, elimination
// estimates, and funnel-stage clustering (spec.md §4.11 step 6),
// mutating qebs in place.
func (s *Stage) enrichNaming(ctx context.Context, qebs []model.QEB, warnings *[]pipelineerrors.Warning) {
	if len(qebs) == 0 {
		return
	}
	type item struct {
		CriterionID string `json:"criterion_id"`
		SQL         string `json:"combined_sql"`
	}
	items := make([]item, len(qebs))
	for i, q := range qebs {
		items[i] = item{CriterionID: q.CriterionID, SQL: q.CombinedSQL}
	}

	payload, err := json.Marshal(items)
	if err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, "stage12", fmt.Sprintf("marshal qebs: %v", err)))
		return
	}

	resp, err := s.gateway.Complete(ctx, "qeb_naming", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: namingSystemPrompt},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, "stage12", err.Error()))
		return
	}

	var parsed namingResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, "stage12", fmt.Sprintf("decode naming response: %v", err)))
		return
	}

	for i := range qebs {
		r, ok := parsed.Results[qebs[i].CriterionID]
		if !ok {
			*warnings = append(*warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, qebs[i].CriterionID, "naming missing from response"))
			continue
		}
		qebs[i].ClinicalName = r.ClinicalName
		qebs[i].ClinicalDescription = r.ClinicalDescription
		qebs[i].ClinicalCategory = r.ClinicalCategory
		qebs[i].EstimatedEliminationRate = r.EliminationRatePct
		qebs[i].IsKillerCriterion = r.IsKillerCriterion
		qebs[i].FunnelStage = r.FunnelStage
		for order, st := range model.FunnelStageOrder {
			if st == r.FunnelStage {
				qebs[i].FunnelOrder = order
			}
		}
		qebs[i].ClinicalSummary.PlainEnglishLogic = r.ClinicalDescription
		qebs[i].Transition(model.QEBStateStaged)
		qebs[i].Transition(model.QEBStateFinalized)
	}
}
