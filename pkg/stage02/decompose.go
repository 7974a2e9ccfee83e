// Package stage02 implements atomic decomposition (spec.md §4.6): each
// RawCriterion is decomposed by an LLM into an ExpressionTree, and the
// tree's leaves are flattened into the pipeline's Atomic list. This is a
// critical stage — if decomposition cannot produce usable output for the
// criterion set at all, the pipeline aborts; an individual criterion's
// LLM failure does not abort the run, it degrades to a single-leaf tree
// with a recorded warning.
package stage02

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
)

// Result is Stage 2's output: one ExpressionTree per criterion, the
// flattened Atomic list across all trees, and any recovery warnings.
type Result struct {
	Trees    []model.ExpressionTree
	Atomics  []model.Atomic
	Warnings []pipelineerrors.Warning
}

// Stage decomposes RawCriterion text into expression trees via the LLM
// gateway's primary/secondary/tertiary failover chain.
type Stage struct {
	gateway *llmgateway.Gateway
}

// NewStage builds a Stage 2 runner backed by gw.
func NewStage(gw *llmgateway.Gateway) *Stage {
	return &Stage{gateway: gw}
}

// rawNode is the wire shape the decomposition prompt returns; it mirrors
// model.Node's discriminated-union fields one-for-one.
type rawNode struct {
	Kind                 string              `json:"kind"`
	AtomicID             string              `json:"atomicId,omitempty"`
	AtomicText           string              `json:"atomicText,omitempty"`
	DomainHint           string              `json:"domainHint,omitempty"`
	ClinicalCategory     string              `json:"clinicalCategory,omitempty"`
	Queryable            bool                `json:"queryableHint,omitempty"`
	ClinicalConceptGroup string              `json:"clinicalConceptGroup,omitempty"`
	Operator             string              `json:"operator,omitempty"`
	Operands             []rawNode           `json:"operands,omitempty"`
	Temporal             *rawTemporal        `json:"temporalConstraint,omitempty"`
	Operand              *rawNode            `json:"operand,omitempty"`
	NumericConstraint    *rawNumericConstraint `json:"numericConstraint,omitempty"`
}

type rawTemporal struct {
	ReferencePoint string `json:"referencePoint"`
	Direction      string `json:"direction"`
	DurationValue  int    `json:"durationValue"`
	DurationUnit   string `json:"durationUnit"`
}

type rawNumericConstraint struct {
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit,omitempty"`
}

type decomposeResponse struct {
	Tree rawNode `json:"tree"`
}

// Run decomposes every criterion in criteria, in order.
func (s *Stage) Run(ctx context.Context, criteria []model.RawCriterion) Result {
	var result Result
	for i, crit := range criteria {
		tree, warning := s.decomposeOne(ctx, crit, i)
		result.Trees = append(result.Trees, tree)
		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
		for idx, leaf := range tree.Leaves() {
			result.Atomics = append(result.Atomics, model.FromLeaf(leaf, &crit, idx))
		}
	}
	return result
}

func (s *Stage) decomposeOne(ctx context.Context, crit model.RawCriterion, index int) (model.ExpressionTree, *pipelineerrors.Warning) {
	payload, err := json.Marshal(crit)
	if err != nil {
		return singleLeafFallback(crit), warnf(crit.ID, "marshal criterion: %v", err)
	}

	resp, err := s.gateway.Complete(ctx, "atomic_decomposition", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: decompositionSystemPrompt},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		w := pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, crit.ID, err.Error())
		return singleLeafFallback(crit), &w
	}

	var parsed decomposeResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		w := pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, crit.ID, fmt.Sprintf("decode tree: %v", err))
		return singleLeafFallback(crit), &w
	}

	root := buildNode(&parsed.Tree, crit.ID, 0)
	if root == nil {
		w := pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, crit.ID, "decomposition produced an invalid tree (arity violation)")
		return singleLeafFallback(crit), &w
	}
	return model.ExpressionTree{CriterionID: crit.ID, Root: root}, nil
}

// buildNode converts a rawNode into a model.Node, validating operator
// arity via model.NewOperatorNode (which itself enforces spec.md §4.6's
// NOT-is-unary / EXCEPT,IMPLICATION-are-binary rules).
func buildNode(raw *rawNode, criterionID string, leafSeq int) *model.Node {
	if raw == nil {
		return nil
	}
	switch model.NodeKind(raw.Kind) {
	case model.NodeAtomic:
		id := raw.AtomicID
		if id == "" {
			id = fmt.Sprintf("%s-A%d", criterionID, leafSeq)
		}
		n := model.NewAtomicNode(id, raw.AtomicText)
		n.DomainHint = model.OmopDomain(raw.DomainHint)
		n.ClinicalCategory = model.ClinicalCategory(raw.ClinicalCategory)
		n.Queryable = raw.Queryable
		n.ClinicalConceptGroup = raw.ClinicalConceptGroup
		if raw.NumericConstraint != nil {
			n.NumericConstraint = &model.NumericConstraint{
				Operator:  model.ComparisonOperator(raw.NumericConstraint.Operator),
				Threshold: raw.NumericConstraint.Threshold,
				Unit:      raw.NumericConstraint.Unit,
			}
		}
		return n
	case model.NodeOperator:
		operands := make([]*model.Node, 0, len(raw.Operands))
		for i := range raw.Operands {
			child := buildNode(&raw.Operands[i], criterionID, leafSeq+i+1)
			if child == nil {
				return nil
			}
			operands = append(operands, child)
		}
		return model.NewOperatorNode(model.OperatorKind(raw.Operator), operands...)
	case model.NodeTemporal:
		if raw.Temporal == nil || raw.Operand == nil {
			return nil
		}
		operand := buildNode(raw.Operand, criterionID, leafSeq)
		if operand == nil {
			return nil
		}
		return model.NewTemporalNode(model.TemporalConstraint{
			ReferencePoint: raw.Temporal.ReferencePoint,
			Direction:      model.TemporalDirection(raw.Temporal.Direction),
			DurationValue:  raw.Temporal.DurationValue,
			DurationUnit:   raw.Temporal.DurationUnit,
		}, operand)
	default:
		return nil
	}
}

// singleLeafFallback emits the criterion as a single atomic leaf, per
// spec.md §4.6: "On LLM failure, the criterion is emitted as a single
// atomic leaf with warning."
func singleLeafFallback(crit model.RawCriterion) model.ExpressionTree {
	leaf := model.NewAtomicNode(crit.ID+"-A0", crit.Text)
	return model.ExpressionTree{CriterionID: crit.ID, Root: leaf}
}

func warnf(subject, format string, args ...any) *pipelineerrors.Warning {
	w := pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, subject, fmt.Sprintf(format, args...))
	return &w
}

const decompositionSystemPrompt = `You decompose a clinical trial eligibility criterion into a structured expression tree.
Return JSON: {"tree": <node>} where a node is one of:
  {"kind": "atomic", "atomicText": "...", "domainHint": "Condition|Drug|Measurement|Procedure|Observation|Device", "numericConstraint": {"operator": ">=", "threshold": 18}}
  {"kind": "operator", "operator": "AND|OR|NOT|EXCEPT|IMPLICATION", "operands": [<node>, ...]}
  {"kind": "temporal", "temporalConstraint": {"referencePoint": "screening", "direction": "within", "durationValue": 6, "durationUnit": "months"}, "operand": <node>}
NOT takes exactly one operand. EXCEPT and IMPLICATION take exactly two (condition first). AND/OR take one or more.`
