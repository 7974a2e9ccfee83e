package model

// NodeKind discriminates the three expression-tree node variants.
type NodeKind string

const (
	NodeAtomic   NodeKind = "atomic"
	NodeOperator NodeKind = "operator"
	NodeTemporal NodeKind = "temporal"
)

// NumericConstraint is a structured field on an atomic leaf capturing a
// threshold comparison, e.g. "age >= 18".
type NumericConstraint struct {
	Operator  ComparisonOperator `json:"operator"`
	Threshold float64            `json:"threshold"`
	Unit      string             `json:"unit,omitempty"`
}

// TimeFrame is a structured field on an atomic leaf capturing a duration
// window independent of a TEMPORAL wrapper node (e.g. "within the last 6
// months" phrased inline on the atomic text).
type TimeFrame struct {
	DurationValue int    `json:"duration_value"`
	DurationUnit  string `json:"duration_unit"` // days|weeks|months|years
}

// TemporalConstraint holds the fields preserved on a TEMPORAL node for
// Stage 6 SQL lowering (spec.md §4.6).
type TemporalConstraint struct {
	ReferencePoint string            `json:"reference_point"` // e.g. "screening", "enrollment"
	Direction      TemporalDirection `json:"direction"`
	DurationValue  int               `json:"duration_value"`
	DurationUnit   string            `json:"duration_unit"`
}

// Node is a single expression-tree node: exactly one of the Atomic*,
// Operator*, or Temporal* field groups is populated according to Kind.
//
// Modeled as one struct with a discriminant rather than an interface so
// that JSON (de)serialization round-trips without custom marshalers,
// matching the "tagged variant" design note in spec.md §9.
type Node struct {
	Kind NodeKind `json:"kind"`

	// Atomic leaf fields (Kind == NodeAtomic).
	AtomicID                string             `json:"atomic_id,omitempty"`
	AtomicText               string             `json:"atomic_text,omitempty"`
	DomainHint                OmopDomain         `json:"domain_hint,omitempty"`
	NumericConstraint         *NumericConstraint `json:"numeric_constraint,omitempty"`
	TimeFrameHint             *TimeFrame         `json:"time_frame,omitempty"`
	ClinicalCategory          ClinicalCategory   `json:"clinical_category,omitempty"`
	Queryable                 bool               `json:"queryable_hint,omitempty"`
	ClinicalConceptGroup      string             `json:"clinical_concept_group,omitempty"`

	// Operator fields (Kind == NodeOperator). NOT: len(Operands)==1.
	// EXCEPT/IMPLICATION: len(Operands)==2, Operands[0]=condition/minuend.
	Operator OperatorKind `json:"operator,omitempty"`
	Operands []*Node      `json:"operands,omitempty"`

	// Temporal fields (Kind == NodeTemporal). Operand is the single wrapped
	// subtree.
	Temporal *TemporalConstraint `json:"temporal_constraint,omitempty"`
	Operand  *Node               `json:"operand,omitempty"`
}

// NewAtomicNode builds a leaf node.
func NewAtomicNode(id, text string) *Node {
	return &Node{Kind: NodeAtomic, AtomicID: id, AtomicText: text}
}

// NewOperatorNode builds an operator node, validating arity for NOT
// (unary) and EXCEPT/IMPLICATION (binary), per spec.md §4.6 correctness
// rules. Returns nil if arity is violated; callers should treat this as a
// decomposition bug and fall back to a single-leaf criterion.
func NewOperatorNode(op OperatorKind, operands ...*Node) *Node {
	switch op {
	case OpNOT:
		if len(operands) != 1 {
			return nil
		}
	case OpEXCEPT, OpIMPLICATION:
		if len(operands) != 2 {
			return nil
		}
	case OpAND, OpOR:
		if len(operands) < 1 {
			return nil
		}
	default:
		return nil
	}
	return &Node{Kind: NodeOperator, Operator: op, Operands: operands}
}

// NewTemporalNode wraps a single operand with a temporal constraint.
func NewTemporalNode(constraint TemporalConstraint, operand *Node) *Node {
	return &Node{Kind: NodeTemporal, Temporal: &constraint, Operand: operand}
}

// ExpressionTree is the rooted tree produced by Stage 2 for one criterion.
type ExpressionTree struct {
	CriterionID string `json:"criterion_id"`
	Root        *Node  `json:"root"`
}

// Leaves returns every atomic leaf in depth-first order. Used by the
// atomic-reconciliation invariant (spec.md §4.6, §4.11, §8).
func (t *ExpressionTree) Leaves() []*Node {
	if t == nil || t.Root == nil {
		return nil
	}
	var out []*Node
	collectLeaves(t.Root, &out)
	return out
}

func collectLeaves(n *Node, out *[]*Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case NodeAtomic:
		*out = append(*out, n)
	case NodeOperator:
		for _, op := range n.Operands {
			collectLeaves(op, out)
		}
	case NodeTemporal:
		collectLeaves(n.Operand, out)
	}
}

// OperatorsUsed returns the distinct set of operator kinds appearing in the
// tree, used by Stage 12's reconciliation diagnostics (spec.md §4.11) to
// point at "the operator set involved" on a leaf-count mismatch.
func (t *ExpressionTree) OperatorsUsed() []OperatorKind {
	if t == nil || t.Root == nil {
		return nil
	}
	seen := map[OperatorKind]bool{}
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		switch n.Kind {
		case NodeOperator:
			seen[n.Operator] = true
			for _, op := range n.Operands {
				walk(op)
			}
		case NodeTemporal:
			walk(n.Operand)
		}
	}
	walk(t.Root)
	out := make([]OperatorKind, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}
