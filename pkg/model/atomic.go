package model

import "strconv"

// Atomic is the flat view of an expression-tree leaf plus its execution
// context (spec.md §3).
type Atomic struct {
	ID                    string             `json:"atomic_id"`
	Text                  string             `json:"atomic_text"`
	CriterionID           string             `json:"criterion_id"`
	CriterionType         CriterionType      `json:"criterion_type"`
	LogicalGroup          string             `json:"logical_group"`
	DomainHint            OmopDomain         `json:"domain_hint,omitempty"`
	NumericConstraint     *NumericConstraint `json:"numeric_constraint,omitempty"`
	TimeFrame             *TimeFrame         `json:"time_frame,omitempty"`
	ClinicalCategory      ClinicalCategory   `json:"clinical_category,omitempty"`
	QueryableHint         bool               `json:"queryable_hint"`
	ClinicalConceptGroup  string             `json:"clinical_concept_group,omitempty"`
	Provenance            *Provenance        `json:"provenance,omitempty"`
}

// LogicalGroupFor builds the logicalGroup identifier encoding a leaf's
// position within its parent criterion: "<criterionID>#<leafIndex>".
func LogicalGroupFor(criterionID string, leafIndex int) string {
	return criterionID + "#" + strconv.Itoa(leafIndex)
}

// FromLeaf builds an Atomic from an expression-tree leaf, the owning
// criterion, and the leaf's position among its siblings.
func FromLeaf(leaf *Node, crit *RawCriterion, leafIndex int) Atomic {
	a := Atomic{
		ID:            leaf.AtomicID,
		Text:          leaf.AtomicText,
		CriterionID:   crit.ID,
		CriterionType: crit.Type,
		LogicalGroup:  LogicalGroupFor(crit.ID, leafIndex),
		DomainHint:    leaf.DomainHint,
		NumericConstraint: leaf.NumericConstraint,
		TimeFrame:     leaf.TimeFrameHint,
		ClinicalCategory: leaf.ClinicalCategory,
		QueryableHint: leaf.Queryable,
		ClinicalConceptGroup: leaf.ClinicalConceptGroup,
		Provenance:    crit.Provenance,
	}
	return a
}
