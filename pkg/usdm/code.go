// Package usdm implements the USDM-4.0-compliant structured study model:
// Code objects, instanceType discriminators, Conditions, Condition
// Assignments, and ScheduleTimelines (spec.md §3, §4.9).
package usdm

// Code is the USDM 6-field code object. Every Code-typed field in the
// document must be fully expanded to this shape (spec.md §4.9).
type Code struct {
	ID                 string `json:"id"`
	Code               string `json:"code"`
	Decode             string `json:"decode"`
	CodeSystem         string `json:"codeSystem"`
	CodeSystemVersion  string `json:"codeSystemVersion"`
	InstanceType       string `json:"instanceType"`
}

// NewCode builds a fully-populated Code object, defaulting InstanceType to
// the canonical "Code" discriminator.
func NewCode(id, code, decode, codeSystem, codeSystemVersion string) Code {
	return Code{
		ID:                id,
		Code:              code,
		Decode:            decode,
		CodeSystem:        codeSystem,
		CodeSystemVersion: codeSystemVersion,
		InstanceType:      "Code",
	}
}

// SimpleCodePair is the shorthand {code, decode} shape that appears in raw
// extracted data and must be expanded to a full Code object by Stage 7.
type SimpleCodePair struct {
	Code   string
	Decode string
}

// InstanceType discriminators for entity types enumerated by spec.md §4.9.
const (
	InstanceTypeActivity               = "Activity"
	InstanceTypeEncounter              = "Encounter"
	InstanceTypeScheduledActivityInstance = "ScheduledActivityInstance"
	InstanceTypeTiming                 = "Timing"
	InstanceTypeCondition               = "Condition"
	InstanceTypeConditionAssignment     = "ConditionAssignment"
	InstanceTypeFootnote                = "Footnote"
	InstanceTypeScheduleTimeline         = "ScheduleTimeline"
	InstanceTypeCode                    = "Code"
)
