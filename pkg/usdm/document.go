package usdm

// Activity is a schedule-of-activities item.
type Activity struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	InstanceType string `json:"instanceType"`
}

// Encounter is a protocol visit/encounter.
type Encounter struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         *Code  `json:"type,omitempty"`
	InstanceType string `json:"instanceType"`
}

// Timing carries a scheduled-instance's temporal offset.
type Timing struct {
	ID             string `json:"id"`
	Type           *Code  `json:"type,omitempty"`
	RelativeToFrom string `json:"relativeToFrom,omitempty"`
	InstanceType   string `json:"instanceType"`
}

// ScheduledActivityInstance (SAI) links an activity to an encounter,
// optionally gated by a condition assignment (footnote-derived).
type ScheduledActivityInstance struct {
	ID                      string `json:"id"`
	ActivityID              string `json:"activityId"`
	EncounterID             string `json:"scheduledInstanceEncounterId"`
	TimingID                string `json:"timingId,omitempty"`
	DefaultConditionID      string `json:"defaultConditionId,omitempty"`
	HasFootnoteMarker       bool   `json:"-"`
	InstanceType            string `json:"instanceType"`
}

// Condition is extracted from footnote text by pattern matching (spec.md
// §4.9 condition linkage).
type Condition struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	InstanceType string `json:"instanceType"`
}

// ConditionAssignment links a Condition to the SAI it gates, with an
// optional target (for IMPLICATION-derived conditions where the target is
// the requirement side).
type ConditionAssignment struct {
	ID              string `json:"id"`
	ConditionID     string `json:"conditionId"`
	ConditionTargetID string `json:"conditionTargetId,omitempty"`
	InstanceType    string `json:"instanceType"`
}

// Footnote is raw footnote text attached to one or more SAIs.
type Footnote struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	InstanceType string `json:"instanceType"`
}

// ScheduleTimeline groups encounters/SAIs into a single timeline; the
// document must carry at least one whose EntryID references the first
// encounter (spec.md §4.9).
type ScheduleTimeline struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EntryID      string `json:"entryId"`
	MainTimeline bool   `json:"mainTimeline"`
	InstanceType string `json:"instanceType"`
}

// Document is the in-memory USDM document Stage 7 operates over (spec.md
// §3, §6).
type Document struct {
	Activities                []Activity                  `json:"activities"`
	Encounters                []Encounter                 `json:"encounters"`
	ScheduledActivityInstances []ScheduledActivityInstance `json:"scheduledActivityInstances"`
	Timings                   []Timing                    `json:"timings"`
	Conditions                []Condition                  `json:"conditions"`
	ConditionAssignments      []ConditionAssignment        `json:"conditionAssignments"`
	Footnotes                 []Footnote                   `json:"footnotes"`
	ScheduleTimelines         []ScheduleTimeline            `json:"scheduleTimelines"`
	BiomedicalConcepts        []BiomedicalConceptRef        `json:"biomedicalConcepts,omitempty"`
}

// BiomedicalConceptRef mirrors model.BiomedicalConcept's validated-length
// shape as it appears embedded in the USDM document (spec.md §4.9).
type BiomedicalConceptRef struct {
	ConceptName string  `json:"conceptName"`
	CdiscCode   string  `json:"cdiscCode"`
	Domain      string  `json:"domain"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale,omitempty"`
}

// Length limits enforced by Stage 7 compliance (spec.md §4.9).
const (
	MaxConceptNameLen = 150
	MaxCdiscCodeLen   = 20
	MaxRationaleLen   = 200
)

// Clamp truncates the biomedical concept's string fields to their limits
// and clamps Confidence to [0,1], in place.
func (b *BiomedicalConceptRef) Clamp() {
	if len(b.ConceptName) > MaxConceptNameLen {
		b.ConceptName = b.ConceptName[:MaxConceptNameLen]
	}
	if len(b.CdiscCode) > MaxCdiscCodeLen {
		b.CdiscCode = b.CdiscCode[:MaxCdiscCodeLen]
	}
	if len(b.Rationale) > MaxRationaleLen {
		b.Rationale = b.Rationale[:MaxRationaleLen]
	}
	if b.Confidence < 0 {
		b.Confidence = 0
	}
	if b.Confidence > 1 {
		b.Confidence = 1
	}
}
