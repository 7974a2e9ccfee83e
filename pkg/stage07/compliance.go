// Package stage07 implements USDM code expansion and compliance checking
// (spec.md §4.9): instanceType discriminator enforcement, Code-object
// expansion, scheduleTimelines/referential-integrity validation,
// footnote-derived condition linkage, and biomedical-concept validation.
// This is a critical stage per spec.md §4.1 — auto-fix is the default
// mode; a no-auto-fix run instead collects every violation for external
// review without mutating the document.
package stage07

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
	"github.com/trialqeb/interpretpipe/pkg/usdm"
)

// ComplianceResult is Stage 7's output (spec.md §4.9).
type ComplianceResult struct {
	IsCompliant                bool
	Errors                     []string
	Warnings                   []pipelineerrors.Warning
	AutoFixed                  []string
	CodeObjectsExpanded        int
	ReferentialIntegrityPassed bool
}

// Stage checks and, by default, auto-fixes a USDM document's compliance.
type Stage struct {
	AutoFix bool
}

// NewStage builds a Stage 7 runner. autoFix defaults to true per spec.md
// §4.9; pass false for a review-only pass that never mutates doc.
func NewStage(autoFix bool) *Stage {
	return &Stage{AutoFix: autoFix}
}

// Run checks doc against every compliance rule in spec.md §4.9, in order.
func (s *Stage) Run(doc *usdm.Document) ComplianceResult {
	result := ComplianceResult{ReferentialIntegrityPassed: true}

	s.enforceInstanceTypes(doc, &result)
	s.expandCodes(doc, &result)
	s.checkScheduleTimelines(doc, &result)
	s.checkReferentialIntegrity(doc, &result)
	s.linkFootnoteConditions(doc, &result)
	s.validateBiomedicalConcepts(doc, &result)

	result.IsCompliant = len(result.Errors) == 0
	return result
}

func (s *Stage) enforceInstanceTypes(doc *usdm.Document, result *ComplianceResult) {
	for i := range doc.Activities {
		s.fixInstanceType(&doc.Activities[i].InstanceType, usdm.InstanceTypeActivity, fmt.Sprintf("activity %s", doc.Activities[i].ID), result)
	}
	for i := range doc.Encounters {
		s.fixInstanceType(&doc.Encounters[i].InstanceType, usdm.InstanceTypeEncounter, fmt.Sprintf("encounter %s", doc.Encounters[i].ID), result)
	}
	for i := range doc.ScheduledActivityInstances {
		s.fixInstanceType(&doc.ScheduledActivityInstances[i].InstanceType, usdm.InstanceTypeScheduledActivityInstance, fmt.Sprintf("scheduled activity instance %s", doc.ScheduledActivityInstances[i].ID), result)
	}
	for i := range doc.Timings {
		s.fixInstanceType(&doc.Timings[i].InstanceType, usdm.InstanceTypeTiming, fmt.Sprintf("timing %s", doc.Timings[i].ID), result)
	}
	for i := range doc.Conditions {
		s.fixInstanceType(&doc.Conditions[i].InstanceType, usdm.InstanceTypeCondition, fmt.Sprintf("condition %s", doc.Conditions[i].ID), result)
	}
	for i := range doc.ConditionAssignments {
		s.fixInstanceType(&doc.ConditionAssignments[i].InstanceType, usdm.InstanceTypeConditionAssignment, fmt.Sprintf("condition assignment %s", doc.ConditionAssignments[i].ID), result)
	}
	for i := range doc.Footnotes {
		s.fixInstanceType(&doc.Footnotes[i].InstanceType, usdm.InstanceTypeFootnote, fmt.Sprintf("footnote %s", doc.Footnotes[i].ID), result)
	}
	for i := range doc.ScheduleTimelines {
		s.fixInstanceType(&doc.ScheduleTimelines[i].InstanceType, usdm.InstanceTypeScheduleTimeline, fmt.Sprintf("schedule timeline %s", doc.ScheduleTimelines[i].ID), result)
	}
}

func (s *Stage) fixInstanceType(field *string, canonical, subject string, result *ComplianceResult) {
	if *field == canonical {
		return
	}
	if !s.AutoFix {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: instanceType not set to %q", subject, canonical))
		return
	}
	*field = canonical
	result.AutoFixed = append(result.AutoFixed, fmt.Sprintf("%s: instanceType set to %q", subject, canonical))
}

// expandCodes promotes any {code, decode} shorthand still present on a
// Code-typed field to the full 6-field object (spec.md §4.9).
func (s *Stage) expandCodes(doc *usdm.Document, result *ComplianceResult) {
	for i := range doc.Encounters {
		s.expandCodeIfNeeded(doc.Encounters[i].Type, "encounter-type", result)
	}
	for i := range doc.Timings {
		s.expandCodeIfNeeded(doc.Timings[i].Type, "timing-type", result)
	}
}

func (s *Stage) expandCodeIfNeeded(c *usdm.Code, category string, result *ComplianceResult) {
	if c == nil || c.CodeSystem != "" {
		return
	}
	if !s.AutoFix {
		result.Errors = append(result.Errors, fmt.Sprintf("code %q (%s) is not a fully expanded 6-field Code object", c.Code, category))
		return
	}
	id := c.ID
	if id == "" {
		id = category + "-" + c.Code
	}
	*c = usdm.ExpandSimpleCode(id, usdm.SimpleCodePair{Code: c.Code, Decode: c.Decode}, category)
	result.CodeObjectsExpanded++
}

// checkScheduleTimelines enforces at least one main timeline whose entry
// references the first encounter (spec.md §4.9).
func (s *Stage) checkScheduleTimelines(doc *usdm.Document, result *ComplianceResult) {
	if len(doc.ScheduleTimelines) == 0 {
		result.Errors = append(result.Errors, "document has no scheduleTimelines")
		return
	}

	var firstEncounterID string
	if len(doc.Encounters) > 0 {
		firstEncounterID = doc.Encounters[0].ID
	}

	hasMain := false
	for _, tl := range doc.ScheduleTimelines {
		if !tl.MainTimeline {
			continue
		}
		hasMain = true
		if firstEncounterID != "" && tl.EntryID != firstEncounterID {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"main schedule timeline %s entryId %q does not reference the first encounter %q", tl.ID, tl.EntryID, firstEncounterID))
		}
	}
	if !hasMain {
		result.Errors = append(result.Errors, "document has no main scheduleTimeline")
	}
}

// checkReferentialIntegrity verifies every activityId, conditionId,
// scheduledInstanceEncounterId, and conditionTargetId references an
// existing entity (spec.md §4.9).
func (s *Stage) checkReferentialIntegrity(doc *usdm.Document, result *ComplianceResult) {
	activityIDs := idSet(len(doc.Activities), func(i int) string { return doc.Activities[i].ID })
	encounterIDs := idSet(len(doc.Encounters), func(i int) string { return doc.Encounters[i].ID })
	conditionIDs := idSet(len(doc.Conditions), func(i int) string { return doc.Conditions[i].ID })

	targetIDs := make(map[string]bool, len(activityIDs)+len(conditionIDs))
	for id := range activityIDs {
		targetIDs[id] = true
	}
	for id := range conditionIDs {
		targetIDs[id] = true
	}

	for _, sai := range doc.ScheduledActivityInstances {
		if !activityIDs[sai.ActivityID] {
			result.Errors = append(result.Errors, fmt.Sprintf("scheduled activity instance %s references missing activityId %q", sai.ID, sai.ActivityID))
			result.ReferentialIntegrityPassed = false
		}
		if !encounterIDs[sai.EncounterID] {
			result.Errors = append(result.Errors, fmt.Sprintf("scheduled activity instance %s references missing scheduledInstanceEncounterId %q", sai.ID, sai.EncounterID))
			result.ReferentialIntegrityPassed = false
		}
	}
	for _, ca := range doc.ConditionAssignments {
		if !conditionIDs[ca.ConditionID] {
			result.Errors = append(result.Errors, fmt.Sprintf("condition assignment %s references missing conditionId %q", ca.ID, ca.ConditionID))
			result.ReferentialIntegrityPassed = false
		}
		if ca.ConditionTargetID != "" && !targetIDs[ca.ConditionTargetID] {
			result.Errors = append(result.Errors, fmt.Sprintf("condition assignment %s references missing conditionTargetId %q", ca.ID, ca.ConditionTargetID))
			result.ReferentialIntegrityPassed = false
		}
	}
}

func idSet(n int, at func(int) string) map[string]bool {
	out := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		out[at(i)] = true
	}
	return out
}

// footnoteConditionPattern recognizes the conditional-language markers
// protocol footnotes use to gate an activity ("if...", "unless...",
// "only if...", "when...").
var footnoteConditionPattern = regexp.MustCompile(`(?i)\b(if|unless|only if|when)\b.+`)

// linkFootnoteConditions extracts a Condition from each footnote whose
// text matches a conditional-language marker, and assigns it to every SAI
// carrying that footnote's marker (spec.md §4.9 condition linkage).
func (s *Stage) linkFootnoteConditions(doc *usdm.Document, result *ComplianceResult) {
	if !s.AutoFix {
		return
	}
	for _, fn := range doc.Footnotes {
		match := footnoteConditionPattern.FindString(fn.Text)
		if match == "" {
			continue
		}

		cond := usdm.Condition{ID: fn.ID + "-cond", Text: strings.TrimSpace(match), InstanceType: usdm.InstanceTypeCondition}
		doc.Conditions = append(doc.Conditions, cond)

		assignment := usdm.ConditionAssignment{ID: fn.ID + "-assign", ConditionID: cond.ID, InstanceType: usdm.InstanceTypeConditionAssignment}
		doc.ConditionAssignments = append(doc.ConditionAssignments, assignment)

		for i := range doc.ScheduledActivityInstances {
			if doc.ScheduledActivityInstances[i].HasFootnoteMarker {
				doc.ScheduledActivityInstances[i].DefaultConditionID = cond.ID
			}
		}
		result.AutoFixed = append(result.AutoFixed, fmt.Sprintf("footnote %s: extracted condition %s", fn.ID, cond.ID))
	}
}

// validateBiomedicalConcepts enforces required fields and clamps numeric
// confidence / string lengths in place (spec.md §4.9). A concept missing
// a required field is dropped with an error rather than clamped, since
// there is no sensible default for a missing concept name/code/domain.
func (s *Stage) validateBiomedicalConcepts(doc *usdm.Document, result *ComplianceResult) {
	kept := doc.BiomedicalConcepts[:0]
	for i := range doc.BiomedicalConcepts {
		bc := doc.BiomedicalConcepts[i]
		if bc.ConceptName == "" || bc.CdiscCode == "" || bc.Domain == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("biomedical concept %q missing required field(s)", bc.ConceptName))
			continue
		}
		bc.Clamp()
		kept = append(kept, bc)
	}
	doc.BiomedicalConcepts = kept
}
