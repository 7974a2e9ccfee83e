package usdm

import (
	"fmt"
	"strings"
)

// BuildDocument assembles a minimal but structurally complete USDM
// document for the schedule-of-activities path (spec.md §6): one
// screening encounter, one activity per criterion, a scheduled activity
// instance linking each activity to that encounter, and a footnote (with
// derived Condition/ConditionAssignment) for every criterion whose text
// carries conditional language. InstanceType discriminators and Code
// shorthand are deliberately left unexpanded here — Stage 7's auto-fix
// pass is what completes them, so this builder exercises that path
// rather than duplicating it.
func BuildDocument(criterionIDs []string, criterionTexts map[string]string, biomedicalConcepts []BiomedicalConceptRef) *Document {
	const encounterID = "ENC-SCREENING"
	const timingID = "TMG-SCREENING"

	doc := &Document{
		Encounters: []Encounter{{
			ID:   encounterID,
			Name: "Screening Visit",
			Type: &Code{Code: "SCREENING", Decode: "Screening"},
		}},
		Timings: []Timing{{
			ID:             timingID,
			Type:           &Code{Code: "BEFORE", Decode: "Before"},
			RelativeToFrom: "Baseline",
		}},
		ScheduleTimelines: []ScheduleTimeline{{
			ID:           "TL-MAIN",
			Name:         "Main Study Timeline",
			EntryID:      encounterID,
			MainTimeline: true,
		}},
		BiomedicalConcepts: biomedicalConcepts,
	}

	for _, id := range criterionIDs {
		activityID := "ACT-" + id
		text := criterionTexts[id]

		doc.Activities = append(doc.Activities, Activity{ID: activityID, Name: activityLabel(id, text)})

		sai := ScheduledActivityInstance{
			ID:          "SAI-" + id,
			ActivityID:  activityID,
			EncounterID: encounterID,
			TimingID:    timingID,
		}

		if footnoteConditionPattern(text) {
			fn := Footnote{ID: "FN-" + id, Text: conditionalFootnoteText(text)}
			doc.Footnotes = append(doc.Footnotes, fn)
			sai.HasFootnoteMarker = true
		}

		doc.ScheduledActivityInstances = append(doc.ScheduledActivityInstances, sai)
	}

	return doc
}

func activityLabel(id, text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 80 {
		text = text[:80]
	}
	if text == "" {
		return fmt.Sprintf("Eligibility assessment for %s", id)
	}
	return text
}

// footnoteConditionPattern mirrors stage07's conditional-language markers
// ("if", "unless", "only if", "when") so criteria that actually carry a
// condition get a footnote worth linking.
func footnoteConditionPattern(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range []string{"if ", "unless", "only if", "when "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func conditionalFootnoteText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Conditional requirement: see criterion text."
	}
	return text
}
