package stage07

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trialqeb/interpretpipe/pkg/usdm"
)

func baseDocument() *usdm.Document {
	return &usdm.Document{
		Activities: []usdm.Activity{{ID: "ACT1", Name: "CT scan"}},
		Encounters: []usdm.Encounter{{ID: "ENC1", Name: "Screening", Type: &usdm.Code{Code: "SCR", Decode: "Screening"}}},
		ScheduledActivityInstances: []usdm.ScheduledActivityInstance{
			{ID: "SAI1", ActivityID: "ACT1", EncounterID: "ENC1"},
		},
		ScheduleTimelines: []usdm.ScheduleTimeline{{ID: "TL1", EntryID: "ENC1", MainTimeline: true}},
	}
}

func TestRunAutoFixesMissingInstanceTypes(t *testing.T) {
	doc := baseDocument()
	s := NewStage(true)

	result := s.Run(doc)
	assert.Equal(t, usdm.InstanceTypeActivity, doc.Activities[0].InstanceType)
	assert.Equal(t, usdm.InstanceTypeEncounter, doc.Encounters[0].InstanceType)
	assert.Equal(t, usdm.InstanceTypeScheduledActivityInstance, doc.ScheduledActivityInstances[0].InstanceType)
	assert.NotEmpty(t, result.AutoFixed)
	assert.True(t, result.IsCompliant)
}

func TestRunWithoutAutoFixReturnsErrorsForMissingInstanceTypes(t *testing.T) {
	doc := baseDocument()
	s := NewStage(false)

	result := s.Run(doc)
	assert.False(t, result.IsCompliant)
	assert.NotEmpty(t, result.Errors)
	assert.Empty(t, doc.Activities[0].InstanceType)
}

func TestRunExpandsSimpleCodePairs(t *testing.T) {
	doc := baseDocument()
	s := NewStage(true)

	result := s.Run(doc)
	require.NotNil(t, doc.Encounters[0].Type)
	assert.NotEmpty(t, doc.Encounters[0].Type.CodeSystem)
	assert.Equal(t, 1, result.CodeObjectsExpanded)
}

func TestRunFlagsMissingMainScheduleTimeline(t *testing.T) {
	doc := baseDocument()
	doc.ScheduleTimelines = nil
	s := NewStage(true)

	result := s.Run(doc)
	assert.False(t, result.IsCompliant)
	assert.Contains(t, result.Errors[0], "scheduleTimelines")
}

func TestRunCatchesReferentialIntegrityViolation(t *testing.T) {
	doc := baseDocument()
	doc.ScheduledActivityInstances[0].ActivityID = "MISSING"
	s := NewStage(true)

	result := s.Run(doc)
	assert.False(t, result.ReferentialIntegrityPassed)
	assert.False(t, result.IsCompliant)
}

func TestRunLinksFootnoteConditionsToMarkedSAIs(t *testing.T) {
	doc := baseDocument()
	doc.ScheduledActivityInstances[0].HasFootnoteMarker = true
	doc.Footnotes = []usdm.Footnote{{ID: "FN1", Text: "Only if ECOG <= 1"}}
	s := NewStage(true)

	result := s.Run(doc)
	require.Len(t, doc.Conditions, 1)
	assert.Equal(t, "FN1-cond", doc.ScheduledActivityInstances[0].DefaultConditionID)
	require.Len(t, doc.ConditionAssignments, 1)
	assert.NotEmpty(t, result.AutoFixed)
}

func TestRunClampsBiomedicalConceptFields(t *testing.T) {
	doc := baseDocument()
	doc.BiomedicalConcepts = []usdm.BiomedicalConceptRef{
		{ConceptName: "x", CdiscCode: "y", Domain: "Condition", Confidence: 5},
	}
	s := NewStage(true)

	s.Run(doc)
	require.Len(t, doc.BiomedicalConcepts, 1)
	assert.Equal(t, 1.0, doc.BiomedicalConcepts[0].Confidence)
}

func TestRunDropsBiomedicalConceptMissingRequiredField(t *testing.T) {
	doc := baseDocument()
	doc.BiomedicalConcepts = []usdm.BiomedicalConceptRef{{ConceptName: "x"}}
	s := NewStage(true)

	result := s.Run(doc)
	assert.Empty(t, doc.BiomedicalConcepts)
	assert.False(t, result.IsCompliant)
}
