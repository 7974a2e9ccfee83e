package concept

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trialqeb/interpretpipe/pkg/model"
)

func TestDeterministicFallbackStripsNumericConstraint(t *testing.T) {
	exp := DeterministicFallback("age ≥18 years")
	assert.NotContains(t, exp.PrimaryForm, "18")
	assert.Equal(t, model.SourceFallback, exp.Source)
}

func TestDeterministicFallbackStripsRange(t *testing.T) {
	exp := DeterministicFallback("age 18 to 65")
	assert.NotContains(t, exp.PrimaryForm, "18")
	assert.NotContains(t, exp.PrimaryForm, "65")
}

func TestDeterministicFallbackSplitsCompounds(t *testing.T) {
	exp := DeterministicFallback("diabetes and hypertension")
	assert.Len(t, exp.Synonyms, 2)
}

func TestDeterministicFallbackExtractsHistoryOfIdiom(t *testing.T) {
	exp := DeterministicFallback("history of myocardial infarction")
	assert.Equal(t, "myocardial infarction", exp.PrimaryForm)
}

func TestDeterministicFallbackExtractsMutationIdiom(t *testing.T) {
	exp := DeterministicFallback("EGFR mutation")
	assert.Equal(t, "egfr", exp.PrimaryForm)
}

func TestDeterministicFallbackInfersDrugDomain(t *testing.T) {
	exp := DeterministicFallback("chemotherapy treatment")
	assert.Equal(t, model.DomainDrug, exp.OmopDomainHint)
}

func TestDeterministicFallbackInfersMeasurementDomain(t *testing.T) {
	exp := DeterministicFallback("hemoglobin level")
	assert.Equal(t, model.DomainMeasurement, exp.OmopDomainHint)
}

func TestDeterministicFallbackNoDomainMatch(t *testing.T) {
	exp := DeterministicFallback("xyzabc")
	assert.Equal(t, model.OmopDomain(""), exp.OmopDomainHint)
}
