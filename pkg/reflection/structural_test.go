package reflection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/trialqeb/interpretpipe/pkg/model"
)

func TestValidateSQLTableAcceptsMeasurementValueColumns(t *testing.T) {
	ok, reason := ValidateSQLTable("measurement", "SELECT person_id FROM measurement WHERE measurement_concept_id = 1 AND value_as_number > 5")
	assert.True(t, ok, reason)
}

func TestValidateSQLTableRejectsValueColumnOnWrongTable(t *testing.T) {
	ok, reason := ValidateSQLTable("condition_occurrence", "SELECT person_id FROM condition_occurrence WHERE condition_concept_id = 1 AND value_as_number > 5")
	assert.False(t, ok)
	assert.Contains(t, reason, "value_as_number")
}

func TestValidateSQLTableRejectsMismatchedConceptIDColumn(t *testing.T) {
	ok, reason := ValidateSQLTable("condition_occurrence", "SELECT person_id FROM condition_occurrence WHERE drug_concept_id = 1")
	assert.False(t, ok)
	assert.Contains(t, reason, "drug_concept_id")
}

func TestValidateSQLTableRejectsUnknownTable(t *testing.T) {
	ok, _ := ValidateSQLTable("not_a_real_table", "SELECT person_id FROM not_a_real_table")
	assert.False(t, ok)
}

func TestValidateSQLTableAcceptsCorrectConditionQuery(t *testing.T) {
	ok, reason := ValidateSQLTable("condition_occurrence", "SELECT person_id FROM condition_occurrence WHERE condition_concept_id = 4329847")
	assert.True(t, ok, reason)
}

func TestValidateDomainTableAgreement(t *testing.T) {
	ok, _ := ValidateDomainTable(model.DomainCondition, "condition_occurrence")
	assert.True(t, ok)

	ok, reason := ValidateDomainTable(model.DomainCondition, "drug_exposure")
	assert.False(t, ok)
	assert.Contains(t, reason, "condition_occurrence")
}

func TestValidateDomainTableRejectsUnknownDomain(t *testing.T) {
	ok, _ := ValidateDomainTable(model.OmopDomain("Unknown"), "condition_occurrence")
	assert.False(t, ok)
}

func TestValidateSemanticMappingAcceptsHighConfidenceValid(t *testing.T) {
	ok, _ := ValidateSemanticMapping(model.SemanticValidation{Valid: true, Confidence: 0.9})
	assert.True(t, ok)
}

func TestValidateSemanticMappingRejectsBelowThreshold(t *testing.T) {
	ok, reason := ValidateSemanticMapping(model.SemanticValidation{Valid: true, Confidence: 0.5})
	assert.False(t, ok)
	assert.Contains(t, reason, "threshold")
}

func TestValidateSemanticMappingRejectsExplicitlyInvalid(t *testing.T) {
	ok, reason := ValidateSemanticMapping(model.SemanticValidation{Valid: false, Confidence: 0.95})
	assert.False(t, ok)
	assert.Contains(t, reason, "not valid")
}

func TestValidateSemanticMappingBoundaryConfidenceAccepted(t *testing.T) {
	ok, _ := ValidateSemanticMapping(model.SemanticValidation{Valid: true, Confidence: SemanticMappingConfidenceThreshold})
	assert.True(t, ok)
}
