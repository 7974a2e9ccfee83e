package validate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
)

func writeTempJSON(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCriteria_HappyPathParsesAllFields(t *testing.T) {
	path := writeTempJSON(t, "eligibility_criteria.json", `{
		"criteria": [
			{"criterion_id": "C001", "text": "Age 18 or older", "criterion_type": "inclusion",
			 "provenance": {"page_number": 3, "section_id": "4.2", "text_snippet": "patients must be 18"}},
			{"text": "No prior chemotherapy"}
		]
	}`)

	criteria, err := LoadCriteria(path)
	require.NoError(t, err)
	require.Len(t, criteria, 2)

	assert.Equal(t, "C001", criteria[0].ID)
	assert.Equal(t, model.CriterionInclusion, criteria[0].Type)
	require.NotNil(t, criteria[0].Provenance)
	assert.Equal(t, 3, criteria[0].Provenance.Page)
	assert.Equal(t, "4.2", criteria[0].Provenance.Section)

	assert.NotEmpty(t, criteria[1].ID, "missing criterion_id should be auto-generated")
	assert.Equal(t, model.CriterionInclusion, criteria[1].Type, "missing criterion_type should default to inclusion")
	assert.Nil(t, criteria[1].Provenance)
}

func TestLoadCriteria_UnknownCriterionTypeDefaultsToInclusion(t *testing.T) {
	path := writeTempJSON(t, "eligibility_criteria.json", `{
		"criteria": [{"text": "Some criterion", "criterion_type": "not_a_real_type"}]
	}`)

	criteria, err := LoadCriteria(path)
	require.NoError(t, err)
	require.Len(t, criteria, 1)
	assert.Equal(t, model.CriterionInclusion, criteria[0].Type)
}

func TestLoadCriteria_MissingRequiredTextFieldFailsValidation(t *testing.T) {
	path := writeTempJSON(t, "eligibility_criteria.json", `{
		"criteria": [{"criterion_id": "C001"}]
	}`)

	_, err := LoadCriteria(path)
	require.Error(t, err)
	var verr *pipelineerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "eligibility_criteria", verr.Component)
}

func TestLoadCriteria_MalformedJSONFailsValidation(t *testing.T) {
	path := writeTempJSON(t, "eligibility_criteria.json", `{"criteria": [`)

	_, err := LoadCriteria(path)
	require.Error(t, err)
	var verr *pipelineerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoadCriteria_MissingFileReturnsError(t *testing.T) {
	_, err := LoadCriteria(filepath.Join(t.TempDir(), "does_not_exist.json"))
	require.Error(t, err)
}

func TestLoadOmopMappings_HappyPathKeyedByCriterionID(t *testing.T) {
	path := writeTempJSON(t, "omop_mappings.json", `[
		{"criterion_id": "C001", "table_name": "condition_occurrence", "concepts": [
			{"concept_id": 201826, "concept_name": "Type 2 diabetes mellitus", "vocabulary_id": "SNOMED", "domain_id": "Condition", "standard_concept": true}
		]}
	]`)

	mappings, err := LoadOmopMappings(path)
	require.NoError(t, err)
	require.Contains(t, mappings, "C001")
	require.Len(t, mappings["C001"], 1)
	assert.Equal(t, int64(201826), mappings["C001"][0].ConceptID)
	assert.Equal(t, model.OmopDomain("Condition"), mappings["C001"][0].DomainID)
	assert.True(t, mappings["C001"][0].IsStandard)
}

func TestLoadOmopMappings_MissingRequiredFieldFailsValidation(t *testing.T) {
	path := writeTempJSON(t, "omop_mappings.json", `[{"table_name": "condition_occurrence", "concepts": []}]`)

	_, err := LoadOmopMappings(path)
	require.Error(t, err)
	var verr *pipelineerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoadOmopMappings_MissingFileIsNotWrappedAsValidationError(t *testing.T) {
	_, err := LoadOmopMappings(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	var verr *pipelineerrors.ValidationError
	assert.False(t, errors.As(err, &verr), "a missing optional file should surface the raw os error, not a ValidationError")
}
