package stage06

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/reflection"
)

func fixedNow(t *testing.T, s *Stage) {
	t.Helper()
	s.now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }
}

func TestBuildSQLGeneratesHierarchicalConditionQuery(t *testing.T) {
	s := NewStage(reflection.NewEngine(nil))
	fixedNow(t, s)

	mapped := model.MappedAtomic{
		Atomic:         model.Atomic{ID: "A1", DomainHint: model.DomainCondition},
		PrimaryMapping: &model.OmopMapping{ConceptID: 42, ConceptName: "NSCLC", VocabularyID: "SNOMED"},
	}

	result := s.Run(context.Background(), []model.MappedAtomic{mapped})
	require.Len(t, result.Atomics, 1)
	assert.Equal(t, "condition_occurrence", result.Atomics[0].Table)
	assert.Contains(t, result.Atomics[0].SQL, "condition_concept_id")
	assert.Contains(t, result.Atomics[0].SQL, "concept_ancestor")
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Atomics[0].FhirQueries, 1)
	assert.Contains(t, result.Atomics[0].FhirQueries[0], "Condition?code=snomed|42")
}

func TestBuildSQLAppendsNumericConstraintForMeasurement(t *testing.T) {
	s := NewStage(reflection.NewEngine(nil))
	fixedNow(t, s)

	mapped := model.MappedAtomic{
		Atomic: model.Atomic{
			ID: "A2", DomainHint: model.DomainMeasurement,
			NumericConstraint: &model.NumericConstraint{Operator: model.OpGTE, Threshold: 1.5},
		},
		PrimaryMapping: &model.OmopMapping{ConceptID: 7, VocabularyID: "LOINC"},
	}

	result := s.Run(context.Background(), []model.MappedAtomic{mapped})
	require.Len(t, result.Atomics, 1)
	assert.Contains(t, result.Atomics[0].SQL, "value_as_number >= :threshold")
	assert.Equal(t, "1.5", result.Atomics[0].Parameters["threshold"])
	assert.Contains(t, result.Atomics[0].FhirQueries[0], "value-quantity=ge1.5")
}

func TestBuildDemographicUsesPersonTable(t *testing.T) {
	s := NewStage(reflection.NewEngine(nil))
	fixedNow(t, s)

	mapped := model.MappedAtomic{
		Atomic: model.Atomic{
			ID: "A3", ClinicalCategory: model.CategoryDemographics,
			NumericConstraint: &model.NumericConstraint{Operator: model.OpGTE, Threshold: 18},
		},
	}

	result := s.Run(context.Background(), []model.MappedAtomic{mapped})
	require.Len(t, result.Atomics, 1)
	assert.Equal(t, "person", result.Atomics[0].Table)
	assert.Contains(t, result.Atomics[0].SQL, "year_of_birth")
	assert.Contains(t, result.Atomics[0].FhirQueries[0], "Patient?birthdate=le")
}

func TestBuildOneWarnsWhenAtomicHasNoMapping(t *testing.T) {
	s := NewStage(reflection.NewEngine(nil))
	fixedNow(t, s)

	mapped := model.MappedAtomic{Atomic: model.Atomic{ID: "A4", DomainHint: model.DomainCondition}}

	result := s.Run(context.Background(), []model.MappedAtomic{mapped})
	require.Len(t, result.Atomics, 1)
	require.Len(t, result.Warnings, 1)
	assert.Empty(t, result.Atomics[0].SQL)
}

func TestValidateTemplateCatchesDomainTableMismatch(t *testing.T) {
	violated, reason := validateTemplate(model.DomainCondition, "drug_exposure", "SELECT DISTINCT person_id FROM drug_exposure WHERE drug_concept_id = 1")
	assert.True(t, violated)
	assert.NotEmpty(t, reason)
}
