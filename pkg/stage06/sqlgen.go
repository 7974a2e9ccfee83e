// Package stage06 implements SQL/FHIR template generation (spec.md §4.8):
// for each MappedAtomic, produce a parametrized OMOP CDM SELECT returning
// DISTINCT person_id, plus FHIR search-parameter templates on the same
// concept. Generated SQL is structurally validated via the reflection
// engine's table/domain checks and corrected once on violation — this
// stage is best-effort, not critical, so an uncorrectable template is
// kept with a warning rather than aborting the run.
package stage06

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
	"github.com/trialqeb/interpretpipe/pkg/reflection"
)

// Result is Stage 6's output: one SQLAtomic per MappedAtomic plus any
// structural-violation warnings.
type Result struct {
	Atomics  []model.SQLAtomic
	Warnings []pipelineerrors.Warning
}

// Stage generates SQL/FHIR templates, correcting structural violations
// once via the reflection engine.
type Stage struct {
	reflect *reflection.Engine
	now     func() time.Time
}

// NewStage builds a Stage 6 runner.
func NewStage(reflect *reflection.Engine) *Stage {
	return &Stage{reflect: reflect, now: time.Now}
}

// Run generates a template for every mapped atomic in order.
func (s *Stage) Run(ctx context.Context, mapped []model.MappedAtomic) Result {
	var result Result
	for _, m := range mapped {
		atomic, warning := s.buildOne(ctx, m)
		result.Atomics = append(result.Atomics, atomic)
		if warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
	}
	return result
}

func (s *Stage) buildOne(ctx context.Context, m model.MappedAtomic) (model.SQLAtomic, *pipelineerrors.Warning) {
	domain := m.DomainHint
	if domain == "" && m.PrimaryMapping != nil {
		domain = m.PrimaryMapping.DomainID
	}

	if m.ClinicalCategory == model.CategoryDemographics {
		return s.buildDemographic(m), nil
	}

	table := model.TableForDomain(domain)
	if table == "" || m.PrimaryMapping == nil {
		w := pipelineerrors.NewWarning(pipelineerrors.CategoryUnmapped, m.ID, "no OMOP mapping available to generate a SQL template")
		return model.SQLAtomic{MappedAtomic: m}, &w
	}

	sql, params := s.buildSQL(table, m)
	fhir := s.buildFhirQueries(domain, m)

	violated, reason := validateTemplate(domain, table, sql)
	if violated {
		corrected, err := s.reflect.CorrectSQL(ctx, reflection.NewSQLCorrectionRequest(sql, reason, table, m.Text))
		if err == nil {
			if ok, _ := reflection.ValidateSQLTable(table, corrected); ok {
				sql = corrected
			}
		}
		stillViolated, stillReason := validateTemplate(domain, table, sql)
		if stillViolated {
			w := pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, m.ID, stillReason)
			return model.SQLAtomic{MappedAtomic: m, Table: table, SQL: sql, FhirQueries: fhir, Parameters: params}, &w
		}
	}

	return model.SQLAtomic{MappedAtomic: m, Table: table, SQL: sql, FhirQueries: fhir, Parameters: params}, nil
}

func validateTemplate(domain model.OmopDomain, table, sql string) (bool, string) {
	if ok, reason := reflection.ValidateDomainTable(domain, table); !ok {
		return true, reason
	}
	if ok, reason := reflection.ValidateSQLTable(table, sql); !ok {
		return true, reason
	}
	return false, ""
}

// buildSQL emits the OMOP CDM SELECT for m against table, expanding
// hierarchically through concept_ancestor and appending a numeric
// constraint predicate for measurement/observation atomics.
func (s *Stage) buildSQL(table string, m model.MappedAtomic) (string, map[string]string) {
	col := model.ConceptIDColumn(table)
	params := map[string]string{"conceptId": fmt.Sprintf("%d", m.PrimaryMapping.ConceptID)}

	sql := fmt.Sprintf(
		"SELECT DISTINCT t.person_id FROM %s t JOIN concept_ancestor ca ON ca.descendant_concept_id = t.%s WHERE ca.ancestor_concept_id = :conceptId",
		table, col,
	)

	if (table == "measurement" || table == "observation") && m.NumericConstraint != nil {
		op := string(m.NumericConstraint.Operator)
		if !model.ValidComparisonOperators[m.NumericConstraint.Operator] {
			op = "="
		}
		sql += fmt.Sprintf(" AND t.value_as_number %s :threshold", op)
		params["threshold"] = fmt.Sprintf("%g", m.NumericConstraint.Threshold)
	}

	return sql, params
}

// buildDemographic builds the person-table age predicate (spec.md §4.8:
// "Demographics use person with computed age").
func (s *Stage) buildDemographic(m model.MappedAtomic) model.SQLAtomic {
	sql := "SELECT DISTINCT person_id FROM person"
	params := map[string]string{}
	if m.NumericConstraint != nil {
		op := string(m.NumericConstraint.Operator)
		if !model.ValidComparisonOperators[m.NumericConstraint.Operator] {
			op = ">="
		}
		sql += fmt.Sprintf(" WHERE (%d - year_of_birth) %s :threshold", s.now().Year(), op)
		params["threshold"] = fmt.Sprintf("%g", m.NumericConstraint.Threshold)
	}

	fhir := fmt.Sprintf("Patient?birthdate=le%s", s.now().AddDate(-ageThresholdYears(m), 0, 0).Format("2006-01-02"))
	return model.SQLAtomic{MappedAtomic: m, Table: "person", SQL: sql, FhirQueries: []string{fhir}, Parameters: params}
}

func ageThresholdYears(m model.MappedAtomic) int {
	if m.NumericConstraint == nil {
		return 0
	}
	return int(m.NumericConstraint.Threshold)
}

// buildFhirQueries emits FHIR search-parameter templates for the mapped
// concept, one per resource type appropriate to domain (spec.md §4.8).
func (s *Stage) buildFhirQueries(domain model.OmopDomain, m model.MappedAtomic) []string {
	if m.PrimaryMapping == nil {
		return nil
	}
	system := strings.ToLower(m.PrimaryMapping.VocabularyID)
	code := fmt.Sprintf("%d", m.PrimaryMapping.ConceptID)

	switch domain {
	case model.DomainCondition:
		return []string{fmt.Sprintf("Condition?code=%s|%s", system, code)}
	case model.DomainDrug:
		return []string{fmt.Sprintf("MedicationRequest?code=%s|%s&status=active,completed", system, code)}
	case model.DomainMeasurement, model.DomainObservation:
		query := fmt.Sprintf("Observation?code=%s|%s", system, code)
		if m.NumericConstraint != nil {
			query += fmt.Sprintf("&value-quantity=%s%g", fhirComparator(m.NumericConstraint.Operator), m.NumericConstraint.Threshold)
		}
		return []string{query}
	case model.DomainProcedure:
		return []string{fmt.Sprintf("Procedure?code=%s|%s", system, code)}
	case model.DomainDevice:
		return []string{fmt.Sprintf("DeviceUseStatement?device.type=%s|%s", system, code)}
	default:
		return nil
	}
}

func fhirComparator(op model.ComparisonOperator) string {
	switch op {
	case model.OpGTE:
		return "ge"
	case model.OpLTE:
		return "le"
	case model.OpGT:
		return "gt"
	case model.OpLT:
		return "lt"
	case model.OpNEQ:
		return "ne"
	default:
		return "eq"
	}
}
