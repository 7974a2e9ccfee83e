// Package reflection implements the generate → validate → reflect →
// correct loop for the four validation domains named in spec.md §4.3:
// SQL-for-table agreement, domain/table agreement, semantic mapping
// validity, and unmapped-term recovery. Each domain's structural check is
// a pure function; only the correct step talks to an LLM, and only ever
// once per validation per atomic (spec.md §4.3's bounded-recursion-depth-1
// fixed point).
package reflection

import (
	"fmt"
	"strings"

	"github.com/trialqeb/interpretpipe/pkg/model"
)

// numericValueColumns are the only columns measurement/observation rows
// may select a value through.
var numericValueColumns = map[string]bool{
	"value_as_number":     true,
	"value_as_concept_id": true,
}

// ValidateSQLTable checks that sql's column references agree with table:
// only measurement/observation admit value_as_number/value_as_concept_id,
// and the concept-id column referenced must be table's own
// "<table>_concept_id" column (spec.md §4.3 domain 1).
func ValidateSQLTable(table, sql string) (bool, string) {
	lower := strings.ToLower(sql)

	for col := range numericValueColumns {
		if strings.Contains(lower, col) && table != "measurement" && table != "observation" {
			return false, fmt.Sprintf("column %q is only valid against measurement/observation, not %q", col, table)
		}
	}

	wantColumn := model.ConceptIDColumn(table)
	if wantColumn == "" {
		return false, fmt.Sprintf("unrecognized table %q", table)
	}
	if !strings.Contains(lower, strings.ToLower(wantColumn)) {
		return false, fmt.Sprintf("sql for table %q must reference %q", table, wantColumn)
	}

	for _, knownTable := range []string{"condition_occurrence", "drug_exposure", "measurement", "procedure_occurrence", "observation", "device_exposure"} {
		if knownTable == table {
			continue
		}
		if col := model.ConceptIDColumn(knownTable); col != "" && strings.Contains(lower, strings.ToLower(col)) {
			return false, fmt.Sprintf("sql for table %q must not reference %q's concept-id column %q", table, knownTable, col)
		}
	}

	return true, ""
}

// ValidateDomainTable checks that a chosen OMOP domain agrees with the SQL
// table it will be queried against (spec.md §4.3 domain 2:
// Condition↔condition_occurrence, etc.).
func ValidateDomainTable(domain model.OmopDomain, table string) (bool, string) {
	want := model.TableForDomain(domain)
	if want == "" {
		return false, fmt.Sprintf("unrecognized OMOP domain %q", domain)
	}
	if want != table {
		return false, fmt.Sprintf("domain %q maps to table %q, not %q", domain, want, table)
	}
	return true, ""
}

// SemanticMappingConfidenceThreshold is the minimum confidence a
// SemanticValidation verdict must clear to accept a mapping (spec.md §4.3
// domain 3, §4.7 step 4).
const SemanticMappingConfidenceThreshold = 0.7

// ValidateSemanticMapping rejects a mapping whose semantic-validity
// verdict is below threshold or explicitly invalid — this is what catches
// substring false positives like "ANC" matching "cancer" (spec.md §4.3
// domain 3).
func ValidateSemanticMapping(v model.SemanticValidation) (bool, string) {
	if !v.Valid {
		return false, "semantic validation verdict: not valid"
	}
	if v.Confidence < SemanticMappingConfidenceThreshold {
		return false, fmt.Sprintf("semantic validation confidence %.2f below threshold %.2f", v.Confidence, SemanticMappingConfidenceThreshold)
	}
	return true, ""
}
