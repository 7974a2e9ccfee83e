package concept

import (
	"regexp"
	"strings"

	"github.com/trialqeb/interpretpipe/pkg/model"
)

// numericConstraintPattern strips simple numeric/range/unit expressions
// so the remaining text is a cleaner term for synonym/domain inference
// (spec.md §4.5 deterministic fallback, step 1).
var numericConstraintPattern = regexp.MustCompile(`(?i)(≥|≤|>=|<=|>|<)\s*\d+(\.\d+)?|\b\d+(\.\d+)?\s*(to|-)\s*\d+(\.\d+)?\b|\b\d+(\.\d+)?\s*(mg|kg|ml|mmol|years?|yrs?|%)\b`)

// compoundSplitPattern splits a compound term on the connective words
// spec.md names (step 2).
var compoundSplitPattern = regexp.MustCompile(`(?i)\s+(and|or|with|without)\s+`)

// idiomPatterns extract common clinical idioms (step 3); the capture
// group is the underlying clinical concept.
var idiomPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^history of (.+)$`),
	regexp.MustCompile(`(?i)^(.+) mutation$`),
	regexp.MustCompile(`(?i)^(.+) positive$`),
	regexp.MustCompile(`(?i)^(.+) negative$`),
}

// domainKeywords infers an OMOP domain from keywords present in the term
// (spec.md §4.5 step 4).
var domainKeywords = []struct {
	domain   model.OmopDomain
	keywords []string
}{
	{model.DomainDrug, []string{"therapy", "treatment with", "chemotherapy", "medication", "drug", "inhibitor", "agonist", "antagonist"}},
	{model.DomainMeasurement, []string{"level", "count", "ratio", "lab", "laboratory", "concentration", "value"}},
	{model.DomainProcedure, []string{"surgery", "procedure", "resection", "transplant", "biopsy"}},
	{model.DomainObservation, []string{"status", "performance", "ecog", "history of", "family history"}},
	{model.DomainDevice, []string{"device", "implant", "pacemaker", "catheter"}},
	{model.DomainCondition, []string{"disease", "syndrome", "disorder", "cancer", "carcinoma", "infection", "mutation"}},
}

// inferDomain returns the first matching domain by keyword table order,
// or "" if nothing matches.
func inferDomain(term string) model.OmopDomain {
	lower := strings.ToLower(term)
	for _, kw := range domainKeywords {
		for _, k := range kw.keywords {
			if strings.Contains(lower, k) {
				return kw.domain
			}
		}
	}
	return ""
}

// DeterministicFallback builds a ConceptExpansion for term without an
// LLM call, per spec.md §4.5's four-step fallback: strip numeric
// constraints, split compounds, extract idioms, infer domain by keyword.
func DeterministicFallback(term string) model.ConceptExpansion {
	stripped := strings.TrimSpace(numericConstraintPattern.ReplaceAllString(term, ""))
	stripped = strings.Join(strings.Fields(stripped), " ")

	var synonyms []string
	for _, part := range compoundSplitPattern.Split(stripped, -1) {
		part = strings.TrimSpace(part)
		if part != "" && !strings.EqualFold(part, stripped) {
			synonyms = append(synonyms, part)
		}
	}

	primary := stripped
	for _, pat := range idiomPatterns {
		if m := pat.FindStringSubmatch(stripped); m != nil {
			primary = strings.TrimSpace(m[1])
			break
		}
	}

	return model.ConceptExpansion{
		Original:       term,
		PrimaryForm:    strings.ToLower(primary),
		Synonyms:       synonyms,
		OmopDomainHint: inferDomain(term),
		Confidence:     0.3, // deterministic fallback never claims LLM-grade confidence
		Source:         model.SourceFallback,
	}
}
