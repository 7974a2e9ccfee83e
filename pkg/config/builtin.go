package config

import "sync"

// BuiltinConfig holds all built-in configuration data: the fixed 12-stage
// graph, the default LLM provider failover chain, and the default log
// redaction patterns.
type BuiltinConfig struct {
	Stages               map[int]StageDef
	LLMProviders         map[string]LLMProviderConfig
	RedactionPatterns    []MaskingPattern
	DefaultPromptVersion string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration
// (thread-safe, lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Stages:               initBuiltinStages(),
		LLMProviders:         initBuiltinLLMProviders(),
		RedactionPatterns:    DefaultRedactionPatterns(),
		DefaultPromptVersion: "v1",
	}
}

// initBuiltinStages returns the fixed 12-stage compilation graph (spec.md
// §4.1). Stages 2 (atomic decomposition), 4 (OMOP/FHIR mapping), and 7
// (USDM compliance) are critical: their failure aborts the run.
func initBuiltinStages() map[int]StageDef {
	return map[int]StageDef{
		1:  {Number: 1, Name: "expression_tree", Description: "Parse raw criteria into boolean/temporal expression trees"},
		2:  {Number: 2, Name: "atomic_decomposition", Description: "Decompose expression trees into atomic criteria", Critical: true},
		3:  {Number: 3, Name: "concept_expansion", Description: "Expand clinical terms to synonyms/abbreviations/vocabulary hints"},
		4:  {Number: 4, Name: "omop_fhir_mapping", Description: "Map atomics to OMOP concepts and FHIR resources", Critical: true},
		5:  {Number: 5, Name: "semantic_validation", Description: "Validate mapping semantic agreement"},
		6:  {Number: 6, Name: "sql_generation", Description: "Generate per-atomic SQL templates against the mapped OMOP table"},
		7:  {Number: 7, Name: "usdm_compliance", Description: "Promote the document to USDM-4.0-compliant shape", Critical: true},
		8:  {Number: 8, Name: "key_criteria", Description: "Classify feasibility-relevant key criteria"},
		9:  {Number: 9, Name: "funnel_staging", Description: "Order key criteria into the fixed 7-stage funnel"},
		10: {Number: 10, Name: "population_estimation", Description: "Estimate population size and confidence interval per method"},
		11: {Number: 11, Name: "feasibility_scoring", Description: "Compute composite feasibility scores and killer criteria"},
		12: {Number: 12, Name: "qeb_build", Description: "Lower boolean criteria trees into queryable eligibility blocks"},
	}
}

func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"anthropic-default": {
			Type:            LLMProviderTypeAnthropic,
			Model:           "claude-sonnet-4-5",
			Role:            RolePrimary,
			APIKeyEnv:       "ANTHROPIC_API_KEY",
			MaxOutputTokens: 8192,
			TimeoutSeconds:  90,
		},
		"openai-default": {
			Type:            LLMProviderTypeOpenAI,
			Model:           "gpt-5",
			Role:            RoleSecondary,
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxOutputTokens: 8192,
			TimeoutSeconds:  90,
		},
		"google-default": {
			Type:            LLMProviderTypeGoogle,
			Model:           "gemini-2.5-pro",
			Role:            RoleTertiary,
			APIKeyEnv:       "GOOGLE_API_KEY",
			MaxOutputTokens: 8192,
			TimeoutSeconds:  90,
		},
	}
}
