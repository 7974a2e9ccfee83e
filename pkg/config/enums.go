package config

// LLMProviderType defines supported hosted LLM providers. This module calls
// each provider's native REST API directly over net/http rather than through
// a per-provider SDK (see DESIGN.md).
type LLMProviderType string

const (
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	LLMProviderTypeOpenAI    LLMProviderType = "openai"
	LLMProviderTypeGoogle    LLMProviderType = "google"
)

// IsValid checks if the LLM provider type is valid.
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderTypeAnthropic, LLMProviderTypeOpenAI, LLMProviderTypeGoogle:
		return true
	default:
		return false
	}
}

// ProviderRole identifies a provider's position in the failover chain
// (spec.md §4.2: primary → secondary → tertiary).
type ProviderRole string

const (
	RolePrimary   ProviderRole = "primary"
	RoleSecondary ProviderRole = "secondary"
	RoleTertiary  ProviderRole = "tertiary"
)

// IsValid checks if the provider role is valid.
func (r ProviderRole) IsValid() bool {
	switch r {
	case RolePrimary, RoleSecondary, RoleTertiary:
		return true
	default:
		return false
	}
}

// RoleOrder is the fixed failover order a gateway call walks.
var RoleOrder = []ProviderRole{RolePrimary, RoleSecondary, RoleTertiary}

// StageOutcomePolicy marks whether a stage's failure aborts the pipeline or
// is recorded as a warning and carried forward (spec.md §4.1/§7).
type StageOutcomePolicy string

const (
	// StageOutcomeCritical aborts the run: stages 2, 4, 7.
	StageOutcomeCritical StageOutcomePolicy = "critical"
	// StageOutcomeBestEffort records a warning and continues.
	StageOutcomeBestEffort StageOutcomePolicy = "best_effort"
)

// IsValid checks if the stage outcome policy is valid.
func (p StageOutcomePolicy) IsValid() bool {
	return p == StageOutcomeCritical || p == StageOutcomeBestEffort
}
