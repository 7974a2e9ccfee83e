package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLLMProviderTypeIsValid(t *testing.T) {
	tests := []struct {
		name     string
		provider LLMProviderType
		valid    bool
	}{
		{"anthropic", LLMProviderTypeAnthropic, true},
		{"openai", LLMProviderTypeOpenAI, true},
		{"google", LLMProviderTypeGoogle, true},
		{"invalid", LLMProviderType("invalid"), false},
		{"empty", LLMProviderType(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.provider.IsValid())
		})
	}
}

func TestProviderRoleIsValid(t *testing.T) {
	tests := []struct {
		name  string
		role  ProviderRole
		valid bool
	}{
		{"primary", RolePrimary, true},
		{"secondary", RoleSecondary, true},
		{"tertiary", RoleTertiary, true},
		{"invalid", ProviderRole("quaternary"), false},
		{"empty", ProviderRole(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.role.IsValid())
		})
	}
}

func TestRoleOrderIsFixedFailoverSequence(t *testing.T) {
	assert.Equal(t, []ProviderRole{RolePrimary, RoleSecondary, RoleTertiary}, RoleOrder)
}

func TestStageOutcomePolicyIsValid(t *testing.T) {
	assert.True(t, StageOutcomeCritical.IsValid())
	assert.True(t, StageOutcomeBestEffort.IsValid())
	assert.False(t, StageOutcomePolicy("retry").IsValid())
}
