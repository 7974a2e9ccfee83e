package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeStages(t *testing.T) {
	builtin := map[int]StageDef{
		2: {Number: 2, Name: "atomic_decomposition", Critical: true},
		9: {Number: 9, Name: "funnel_staging"},
	}
	user := map[int]StageDef{
		9: {Number: 9, Name: "funnel_staging", Description: "user override"},
	}

	result := mergeStages(builtin, user)

	assert.Len(t, result, 2)
	assert.True(t, result[2].Critical)
	assert.Equal(t, "user override", result[9].Description)
}

func TestMergeLLMProviders(t *testing.T) {
	builtin := map[string]LLMProviderConfig{
		"anthropic-default": {Type: LLMProviderTypeAnthropic, Model: "builtin-model", Role: RolePrimary, MaxOutputTokens: 4096},
		"override-me":       {Type: LLMProviderTypeOpenAI, Model: "old-model", Role: RoleSecondary, MaxOutputTokens: 4096},
	}
	user := map[string]LLMProviderConfig{
		"user-provider": {Type: LLMProviderTypeGoogle, Model: "user-model", Role: RoleTertiary, MaxOutputTokens: 8192},
		"override-me":   {Type: LLMProviderTypeOpenAI, Model: "new-model", Role: RoleSecondary, MaxOutputTokens: 8192},
	}

	result := mergeLLMProviders(builtin, user)

	assert.Len(t, result, 3)
	assert.Equal(t, "builtin-model", result["anthropic-default"].Model)
	assert.Equal(t, "user-model", result["user-provider"].Model)
	assert.Equal(t, "new-model", result["override-me"].Model)
	assert.Equal(t, 8192, result["override-me"].MaxOutputTokens)
}

func TestMergeEmptyMaps(t *testing.T) {
	t.Run("empty user stages", func(t *testing.T) {
		result := mergeStages(map[int]StageDef{1: {Number: 1, Name: "a"}}, map[int]StageDef{})
		assert.Len(t, result, 1)
	})

	t.Run("nil builtin providers", func(t *testing.T) {
		result := mergeLLMProviders(nil, map[string]LLMProviderConfig{
			"p1": {Type: LLMProviderTypeGoogle, Model: "m1", Role: RolePrimary, MaxOutputTokens: 1024},
		})
		assert.Len(t, result, 1)
	})

	t.Run("both empty", func(t *testing.T) {
		assert.Len(t, mergeStages(nil, nil), 0)
	})
}
