package config

// mergeStages merges built-in and user-defined stage definitions.
// User-defined stages override built-in stages with the same number (used
// to tune, e.g., a stage's Critical flag without redefining the rest).
func mergeStages(builtinStages map[int]StageDef, userStages map[int]StageDef) map[int]*StageDef {
	result := make(map[int]*StageDef, len(builtinStages))

	for number, stage := range builtinStages {
		stageCopy := stage
		result[number] = &stageCopy
	}

	for number, userStage := range userStages {
		stageCopy := userStage
		result[number] = &stageCopy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider
// configurations. User-defined providers override built-in providers with
// the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig, len(builtinProviders))

	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
