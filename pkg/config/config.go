package config

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the pipeline.
type Config struct {
	configDir string

	Defaults            *Defaults
	Concurrency         *ConcurrencyConfig
	Cache               *CacheConfig
	StageGraph          *StageGraphRegistry
	LLMProviderRegistry *LLMProviderRegistry
	RedactionPatterns   []MaskingPattern
	Feasibility         *FeasibilityConfig
}

// Initialize is defined in loader.go

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	Stages       int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Stages:       c.StageGraph.Len(),
		LLMProviders: c.LLMProviderRegistry.Len(),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetStage retrieves a stage definition by number.
func (c *Config) GetStage(number int) (*StageDef, error) {
	return c.StageGraph.Get(number)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// FailoverChain returns the provider names in primary->secondary->tertiary
// order, skipping any role that isn't configured.
func (c *Config) FailoverChain() []string {
	chain := make([]string, 0, len(RoleOrder))
	for _, role := range RoleOrder {
		if name := c.LLMProviderRegistry.ByRole(role); name != "" {
			chain = append(chain, name)
		}
	}
	return chain
}
