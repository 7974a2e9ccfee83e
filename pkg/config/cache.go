package config

import "time"

// CacheConfig controls the three on-disk caches (concept expansion, LLM
// decision, OMOP query) described in spec.md §5. Each entry is invalidated
// by whichever comes first: its TTL or a promptVersion mismatch.
type CacheConfig struct {
	// Dir is the directory the JSON cache files are persisted under.
	Dir string `yaml:"dir" validate:"required"`

	ConceptTTL     time.Duration `yaml:"concept_ttl"`
	LLMDecisionTTL time.Duration `yaml:"llm_decision_ttl"`
	OmopQueryTTL   time.Duration `yaml:"omop_query_ttl"`

	// PromptVersion is stamped on every cache entry at write time; a read
	// whose stored version doesn't match the running PromptVersion is
	// treated as a miss regardless of TTL.
	PromptVersion string `yaml:"prompt_version" validate:"required"`
}

// DefaultCacheConfig returns the built-in cache defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Dir:            ".interpretpipe-cache",
		ConceptTTL:     30 * 24 * time.Hour,
		LLMDecisionTTL: 7 * 24 * time.Hour,
		OmopQueryTTL:   24 * time.Hour,
		PromptVersion:  "v1",
	}
}
