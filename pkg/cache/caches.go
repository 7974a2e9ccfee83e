package cache

import (
	"path/filepath"

	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/model"
)

// ConceptCache caches ConceptExpansion results keyed by normalized term
// (spec.md §4.4: concept expansion is cached before falling through to a
// batched LLM call).
type ConceptCache struct{ disk *DiskCache }

// NewConceptCache builds the concept-expansion cache under cfg.Dir/concepts.
func NewConceptCache(cfg *config.CacheConfig) (*ConceptCache, error) {
	disk, err := NewDiskCache(filepath.Join(cfg.Dir, "concepts"), cfg.ConceptTTL, cfg.PromptVersion)
	if err != nil {
		return nil, err
	}
	return &ConceptCache{disk: disk}, nil
}

// Get returns the cached expansion for term, if present and still valid.
func (c *ConceptCache) Get(term string) (*model.ConceptExpansion, bool, error) {
	var exp model.ConceptExpansion
	ok, err := c.disk.Get(model.ConceptCacheKey(term), &exp)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &exp, true, nil
}

// Set stores exp under its normalized original term.
func (c *ConceptCache) Set(exp model.ConceptExpansion) error {
	return c.disk.Set(model.ConceptCacheKey(exp.Original), exp)
}

// LLMDecisionEntry is a cached LLM call result: the raw response text,
// stored under the caller-supplied key given to LLMDecisionCache. Caching at this
// layer lets reflection-driven reruns skip an identical call entirely
// rather than re-paying provider latency and cost.
type LLMDecisionEntry struct {
	Stage    string `json:"stage"`
	Provider string `json:"provider"`
	Response string `json:"response"`
}

// LLMDecisionCache caches raw LLM completions keyed by a caller-supplied
// deterministic key (typically stage name + prompt hash).
type LLMDecisionCache struct{ disk *DiskCache }

// NewLLMDecisionCache builds the LLM-decision cache under cfg.Dir/llm.
func NewLLMDecisionCache(cfg *config.CacheConfig) (*LLMDecisionCache, error) {
	disk, err := NewDiskCache(filepath.Join(cfg.Dir, "llm"), cfg.LLMDecisionTTL, cfg.PromptVersion)
	if err != nil {
		return nil, err
	}
	return &LLMDecisionCache{disk: disk}, nil
}

// Get returns the cached decision for key, if present and still valid.
func (c *LLMDecisionCache) Get(key string) (*LLMDecisionEntry, bool, error) {
	var e LLMDecisionEntry
	ok, err := c.disk.Get(key, &e)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &e, true, nil
}

// Set stores an LLM decision under key.
func (c *LLMDecisionCache) Set(key string, e LLMDecisionEntry) error {
	return c.disk.Set(key, e)
}

// OmopQueryCache caches resolved OMOP vocabulary lookups keyed by the
// query adapter's search term, so repeated concepts across criteria (and
// across re-runs) don't re-hit the vocabulary backend (spec.md §6).
type OmopQueryCache struct{ disk *DiskCache }

// NewOmopQueryCache builds the OMOP query cache under cfg.Dir/omop.
func NewOmopQueryCache(cfg *config.CacheConfig) (*OmopQueryCache, error) {
	disk, err := NewDiskCache(filepath.Join(cfg.Dir, "omop"), cfg.OmopQueryTTL, cfg.PromptVersion)
	if err != nil {
		return nil, err
	}
	return &OmopQueryCache{disk: disk}, nil
}

// Get returns the cached mapping candidates for a query term.
func (c *OmopQueryCache) Get(term string) ([]model.OmopMapping, bool, error) {
	var mappings []model.OmopMapping
	ok, err := c.disk.Get(term, &mappings)
	if err != nil || !ok {
		return nil, ok, err
	}
	return mappings, true, nil
}

// Set stores mapping candidates for a query term.
func (c *OmopQueryCache) Set(term string, mappings []model.OmopMapping) error {
	return c.disk.Set(term, mappings)
}
