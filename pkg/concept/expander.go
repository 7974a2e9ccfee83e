// Package concept implements concept expansion and term normalization:
// cache → batched LLM call → deterministic fallback (spec.md §4.5).
package concept

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trialqeb/interpretpipe/pkg/cache"
	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
)

// DefaultBatchSize is the default sub-batch size for expansion calls
// (spec.md §4.2 step 4: "default 50 for expansion").
const DefaultBatchSize = 50

// Expander normalizes clinical terms into ConceptExpansion values,
// consulting the concept cache first and falling through to a single
// batched LLM call for every cache miss, then a deterministic fallback
// for any term the LLM call itself fails on.
type Expander struct {
	cache         *cache.ConceptCache
	gateway       *llmgateway.Gateway
	promptVersion string
	batchSize     int
}

// NewExpander builds an Expander. batchSize <= 0 uses DefaultBatchSize.
func NewExpander(gw *llmgateway.Gateway, c *cache.ConceptCache, promptVersion string, batchSize int) *Expander {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Expander{cache: c, gateway: gw, promptVersion: promptVersion, batchSize: batchSize}
}

// llmExpansionItem is the per-term shape the expansion prompt returns.
type llmExpansionItem struct {
	Original              string   `json:"original"`
	AbbreviationExpansion  string  `json:"abbreviationExpansion,omitempty"`
	Synonyms               []string `json:"synonyms,omitempty"`
	OmopDomain             string   `json:"omopDomain,omitempty"`
	VocabularyHints        []string `json:"vocabularyHints,omitempty"`
	Confidence             float64  `json:"confidence"`
}

type llmExpansionResponse struct {
	Expansions []llmExpansionItem `json:"expansions"`
}

// ExpandBatch resolves a ConceptExpansion for every term in terms,
// deduplicating repeated terms (by cache key) into a single lookup.
func (e *Expander) ExpandBatch(ctx context.Context, terms []string) ([]model.ConceptExpansion, error) {
	results := make(map[string]model.ConceptExpansion, len(terms))
	var misses []string

	for _, term := range terms {
		key := model.ConceptCacheKey(term)
		if _, done := results[key]; done {
			continue
		}
		if e.cache != nil {
			if exp, ok, err := e.cache.Get(term); err == nil && ok {
				results[key] = *exp
				continue
			}
		}
		misses = append(misses, term)
	}

	for start := 0; start < len(misses); start += e.batchSize {
		end := start + e.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		e.expandSubBatch(ctx, misses[start:end], results)
	}

	out := make([]model.ConceptExpansion, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, term := range terms {
		key := model.ConceptCacheKey(term)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, results[key])
	}
	return out, nil
}

func (e *Expander) expandSubBatch(ctx context.Context, terms []string, results map[string]model.ConceptExpansion) {
	if len(terms) == 0 {
		return
	}

	payload, err := json.Marshal(terms)
	if err != nil {
		e.fallbackAll(terms, results)
		return
	}

	resp, err := e.gateway.Complete(ctx, "concept_expansion", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: "For each input clinical term, return its normalized expansion. Return JSON: {\"expansions\": [{\"original\": \"...\", \"abbreviationExpansion\": \"...\", \"synonyms\": [...], \"omopDomain\": \"...\", \"vocabularyHints\": [...], \"confidence\": 0.0}]}."},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		e.fallbackAll(terms, results)
		return
	}

	var parsed llmExpansionResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		e.fallbackAll(terms, results)
		return
	}

	byOriginal := make(map[string]llmExpansionItem, len(parsed.Expansions))
	for _, item := range parsed.Expansions {
		byOriginal[model.ConceptCacheKey(item.Original)] = item
	}

	for _, term := range terms {
		key := model.ConceptCacheKey(term)
		item, ok := byOriginal[key]
		if !ok {
			results[key] = DeterministicFallback(term)
			continue
		}
		exp := model.ConceptExpansion{
			Original:              term,
			PrimaryForm:           key,
			Synonyms:              item.Synonyms,
			AbbreviationExpansion: item.AbbreviationExpansion,
			OmopDomainHint:        model.OmopDomain(item.OmopDomain),
			VocabularyHints:       item.VocabularyHints,
			Confidence:            item.Confidence,
			Source:                model.SourceLLM,
			CachedAt:              time.Now(),
			PromptVersion:         e.promptVersion,
		}
		results[key] = exp
		if e.cache != nil {
			_ = e.cache.Set(exp)
		}
	}
}

func (e *Expander) fallbackAll(terms []string, results map[string]model.ConceptExpansion) {
	for _, term := range terms {
		results[model.ConceptCacheKey(term)] = DeterministicFallback(term)
	}
}
