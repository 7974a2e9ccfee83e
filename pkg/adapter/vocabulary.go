package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/trialqeb/interpretpipe/pkg/cache"
	"github.com/trialqeb/interpretpipe/pkg/model"
)

// SyntheticVocabulary implements stage04.VocabularySearcher without a real
// OMOP `concept`/`concept_ancestor` table (spec.md §1 Non-goals: vocabulary
// lookup is an external collaborator). It derives a deterministic concept
// ID from the search term so the same term always maps to the same
// concept across runs, preserving the idempotence invariant (spec.md §8)
// without requiring an `ATHENA_DB_PATH` vocabulary snapshot on disk.
type SyntheticVocabulary struct{}

// NewSyntheticVocabulary builds a SyntheticVocabulary.
func NewSyntheticVocabulary() *SyntheticVocabulary {
	return &SyntheticVocabulary{}
}

// SearchCandidates returns up to one deterministic candidate per call,
// since the synthetic table has no ambiguous homonyms to resolve.
// hierarchical is accepted for interface conformance but doesn't affect
// the synthetic result, since there is no real concept_ancestor closure
// to expand against.
func (v *SyntheticVocabulary) SearchCandidates(ctx context.Context, term string, domain model.OmopDomain, hierarchical bool) ([]model.OmopMapping, error) {
	if strings.TrimSpace(term) == "" {
		return nil, nil
	}
	if domain == "" {
		domain = model.DomainObservation
	}
	return []model.OmopMapping{{
		ConceptID:    conceptIDFor(term),
		ConceptName:  strings.TrimSpace(term),
		VocabularyID: "SNOMED",
		DomainID:     domain,
		TableName:    model.TableForDomain(domain),
		IsStandard:   true,
	}}, nil
}

// conceptIDFor hashes term into a stable positive int64 concept id.
func conceptIDFor(term string) int64 {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(term))))
	n := binary.BigEndian.Uint64(sum[:8])
	return int64(n & 0x7fffffffffffffff)
}

// CachedVocabulary wraps another stage04.VocabularySearcher-shaped
// searcher with the OMOP query cache (spec.md §4.4: vocabulary lookups
// are cached so repeated concepts across criteria, and across re-runs,
// don't re-hit the backend).
type CachedVocabulary struct {
	next  *SyntheticVocabulary
	cache *cache.OmopQueryCache
}

// NewCachedVocabulary builds a cache-first wrapper around a
// SyntheticVocabulary.
func NewCachedVocabulary(next *SyntheticVocabulary, c *cache.OmopQueryCache) *CachedVocabulary {
	return &CachedVocabulary{next: next, cache: c}
}

func (v *CachedVocabulary) SearchCandidates(ctx context.Context, term string, domain model.OmopDomain, hierarchical bool) ([]model.OmopMapping, error) {
	key := string(domain) + ":" + strings.ToLower(strings.TrimSpace(term))
	if cached, ok, err := v.cache.Get(key); err == nil && ok {
		return cached, nil
	}
	candidates, err := v.next.SearchCandidates(ctx, term, domain, hierarchical)
	if err != nil {
		return nil, err
	}
	_ = v.cache.Set(key, candidates)
	return candidates, nil
}
