// Package stage04 implements OMOP/FHIR mapping with semantic validation
// (spec.md §4.7): for each Atomic, vocabulary text search proposes
// candidate concepts, an LLM semantic match picks the best one, domain
// and semantic-name validation confirm it means what the atomic says,
// and unmapped terms are retried through the reflection engine's
// alternative-phrasing recovery before being left unmapped for Stage 12
// to classify. This is a critical stage — a vocabulary/LLM outage that
// prevents mapping the whole atomic set aborts the run; a single
// atomic's unresolved mapping does not.
package stage04

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
	"github.com/trialqeb/interpretpipe/pkg/reflection"
)

// MaxCandidates bounds the vocabulary search result the LLM semantic
// match chooses from (spec.md §4.7 step 2: "up to 10").
const MaxCandidates = 10

// VocabularySearcher is the uniform contract Stage 4 uses to fetch
// candidate OMOP concepts for a term. The concrete implementation (OMOP
// `concept`/`concept_ancestor` lookup) is an external collaborator; this
// package only depends on the interface.
type VocabularySearcher interface {
	SearchCandidates(ctx context.Context, term string, domain model.OmopDomain, hierarchical bool) ([]model.OmopMapping, error)
}

// Result is Stage 4's output: one MappedAtomic per input Atomic plus any
// recovery/rejection warnings.
type Result struct {
	Mapped   []model.MappedAtomic
	Warnings []pipelineerrors.Warning
}

// Stage maps Atomics to OMOP concepts via vocabulary search, LLM semantic
// validation, and reflection-backed recovery.
type Stage struct {
	gateway *llmgateway.Gateway
	vocab   VocabularySearcher
	reflect *reflection.Engine
}

// NewStage builds a Stage 4 runner.
func NewStage(gw *llmgateway.Gateway, vocab VocabularySearcher, reflect *reflection.Engine) *Stage {
	return &Stage{gateway: gw, vocab: vocab, reflect: reflect}
}

// Run maps every atomic in order.
func (s *Stage) Run(ctx context.Context, atomics []model.Atomic) Result {
	var result Result
	for _, a := range atomics {
		mapped, warnings := s.mapOne(ctx, a)
		result.Mapped = append(result.Mapped, mapped)
		result.Warnings = append(result.Warnings, warnings...)
	}
	return result
}

// mapOne runs the 6-step pipeline for a single atomic (spec.md §4.7).
func (s *Stage) mapOne(ctx context.Context, a model.Atomic) (model.MappedAtomic, []pipelineerrors.Warning) {
	mapped := model.MappedAtomic{Atomic: a}

	mapping, secondaries, confidence, warnings := s.tryMap(ctx, a.Text, a.DomainHint)
	if mapping != nil {
		mapped.PrimaryMapping = mapping
		mapped.SecondaryMappings = secondaries
		mapped.ValidationConfidence = confidence
		return mapped, warnings
	}

	// Step 5: all three LLM checks failed for the original phrasing.
	// Invoke the reflection engine's unmapped-term recovery and retry
	// vocabulary search against each alternative phrasing.
	alternatives, err := s.reflect.RecoverUnmappedTerm(ctx, a.Text)
	if err != nil {
		warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryUnmapped, a.ID,
			fmt.Sprintf("no mapping found and recovery failed: %v", err)))
		return mapped, warnings
	}

	for _, alt := range alternatives {
		altMapping, altSecondaries, altConfidence, altWarnings := s.tryMap(ctx, alt, a.DomainHint)
		if altMapping != nil {
			mapped.PrimaryMapping = altMapping
			mapped.SecondaryMappings = altSecondaries
			mapped.ValidationConfidence = altConfidence
			return mapped, append(warnings, altWarnings...)
		}
		warnings = append(warnings, altWarnings...)
	}

	// Step 6 is Stage 12's responsibility (data-source classification);
	// this atomic is left unmapped with a warning for audit.
	warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryUnmapped, a.ID,
		"no OMOP concept passed semantic/domain validation after recovery"))
	return mapped, warnings
}

// tryMap runs steps 1-4 of the pipeline for one phrasing of a term.
// Returns a nil primary mapping when no candidate survives validation.
func (s *Stage) tryMap(ctx context.Context, term string, domain model.OmopDomain) (*model.OmopMapping, []model.OmopMapping, float64, []pipelineerrors.Warning) {
	var warnings []pipelineerrors.Warning

	candidates, err := s.vocab.SearchCandidates(ctx, term, domain, true)
	if err != nil {
		warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryUnmapped, term,
			fmt.Sprintf("vocabulary search failed: %v", err)))
		return nil, nil, 0, warnings
	}
	if len(candidates) == 0 {
		return nil, nil, 0, warnings
	}
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	selected, confidence, err := s.semanticMatch(ctx, term, candidates)
	if err != nil || confidence < reflection.SemanticMappingConfidenceThreshold {
		if err != nil {
			warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, term, err.Error()))
		} else {
			warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySemanticLowConfidence, term,
				fmt.Sprintf("semantic match confidence %.2f below threshold %.2f", confidence, reflection.SemanticMappingConfidenceThreshold)))
		}
		return nil, candidates, 0, warnings
	}

	var primary *model.OmopMapping
	for i := range candidates {
		if candidates[i].ConceptID == selected {
			primary = &candidates[i]
			break
		}
	}
	if primary == nil {
		warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySchemaViolation, term,
			"semantic match selected a concept id not present among candidates"))
		return nil, candidates, 0, warnings
	}

	domainOK, domainReason, err := s.domainValidate(ctx, term, domain)
	if err != nil || !domainOK {
		if err != nil {
			warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, term, err.Error()))
		} else {
			warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySemanticLowConfidence, term, domainReason))
		}
		return nil, candidates, 0, warnings
	}

	semantic, err := s.semanticNameValidate(ctx, term, primary.ConceptName)
	if err != nil {
		warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategoryLLMFailed, term, err.Error()))
		return nil, candidates, 0, warnings
	}
	if ok, reason := reflection.ValidateSemanticMapping(semantic); !ok {
		warnings = append(warnings, pipelineerrors.NewWarning(pipelineerrors.CategorySemanticLowConfidence, term, reason))
		return nil, candidates, 0, warnings
	}

	secondary := make([]model.OmopMapping, 0, len(candidates)-1)
	for _, c := range candidates {
		if c.ConceptID != primary.ConceptID {
			secondary = append(secondary, c)
		}
	}
	return primary, secondary, confidence, warnings
}

type candidateWire struct {
	ConceptID    int64  `json:"conceptId"`
	ConceptName  string `json:"conceptName"`
	VocabularyID string `json:"vocabularyId"`
}

type semanticMatchResponse struct {
	SelectedID int64   `json:"selectedId"`
	Confidence float64 `json:"confidence"`
}

// semanticMatch is pipeline step 2.
func (s *Stage) semanticMatch(ctx context.Context, term string, candidates []model.OmopMapping) (int64, float64, error) {
	wire := make([]candidateWire, len(candidates))
	for i, c := range candidates {
		wire[i] = candidateWire{ConceptID: c.ConceptID, ConceptName: c.ConceptName, VocabularyID: c.VocabularyID}
	}
	payload, err := json.Marshal(struct {
		Term       string          `json:"term"`
		Candidates []candidateWire `json:"candidates"`
	}{Term: term, Candidates: wire})
	if err != nil {
		return 0, 0, fmt.Errorf("stage04: marshal semantic match request: %w", err)
	}

	resp, err := s.gateway.Complete(ctx, "omop_semantic_match", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: "You pick the OMOP concept that best matches a clinical trial term's meaning from a candidate list. Return JSON: {\"selectedId\": <concept id>, \"confidence\": <0..1>}."},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("stage04: semantic match call: %w", err)
	}

	var out semanticMatchResponse
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return 0, 0, fmt.Errorf("stage04: decode semantic match response: %w", err)
	}
	return out.SelectedID, out.Confidence, nil
}

type domainValidationResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// domainValidate is pipeline step 3: confirms domain is semantically
// appropriate for the criterion (not merely that table ↔ domain agree —
// that structural check belongs to Stage 6 SQL generation).
func (s *Stage) domainValidate(ctx context.Context, term string, domain model.OmopDomain) (bool, string, error) {
	payload, err := json.Marshal(struct {
		Term   string          `json:"term"`
		Domain model.OmopDomain `json:"domain"`
	}{Term: term, Domain: domain})
	if err != nil {
		return false, "", fmt.Errorf("stage04: marshal domain validation request: %w", err)
	}

	resp, err := s.gateway.Complete(ctx, "omop_domain_validation", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: "You confirm an OMOP domain is clinically appropriate for a trial eligibility term. Return JSON: {\"valid\": bool, \"reason\": \"...\"}."},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return false, "", fmt.Errorf("stage04: domain validation call: %w", err)
	}

	var out domainValidationResponse
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return false, "", fmt.Errorf("stage04: decode domain validation response: %w", err)
	}
	return out.Valid, out.Reason, nil
}

// semanticNameValidate is pipeline step 4: confirms the concept *name*
// matches the atomic's meaning, catching substring false positives like
// "ANC" matching "cancer" (spec.md §4.3 domain 3).
func (s *Stage) semanticNameValidate(ctx context.Context, term, conceptName string) (model.SemanticValidation, error) {
	payload, err := json.Marshal(struct {
		Term        string `json:"term"`
		ConceptName string `json:"conceptName"`
	}{Term: term, ConceptName: conceptName})
	if err != nil {
		return model.SemanticValidation{}, fmt.Errorf("stage04: marshal semantic name validation request: %w", err)
	}

	resp, err := s.gateway.Complete(ctx, "omop_semantic_name_validation", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: "You confirm an OMOP concept name means the same clinical thing as a trial eligibility term, rejecting substring coincidences. Return JSON: {\"valid\": bool, \"confidence\": <0..1>, \"reason\": \"...\"}."},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return model.SemanticValidation{}, fmt.Errorf("stage04: semantic name validation call: %w", err)
	}

	var out model.SemanticValidation
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return model.SemanticValidation{}, fmt.Errorf("stage04: decode semantic name validation response: %w", err)
	}
	return out, nil
}
