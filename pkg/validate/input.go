// Package validate checks the pipeline's on-disk input contracts
// (spec.md §6: `eligibility_criteria.json`, the optional
// `omop_mappings.json` companion) against their JSON-schema-style shape
// before any stage sees them, using the same struct-tag validator
// pkg/config uses for its own configuration structs.
package validate

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
)

// criterionWire is the wire shape of one eligibility_criteria.json entry
// (spec.md §6). CriterionID and Provenance are optional: a missing
// CriterionID is auto-generated, per the contract.
type criterionWire struct {
	CriterionID   string          `json:"criterion_id"`
	Text          string          `json:"text" validate:"required"`
	CriterionType string          `json:"criterion_type"`
	Provenance    *provenanceWire `json:"provenance,omitempty"`
}

type provenanceWire struct {
	PageNumber int    `json:"page_number,omitempty"`
	SectionID  string `json:"section_id,omitempty"`
	TextSnippet string `json:"text_snippet,omitempty"`
}

type criteriaFile struct {
	Criteria []criterionWire `json:"criteria" validate:"required,dive"`
}

// LoadCriteria reads and validates path as an eligibility_criteria.json
// document, auto-generating missing criterion_ids and defaulting unknown
// criterion_types to inclusion.
func LoadCriteria(path string) ([]model.RawCriterion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("validate: read %s: %w", path, err)
	}

	var file criteriaFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, pipelineerrors.NewValidationError("eligibility_criteria", "", err)
	}

	v := validator.New()
	if err := v.Struct(file); err != nil {
		return nil, pipelineerrors.NewValidationError("eligibility_criteria", "", err)
	}
	for i, c := range file.Criteria {
		if err := v.Struct(c); err != nil {
			return nil, pipelineerrors.NewValidationError("eligibility_criteria", fmt.Sprintf("criteria[%d]", i), err)
		}
	}

	out := make([]model.RawCriterion, len(file.Criteria))
	for i, c := range file.Criteria {
		id := c.CriterionID
		if id == "" {
			id = model.AutoID(i)
		}
		var prov *model.Provenance
		if c.Provenance != nil {
			prov = &model.Provenance{
				Page:    c.Provenance.PageNumber,
				Section: c.Provenance.SectionID,
				Snippet: c.Provenance.TextSnippet,
			}
		}
		out[i] = model.RawCriterion{
			ID:         id,
			Text:       c.Text,
			Type:       model.ParseCriterionType(c.CriterionType),
			Provenance: prov,
		}
	}
	return out, nil
}

// conceptWire is one entry of an omop_mappings.json concept list.
type conceptWire struct {
	ConceptID       int64  `json:"concept_id" validate:"required"`
	ConceptName     string `json:"concept_name" validate:"required"`
	VocabularyID    string `json:"vocabulary_id" validate:"required"`
	DomainID        string `json:"domain_id" validate:"required"`
	StandardConcept bool   `json:"standard_concept"`
}

type omopMappingWire struct {
	CriterionID string        `json:"criterion_id" validate:"required"`
	TableName   string        `json:"table_name" validate:"required"`
	Concepts    []conceptWire `json:"concepts" validate:"dive"`
}

// LoadOmopMappings reads and validates the optional omop_mappings.json
// companion, keyed by criterion_id. A missing file is returned as the raw
// os error, not as a ValidationError, so callers can use os.IsNotExist to
// tell an absent optional file apart from a malformed one.
func LoadOmopMappings(path string) (map[string][]model.OmopMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []omopMappingWire
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, pipelineerrors.NewValidationError("omop_mappings", "", err)
	}

	v := validator.New()
	out := make(map[string][]model.OmopMapping, len(entries))
	for i, e := range entries {
		if err := v.Struct(e); err != nil {
			return nil, pipelineerrors.NewValidationError("omop_mappings", fmt.Sprintf("[%d]", i), err)
		}
		mappings := make([]model.OmopMapping, len(e.Concepts))
		for j, c := range e.Concepts {
			mappings[j] = model.OmopMapping{
				ConceptID:    c.ConceptID,
				ConceptName:  c.ConceptName,
				VocabularyID: c.VocabularyID,
				DomainID:     model.OmopDomain(c.DomainID),
				TableName:    e.TableName,
				IsStandard:   c.StandardConcept,
			}
		}
		out[e.CriterionID] = mappings
	}
	return out, nil
}
