// Package pipelineerrors is the cross-cutting error taxonomy from spec.md
// §7: Transport, Schema, Semantic, Referential, DataAvailability, Fatal.
//
// spec.md §9 notes the source kept two competing ValidationError types (one
// shadowing jsonschema's). This package keeps exactly one, namespaced here,
// used by every other package in this module.
package pipelineerrors

import (
	"errors"
	"fmt"
)

// Category tags a structured warning with one of the stable review-reason
// categories from spec.md §7.
type Category string

const (
	CategoryUnmapped              Category = "unmapped"
	CategoryLLMFailed             Category = "llm_failed"
	CategoryCacheVersionMismatch  Category = "cache_version_mismatch"
	CategoryAtomicCountMismatch   Category = "atomic_count_mismatch"
	CategoryReferentialIntegrity  Category = "referential_integrity"
	CategorySemanticLowConfidence Category = "semantic_low_confidence"
	CategorySchemaViolation       Category = "schema_violation"
)

// Sentinel errors for common failure conditions across packages.
var (
	ErrLLMExhausted       = errors.New("all LLM providers exhausted")
	ErrCriticalStageFailed = errors.New("critical stage failed")
	ErrCacheMiss          = errors.New("cache miss")
	ErrReferentialIntegrity = errors.New("referential integrity violation")
	ErrSchemaInvalid      = errors.New("schema validation failed")
)

// Warning is a structured, stably-categorized recovery record attached to a
// stage's output (spec.md §7 policy: "every recovery records a structured
// warning with a stable category tag").
type Warning struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Subject  string   `json:"subject,omitempty"` // e.g. atomic ID, criterion ID
}

func (w Warning) String() string {
	if w.Subject != "" {
		return fmt.Sprintf("[%s] %s: %s", w.Category, w.Subject, w.Message)
	}
	return fmt.Sprintf("[%s] %s", w.Category, w.Message)
}

// NewWarning constructs a Warning.
func NewWarning(cat Category, subject, message string) Warning {
	return Warning{Category: cat, Subject: subject, Message: message}
}

// ValidationError is the single namespaced validation-error type used by
// every validation domain in this module (config, input contract, schema,
// reflection). Field/Component let callers add context without needing a
// second type.
type ValidationError struct {
	Component string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError.
func NewValidationError(component, field string, err error) *ValidationError {
	return &ValidationError{Component: component, Field: field, Err: err}
}

// CriticalStageError wraps a critical-stage failure (Stage 2, 4, 7 per
// spec.md §4.1/§7) that must abort the pipeline.
type CriticalStageError struct {
	Stage int
	Name  string
	Err   error
}

func (e *CriticalStageError) Error() string {
	return fmt.Sprintf("critical stage %d (%s) failed: %v", e.Stage, e.Name, e.Err)
}

func (e *CriticalStageError) Unwrap() error { return e.Err }

// NewCriticalStageError builds a CriticalStageError.
func NewCriticalStageError(stage int, name string, err error) *CriticalStageError {
	return &CriticalStageError{Stage: stage, Name: name, Err: err}
}

// IsCritical reports whether err (or something it wraps) is a
// CriticalStageError.
func IsCritical(err error) bool {
	var ce *CriticalStageError
	return errors.As(err, &ce)
}
