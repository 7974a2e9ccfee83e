package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
)

// Validator validates configuration comprehensively with clear error
// messages.
type Validator struct {
	cfg     *Config
	structs *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, structs: validator.New()}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at the
// first error). A tag-based struct pass catches required/min-value
// violations first; the hand-written cross-reference checks that follow
// (stages -> LLM providers -> concurrency -> cache -> defaults) catch
// what struct tags can't express, such as "stage 2 must be critical" or
// "at most one provider per role, and a primary".
func (v *Validator) ValidateAll() error {
	if err := v.validateStructTags(); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}
	if err := v.validateStages(); err != nil {
		return fmt.Errorf("stage graph validation failed: %w", err)
	}
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}
	if err := v.validateConcurrency(); err != nil {
		return fmt.Errorf("concurrency validation failed: %w", err)
	}
	if err := v.validateCache(); err != nil {
		return fmt.Errorf("cache validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	return nil
}

// validateStructTags runs the `validate` struct tags declared on every
// config struct, ahead of the hand-written cross-reference checks below.
func (v *Validator) validateStructTags() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if err := v.structs.Struct(provider); err != nil {
			return pipelineerrors.NewValidationError("llm_provider", name, err)
		}
	}
	if v.cfg.Concurrency != nil {
		if err := v.structs.Struct(v.cfg.Concurrency); err != nil {
			return pipelineerrors.NewValidationError("concurrency", "", err)
		}
	}
	if v.cfg.Cache != nil {
		if err := v.structs.Struct(v.cfg.Cache); err != nil {
			return pipelineerrors.NewValidationError("cache", "", err)
		}
	}
	if v.cfg.Defaults != nil {
		if err := v.structs.Struct(v.cfg.Defaults); err != nil {
			return pipelineerrors.NewValidationError("defaults", "", err)
		}
	}
	return nil
}

func (v *Validator) validateStages() error {
	stages := v.cfg.StageGraph.GetAll()
	if len(stages) != 12 {
		return pipelineerrors.NewValidationError("stage_graph", "", fmt.Errorf("expected 12 stages, got %d", len(stages)))
	}

	for n := 1; n <= 12; n++ {
		stage, exists := stages[n]
		if !exists {
			return pipelineerrors.NewValidationError("stage_graph", fmt.Sprintf("stage_%d", n), fmt.Errorf("stage %d missing from graph", n))
		}
		if stage.Name == "" {
			return pipelineerrors.NewValidationError("stage_graph", fmt.Sprintf("stage_%d", n), fmt.Errorf("name required"))
		}
	}

	for _, critical := range []int{2, 4, 7} {
		if !v.cfg.StageGraph.IsCritical(critical) {
			return pipelineerrors.NewValidationError("stage_graph", fmt.Sprintf("stage_%d", critical), fmt.Errorf("stage %d must be critical", critical))
		}
	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	providers := v.cfg.LLMProviderRegistry.GetAll()
	if len(providers) == 0 {
		return pipelineerrors.NewValidationError("llm_providers", "", fmt.Errorf("at least one provider required"))
	}

	seenRoles := make(map[ProviderRole]string)
	for name, provider := range providers {
		if !provider.Type.IsValid() {
			return pipelineerrors.NewValidationError("llm_provider", name, fmt.Errorf("invalid provider type: %s", provider.Type))
		}
		if provider.Model == "" {
			return pipelineerrors.NewValidationError("llm_provider", name, fmt.Errorf("model required"))
		}
		if !provider.Role.IsValid() {
			return pipelineerrors.NewValidationError("llm_provider", name, fmt.Errorf("invalid role: %s", provider.Role))
		}
		if existing, ok := seenRoles[provider.Role]; ok {
			return pipelineerrors.NewValidationError("llm_provider", name, fmt.Errorf("role %s already assigned to provider %s", provider.Role, existing))
		}
		seenRoles[provider.Role] = name

		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return pipelineerrors.NewValidationError("llm_provider", name, fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}
		if provider.MaxOutputTokens < 256 {
			return pipelineerrors.NewValidationError("llm_provider", name, fmt.Errorf("max_output_tokens must be at least 256"))
		}
	}

	if _, ok := seenRoles[RolePrimary]; !ok {
		return pipelineerrors.NewValidationError("llm_providers", "", fmt.Errorf("no provider configured for role %s", RolePrimary))
	}

	return nil
}

func (v *Validator) validateConcurrency() error {
	c := v.cfg.Concurrency
	if c == nil {
		return pipelineerrors.NewValidationError("concurrency", "", fmt.Errorf("concurrency configuration is nil"))
	}
	if c.MaxConcurrentLLMCalls < 1 {
		return pipelineerrors.NewValidationError("concurrency", "max_concurrent_llm_calls", fmt.Errorf("must be at least 1"))
	}
	if c.BatchSize < 1 {
		return pipelineerrors.NewValidationError("concurrency", "batch_size", fmt.Errorf("must be at least 1"))
	}
	if c.RequestTimeout <= 0 {
		return pipelineerrors.NewValidationError("concurrency", "request_timeout", fmt.Errorf("must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		return pipelineerrors.NewValidationError("concurrency", "retry.max_attempts", fmt.Errorf("must be at least 1"))
	}
	if c.Retry.Multiplier <= 1 {
		return pipelineerrors.NewValidationError("concurrency", "retry.multiplier", fmt.Errorf("must be greater than 1"))
	}
	return nil
}

func (v *Validator) validateCache() error {
	c := v.cfg.Cache
	if c == nil {
		return pipelineerrors.NewValidationError("cache", "", fmt.Errorf("cache configuration is nil"))
	}
	if c.Dir == "" {
		return pipelineerrors.NewValidationError("cache", "dir", fmt.Errorf("required"))
	}
	if c.PromptVersion == "" {
		return pipelineerrors.NewValidationError("cache", "prompt_version", fmt.Errorf("required"))
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d == nil {
		return pipelineerrors.NewValidationError("defaults", "", fmt.Errorf("defaults configuration is nil"))
	}
	if d.PromptVersion == "" {
		return pipelineerrors.NewValidationError("defaults", "prompt_version", fmt.Errorf("required"))
	}
	if d.MaxCorrectionPasses < 0 || d.MaxCorrectionPasses > 1 {
		return pipelineerrors.NewValidationError("defaults", "max_correction_passes", fmt.Errorf("must be 0 or 1"))
	}
	return nil
}
