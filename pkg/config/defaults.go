package config

// Defaults contains system-wide default configuration used when a run
// doesn't override a value explicitly.
type Defaults struct {
	// PromptVersion is stamped on every LLM call and every cache entry; a
	// version bump invalidates every cached entry regardless of TTL
	// (spec.md §5).
	PromptVersion string `yaml:"prompt_version" validate:"required"`

	// ReflectionEnabled is read from pipeline.yaml, but no pipeline stage
	// reads it: the generate->validate->reflect->correct loop (spec.md
	// §4.2) runs whatever its value.
	ReflectionEnabled bool `yaml:"reflection_enabled"`

	// MaxCorrectionPasses records the reflection correction-pass bound
	// (spec.md §4.2: one pass). It is validated to 0 or 1; the loader
	// replaces 0, including an unset value, with 1, and no pipeline stage
	// reads it, so it does not change how many correction passes run.
	MaxCorrectionPasses int `yaml:"max_correction_passes" validate:"min=0,max=1"`
}
