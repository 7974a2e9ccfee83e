package config

// RetryPolicy configures exponential backoff for transport-class LLM
// gateway failures (spec.md §4.2).
type RetryPolicy struct {
	MaxAttempts    int     `yaml:"max_attempts" validate:"required,min=1"`
	InitialDelayMs int     `yaml:"initial_delay_ms" validate:"required,min=1"`
	MaxDelayMs     int     `yaml:"max_delay_ms" validate:"required,min=1"`
	Multiplier     float64 `yaml:"multiplier" validate:"required,gt=1"`
}

// MaskingPattern defines a regex-based redaction pattern applied to log
// lines before they are written (spec.md ambient logging concerns — API
// keys and bearer tokens must never reach structured logs).
type MaskingPattern struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
	Description string `yaml:"description,omitempty"`
}
