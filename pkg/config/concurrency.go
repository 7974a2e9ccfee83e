package config

import "time"

// ConcurrencyConfig controls the bounded worker pool the LLM gateway's
// CompleteBatch uses for concurrent LLM calls, plus the gateway's retry
// policy and the concept expander's batch size (spec.md §4.2, §5),
// grounded on the teacher's QueueConfig shape. No pipeline stage calls
// CompleteBatch.
type ConcurrencyConfig struct {
	// MaxConcurrentLLMCalls bounds how many in-flight LLM calls a batch may
	// hold open at once.
	MaxConcurrentLLMCalls int `yaml:"max_concurrent_llm_calls"`

	// BatchSize is the number of atomics/criteria grouped into a single
	// batched LLM call where the stage supports batching.
	BatchSize int `yaml:"batch_size"`

	// RequestTimeout is validated to be positive, but nothing else reads
	// it; each HTTP call is bounded by its provider's TimeoutSeconds.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retry configures exponential backoff on transport-class failures
	// (spec.md §4.2: connection reset, timeout, 5xx, rate limit).
	Retry RetryPolicy `yaml:"retry"`
}

// DefaultConcurrencyConfig returns the built-in concurrency defaults.
func DefaultConcurrencyConfig() *ConcurrencyConfig {
	return &ConcurrencyConfig{
		MaxConcurrentLLMCalls: 8,
		BatchSize:             20,
		RequestTimeout:        90 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialDelayMs: 500,
			MaxDelayMs:     8000,
			Multiplier:     2.0,
		},
	}
}
