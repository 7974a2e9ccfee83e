package config

// DefaultRedactionPatterns returns the built-in log-redaction patterns,
// trimmed from the teacher's masking pattern catalog to the handful that
// apply to this module's own surface: provider API keys and bearer tokens
// that might otherwise leak into slog output or error strings (spec.md
// ambient logging concerns). Kubernetes/cloud/VCS-specific patterns from
// the teacher's catalog don't apply here — see DESIGN.md.
func DefaultRedactionPatterns() []MaskingPattern {
	return []MaskingPattern{
		{
			Pattern:     `(?i)(?:api[_-]?key|apikey)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-]{20,})["\']?`,
			Replacement: `"api_key": "[MASKED_API_KEY]"`,
			Description: "LLM provider API keys",
		},
		{
			Pattern:     `(?i)(?:bearer|token)["\']?\s*[:=]?\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"token": "[MASKED_TOKEN]"`,
			Description: "Bearer tokens",
		},
	}
}
