// Package llmgateway is the uniform LLM-calling surface used by every
// pipeline stage: one Complete call that fails over across the
// primary/secondary/tertiary provider chain, retries transport-class
// failures with exponential backoff, and optionally caches decisions.
package llmgateway

import (
	"context"
)

// Message is one turn of a conversation sent to a provider.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is a single completion request, provider-agnostic.
type Request struct {
	Messages    []Message
	JSONMode    bool // ask the provider to constrain output to valid JSON
	MaxTokens   int  // 0 = use the provider config's default
	Temperature float64
}

// Response is a single completion result, provider-agnostic.
type Response struct {
	Text     string
	Provider string
	Usage    Usage
}

// Usage reports token consumption for one completion call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Provider is the per-vendor HTTP completion client. Each concrete
// provider translates Request/Response to and from its own REST wire
// format over plain net/http (spec.md's domain stack calls for direct
// hosted-API JSON calls, not a vendor SDK).
type Provider interface {
	// Complete sends req and returns the provider's completion.
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name identifies the provider for logging and cache keys.
	Name() string
}
