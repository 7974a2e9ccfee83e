package llmgateway

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/trialqeb/interpretpipe/pkg/cache"
	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/pipelineerrors"
)

// Gateway is the uniform entry point every stage uses to talk to an LLM:
// it resolves the configured primary/secondary/tertiary provider chain,
// retries transport-class failures against the current provider with
// exponential backoff, and fails over to the next provider in the chain
// once retries are exhausted or the error isn't retryable.
type Gateway struct {
	cfg       *config.Config
	providers map[string]Provider
	decisions *cache.LLMDecisionCache
}

// NewGateway builds a Gateway from cfg, instantiating one HTTP provider
// per registered LLM provider. decisions may be nil to disable decision
// caching.
func NewGateway(cfg *config.Config, decisions *cache.LLMDecisionCache) (*Gateway, error) {
	providers := make(map[string]Provider)
	for name, pc := range cfg.LLMProviderRegistry.GetAll() {
		apiKey := os.Getenv(pc.APIKeyEnv)
		p, err := NewProvider(name, pc, apiKey)
		if err != nil {
			return nil, fmt.Errorf("llmgateway: provider %q: %w", name, err)
		}
		providers[name] = p
	}
	return &Gateway{cfg: cfg, providers: providers, decisions: decisions}, nil
}

// Complete sends req through the provider failover chain for stage,
// returning the first successful completion.
func (g *Gateway) Complete(ctx context.Context, stage string, req Request) (*Response, error) {
	chain := g.cfg.FailoverChain()
	if len(chain) == 0 {
		return nil, fmt.Errorf("llmgateway: no LLM providers configured")
	}

	var lastErr error
	for _, name := range chain {
		provider, ok := g.providers[name]
		if !ok {
			continue
		}
		resp, err := g.completeWithRetry(ctx, provider, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: stage %s: %v", pipelineerrors.ErrLLMExhausted, stage, lastErr)
}

// CompleteCached behaves like Complete but first checks (and, on success,
// populates) the decision cache under key. A nil decision cache degrades
// to an uncached call.
func (g *Gateway) CompleteCached(ctx context.Context, stage, key string, req Request) (*Response, error) {
	if g.decisions != nil {
		if entry, ok, err := g.decisions.Get(key); err == nil && ok {
			return &Response{Text: entry.Response, Provider: entry.Provider}, nil
		}
	}

	resp, err := g.Complete(ctx, stage, req)
	if err != nil {
		return nil, err
	}

	if g.decisions != nil {
		_ = g.decisions.Set(key, cache.LLMDecisionEntry{Stage: stage, Provider: resp.Provider, Response: resp.Text})
	}
	return resp, nil
}

func (g *Gateway) completeWithRetry(ctx context.Context, provider Provider, req Request) (*Response, error) {
	policy := g.cfg.Concurrency.Retry
	delay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ClassifyError(err) != RetrySameProvider || attempt == policy.MaxAttempts {
			return nil, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return nil, lastErr
}
