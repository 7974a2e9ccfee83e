package llmgateway

import (
	"github.com/trialqeb/interpretpipe/pkg/cache"
	"github.com/trialqeb/interpretpipe/pkg/config"
)

// NewGatewayForTesting builds a Gateway backed by the supplied providers
// instead of real HTTP ones, so callers outside this package (e.g. the
// pkg/orchestrator integration test) can drive the full stage graph
// against in-memory fakes without a network. decisions may be nil to
// disable decision caching.
func NewGatewayForTesting(cfg *config.Config, providers map[string]Provider, decisions *cache.LLMDecisionCache) *Gateway {
	return &Gateway{cfg: cfg, providers: providers, decisions: decisions}
}
