package concept

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkgcache "github.com/trialqeb/interpretpipe/pkg/cache"
	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
)

func testExpander(t *testing.T, anthropicTextJSON string) (*Expander, *pkgcache.ConceptCache) {
	t.Helper()
	t.Setenv("TEST_KEY", "key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":` + anthropicTextJSON + `}],"usage":{}}`))
	}))
	t.Cleanup(server.Close)

	providers := map[string]*config.LLMProviderConfig{
		"primary": {Type: config.LLMProviderTypeAnthropic, Model: "m", Role: config.RolePrimary, APIKeyEnv: "TEST_KEY", BaseURL: server.URL, MaxOutputTokens: 100, TimeoutSeconds: 5},
	}
	cfg := &config.Config{
		LLMProviderRegistry: config.NewLLMProviderRegistry(providers),
		Concurrency: &config.ConcurrencyConfig{
			MaxConcurrentLLMCalls: 1,
			Retry:                 config.RetryPolicy{MaxAttempts: 1, InitialDelayMs: 1, MaxDelayMs: 1, Multiplier: 2},
		},
	}
	gw, err := llmgateway.NewGateway(cfg, nil)
	require.NoError(t, err)

	concCache, err := pkgcache.NewConceptCache(&config.CacheConfig{Dir: t.TempDir(), ConceptTTL: time.Hour, PromptVersion: "v1"})
	require.NoError(t, err)

	return NewExpander(gw, concCache, "v1", 0), concCache
}

func TestExpandBatchUsesLLMOnCacheMiss(t *testing.T) {
	e, _ := testExpander(t, `"{\"expansions\": [{\"original\": \"myocardial infarction\", \"synonyms\": [\"heart attack\"], \"omopDomain\": \"Condition\", \"confidence\": 0.9}]}"`)

	results, err := e.ExpandBatch(context.Background(), []string{"myocardial infarction"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.SourceLLM, results[0].Source)
	assert.Equal(t, model.DomainCondition, results[0].OmopDomainHint)
}

func TestExpandBatchReturnsFromCacheOnSecondCall(t *testing.T) {
	e, cache := testExpander(t, `"{\"expansions\": [{\"original\": \"hypertension\", \"confidence\": 0.8}]}"`)

	_, err := e.ExpandBatch(context.Background(), []string{"hypertension"})
	require.NoError(t, err)

	cached, ok, err := cache.Get("hypertension")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SourceLLM, cached.Source)
}

func TestExpandBatchDeduplicatesRepeatedTerms(t *testing.T) {
	e, _ := testExpander(t, `"{\"expansions\": [{\"original\": \"anemia\", \"confidence\": 0.7}]}"`)

	results, err := e.ExpandBatch(context.Background(), []string{"anemia", "anemia", "Anemia "})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestExpandBatchFallsBackOnMalformedLLMResponse(t *testing.T) {
	e, _ := testExpander(t, `"not valid json"`)

	results, err := e.ExpandBatch(context.Background(), []string{"diabetes and obesity"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.SourceFallback, results[0].Source)
}
