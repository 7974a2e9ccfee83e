package stage02

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
)

func testStage(t *testing.T, anthropicTextJSON string, statusCode int) *Stage {
	t.Helper()
	t.Setenv("TEST_KEY", "key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusCode)
		if statusCode == http.StatusOK {
			_, _ = w.Write([]byte(`{"content":[{"type":"text","text":` + anthropicTextJSON + `}],"usage":{}}`))
		}
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
	return NewStage(gw)
}

func TestRunDecomposesOperatorTree(t *testing.T) {
	treeJSON := `"{\"tree\": {\"kind\": \"operator\", \"operator\": \"AND\", \"operands\": [{\"kind\": \"atomic\", \"atomicText\": \"age >= 18\", \"domainHint\": \"Observation\"}, {\"kind\": \"atomic\", \"atomicText\": \"diagnosed with NSCLC\", \"domainHint\": \"Condition\"}]}}"`
	s := testStage(t, treeJSON, http.StatusOK)

	result := s.Run(context.Background(), []model.RawCriterion{{ID: "C001", Text: "Age >= 18 and diagnosed with NSCLC", Type: model.CriterionInclusion}})
	require.Len(t, result.Trees, 1)
	require.Empty(t, result.Warnings)
	assert.Len(t, result.Atomics, 2)
	assert.Equal(t, model.DomainCondition, result.Atomics[1].DomainHint)
}

func TestRunFallsBackToSingleLeafOnLLMFailure(t *testing.T) {
	s := testStage(t, "", http.StatusInternalServerError)

	result := s.Run(context.Background(), []model.RawCriterion{{ID: "C002", Text: "No prior chemotherapy", Type: model.CriterionExclusion}})
	require.Len(t, result.Trees, 1)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "C002", result.Warnings[0].Subject)
	require.Len(t, result.Atomics, 1)
	assert.Equal(t, "No prior chemotherapy", result.Atomics[0].Text)
}

func TestRunFallsBackOnArityViolation(t *testing.T) {
	treeJSON := `"{\"tree\": {\"kind\": \"operator\", \"operator\": \"NOT\", \"operands\": [{\"kind\": \"atomic\", \"atomicText\": \"a\"}, {\"kind\": \"atomic\", \"atomicText\": \"b\"}]}}"`
	s := testStage(t, treeJSON, http.StatusOK)

	result := s.Run(context.Background(), []model.RawCriterion{{ID: "C003", Text: "x", Type: model.CriterionInclusion}})
	require.Len(t, result.Warnings, 1)
	require.Len(t, result.Atomics, 1)
}

func TestRunPreservesCriterionOrderAcrossMultipleCriteria(t *testing.T) {
	treeJSON := `"{\"tree\": {\"kind\": \"atomic\", \"atomicText\": \"leaf\"}}"`
	s := testStage(t, treeJSON, http.StatusOK)

	result := s.Run(context.Background(), []model.RawCriterion{
		{ID: "C001", Text: "first"},
		{ID: "C002", Text: "second"},
	})
	require.Len(t, result.Trees, 2)
	assert.Equal(t, "C001", result.Trees[0].CriterionID)
	assert.Equal(t, "C002", result.Trees[1].CriterionID)
}
