package stage11

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

func testStage(t *testing.T, anthropicTextJSON string) *Stage {
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

	return NewStage(gw, config.DefaultFeasibilityConfig())
}

func criteria() []model.RawCriterion {
	return []model.RawCriterion{
		{ID: "C001", Text: "Histologically confirmed NSCLC", Type: model.CriterionInclusion},
		{ID: "C002", Text: "EGFR mutation positive", Type: model.CriterionInclusion},
		{ID: "C003", Text: "ECOG performance status 0-1", Type: model.CriterionInclusion},
		{ID: "C004", Text: "Prior chemotherapy within 4 weeks", Type: model.CriterionExclusion},
		{ID: "C005", Text: "No active brain metastases", Type: model.CriterionExclusion},
	}
}

const classifyResp = `"{\"results\": {` +
	`\"C001\": {\"category\": \"primary_anchor\", \"queryableStatus\": \"fully_queryable\", \"dataAvailability\": 0.9, \"eliminationRatePct\": 60, \"method\": \"query\"},` +
	`\"C002\": {\"category\": \"biomarker\", \"queryableStatus\": \"partially_queryable\", \"dataAvailability\": 0.7, \"eliminationRatePct\": 50, \"method\": \"query\"},` +
	`\"C003\": {\"category\": \"functional\", \"queryableStatus\": \"reference_based\", \"dataAvailability\": 0.5, \"eliminationRatePct\": 25, \"method\": \"hybrid\"},` +
	`\"C004\": {\"category\": \"treatment_history\", \"queryableStatus\": \"partially_queryable\", \"dataAvailability\": 0.6, \"eliminationRatePct\": 10, \"method\": \"hybrid\"},` +
	`\"C005\": {\"category\": \"safety_exclusion\", \"queryableStatus\": \"non_queryable\", \"dataAvailability\": 0.2, \"eliminationRatePct\": 5, \"method\": \"prevalence\"}` +
	`}}"`

func TestRunSelectsPrimaryAnchorAndBuildsFunnel(t *testing.T) {
	s := testStage(t, classifyResp)
	result, warnings := s.Run(context.Background(), criteria(), 10000)
	assert.Empty(t, warnings)

	var gotPrimary, gotBiomarker, gotFunctional bool
	for _, kc := range result.KeyCriteria {
		switch kc.KeyID {
		case "C001":
			gotPrimary = true
		case "C002":
			gotBiomarker = true
		case "C003":
			gotFunctional = true
		}
	}
	assert.True(t, gotPrimary, "primary_anchor criterion must always be selected")
	assert.True(t, gotBiomarker, "queryable biomarker must be selected")
	assert.True(t, gotFunctional, "functional criterion above elimination threshold must be selected")

	require.NotEmpty(t, result.Stages)
	assert.Equal(t, model.StageDiseaseIndication, result.Stages[0].StageType)
}

func TestRunMarksKillerCriteria(t *testing.T) {
	s := testStage(t, classifyResp)
	result, _ := s.Run(context.Background(), criteria(), 10000)

	var killers int
	for _, kc := range result.KeyCriteria {
		if kc.IsKillerCriterion {
			killers++
		}
	}
	assert.Greater(t, killers, 0)
}

func TestRunAppliesSequentialPopulationRetention(t *testing.T) {
	s := testStage(t, classifyResp)
	result, _ := s.Run(context.Background(), criteria(), 10000)

	assert.Less(t, result.PopulationEstimate.Count, int64(10000))
	assert.GreaterOrEqual(t, result.PopulationEstimate.Count, int64(0))
	assert.LessOrEqual(t, result.PopulationEstimate.ConfidenceLow, result.PopulationEstimate.Count)
	assert.GreaterOrEqual(t, result.PopulationEstimate.ConfidenceHigh, result.PopulationEstimate.Count)
}

func TestRunFallsBackToDefaultsOnLLMFailure(t *testing.T) {
	s := testStage(t, `"not json"`)
	result, warnings := s.Run(context.Background(), criteria(), 10000)
	assert.NotEmpty(t, warnings)
	// All criteria default to non_queryable/administrative, so none beyond
	// primary_anchor-style force-inclusion rules should be selected.
	assert.NotNil(t, result.KeyCriteria)
}

func TestRunHandlesEmptyCriteriaSet(t *testing.T) {
	s := testStage(t, classifyResp)
	result, warnings := s.Run(context.Background(), nil, 5000)
	assert.Empty(t, warnings)
	assert.Empty(t, result.KeyCriteria)
	assert.Equal(t, int64(5000), result.PopulationEstimate.Count)
}
