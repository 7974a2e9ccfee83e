package reflection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
)

func testEngine(t *testing.T, responseJSON string) *Engine {
	t.Helper()
	t.Setenv("TEST_ANTHROPIC_KEY", "key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":` + responseJSON + `}],"usage":{}}`))
	}))
	t.Cleanup(server.Close)

	providers := map[string]*config.LLMProviderConfig{
		"primary": {Type: config.LLMProviderTypeAnthropic, Model: "m", Role: config.RolePrimary, APIKeyEnv: "TEST_ANTHROPIC_KEY", BaseURL: server.URL, MaxOutputTokens: 100, TimeoutSeconds: 5},
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
	return NewEngine(gw)
}

func TestEngineCorrectSQLReturnsCorrectedStatement(t *testing.T) {
	// The anthropic text block is itself a JSON string whose value is the
	// correction payload the engine will decode.
	e := testEngine(t, `"{\"sql\": \"SELECT person_id FROM condition_occurrence WHERE condition_concept_id = 1\"}"`)

	sql, err := e.CorrectSQL(context.Background(), NewSQLCorrectionRequest(
		"SELECT person_id FROM condition_occurrence WHERE drug_concept_id = 1",
		"wrong concept-id column",
		"condition_occurrence",
		"history of diabetes",
	))
	require.NoError(t, err)
	assert.Contains(t, sql, "condition_concept_id")
}

func TestEngineCorrectSQLRejectsUnchangedStatement(t *testing.T) {
	original := "SELECT person_id FROM condition_occurrence WHERE drug_concept_id = 1"
	e := testEngine(t, `"{\"sql\": \"SELECT person_id FROM condition_occurrence WHERE drug_concept_id = 1\"}"`)

	_, err := e.CorrectSQL(context.Background(), NewSQLCorrectionRequest(original, "wrong column", "condition_occurrence", "x"))
	require.Error(t, err)
}

func TestEngineRecoverUnmappedTermCapsAtThreeAlternatives(t *testing.T) {
	e := testEngine(t, `"{\"alternatives\": [\"a\", \"b\", \"c\", \"d\"]}"`)

	alts, err := e.RecoverUnmappedTerm(context.Background(), "ANC")
	require.NoError(t, err)
	assert.Len(t, alts, MaxUnmappedAlternatives)
}
