package stage04

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trialqeb/interpretpipe/pkg/config"
	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
	"github.com/trialqeb/interpretpipe/pkg/model"
	"github.com/trialqeb/interpretpipe/pkg/reflection"
)

type fakeVocab struct {
	candidates map[string][]model.OmopMapping
	err        error
}

func (f *fakeVocab) SearchCandidates(ctx context.Context, term string, domain model.OmopDomain, hierarchical bool) ([]model.OmopMapping, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates[term], nil
}

func testStage(t *testing.T, anthropicTextJSON string, vocab VocabularySearcher) *Stage {
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

	return NewStage(gw, vocab, reflection.NewEngine(gw))
}

func TestMapOneAcceptsHighConfidenceMatch(t *testing.T) {
	vocab := &fakeVocab{candidates: map[string][]model.OmopMapping{
		"non-small cell lung cancer": {{ConceptID: 123, ConceptName: "Non-small cell carcinoma of lung", VocabularyID: "SNOMED"}},
	}}
	resp := `"{\"selectedId\": 123, \"confidence\": 0.95, \"valid\": true, \"reason\": \"matches\"}"`
	s := testStage(t, resp, vocab)

	result := s.Run(context.Background(), []model.Atomic{{ID: "A1", Text: "non-small cell lung cancer", DomainHint: model.DomainCondition}})
	require.Len(t, result.Mapped, 1)
	require.NotNil(t, result.Mapped[0].PrimaryMapping)
	assert.Equal(t, int64(123), result.Mapped[0].PrimaryMapping.ConceptID)
	assert.Empty(t, result.Warnings)
}

func TestMapOneRejectsLowConfidenceMatch(t *testing.T) {
	vocab := &fakeVocab{candidates: map[string][]model.OmopMapping{
		"ANC": {{ConceptID: 999, ConceptName: "Cancer", VocabularyID: "SNOMED"}},
	}}
	resp := `"{\"selectedId\": 999, \"confidence\": 0.2, \"valid\": true, \"reason\": \"weak\"}"`
	s := testStage(t, resp, vocab)

	result := s.Run(context.Background(), []model.Atomic{{ID: "A1", Text: "ANC"}})
	require.Len(t, result.Mapped, 1)
	assert.Nil(t, result.Mapped[0].PrimaryMapping)
	require.NotEmpty(t, result.Warnings)
}

func TestMapOneLeavesAtomicUnmappedWhenNoCandidates(t *testing.T) {
	vocab := &fakeVocab{candidates: map[string][]model.OmopMapping{}}
	s := testStage(t, `"{\"alternatives\": []}"`, vocab)

	result := s.Run(context.Background(), []model.Atomic{{ID: "A1", Text: "some very rare term"}})
	require.Len(t, result.Mapped, 1)
	assert.Nil(t, result.Mapped[0].PrimaryMapping)
	require.NotEmpty(t, result.Warnings)
}

func TestMapOneReturnsWarningOnVocabError(t *testing.T) {
	vocab := &fakeVocab{err: errors.New("connection refused")}
	s := testStage(t, `"{\"alternatives\": []}"`, vocab)

	result := s.Run(context.Background(), []model.Atomic{{ID: "A1", Text: "x"}})
	require.Len(t, result.Mapped, 1)
	assert.Nil(t, result.Mapped[0].PrimaryMapping)
	require.NotEmpty(t, result.Warnings)
}

func TestMapOneCapsCandidatesAtMaxCandidates(t *testing.T) {
	var many []model.OmopMapping
	for i := 0; i < 15; i++ {
		many = append(many, model.OmopMapping{ConceptID: int64(i), ConceptName: "concept"})
	}
	vocab := &fakeVocab{candidates: map[string][]model.OmopMapping{"x": many}}
	resp := `"{\"selectedId\": 0, \"confidence\": 0.9, \"valid\": true, \"reason\": \"ok\"}"`
	s := testStage(t, resp, vocab)

	result := s.Run(context.Background(), []model.Atomic{{ID: "A1", Text: "x"}})
	require.Len(t, result.Mapped, 1)
	require.NotNil(t, result.Mapped[0].PrimaryMapping)
	assert.LessOrEqual(t, len(result.Mapped[0].SecondaryMappings), MaxCandidates-1)
}
