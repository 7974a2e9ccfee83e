package stage12

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

func testStage(t *testing.T, responses []string) *Stage {
	t.Helper()
	t.Setenv("TEST_KEY", "key")

	call := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := responses[call%len(responses)]
		call++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":` + text + `}],"usage":{}}`))
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

func simpleInput() Input {
	tree := &model.ExpressionTree{
		CriterionID: "C001",
		Root:        model.NewAtomicNode("C001-A1", "histologically confirmed NSCLC"),
	}
	atomic := model.SQLAtomic{
		MappedAtomic: model.MappedAtomic{
			Atomic: model.Atomic{ID: "C001-A1", Text: "histologically confirmed NSCLC", CriterionID: "C001", LogicalGroup: model.LogicalGroupFor("C001", 0)},
			PrimaryMapping: &model.OmopMapping{ConceptID: 42, ConceptName: "NSCLC", VocabularyID: "SNOMED", DomainID: model.DomainCondition},
		},
		Table: "condition_occurrence",
		SQL:   "SELECT person_id FROM condition_occurrence WHERE condition_concept_id = 42",
	}
	return Input{
		Criterion: model.RawCriterion{ID: "C001", Text: "histologically confirmed NSCLC", Type: model.CriterionInclusion},
		Tree:      tree,
		Atomics:   []model.SQLAtomic{atomic},
	}
}

const dataSourceResp = `"{\"results\": {\"C001-A1\": \"ehr_structured\"}}"`
const namingResp = `"{\"results\": {\"C001\": {\"clinicalName\": \"NSCLC Diagnosis\", \"clinicalDescription\": \"Confirmed NSCLC diagnosis\", \"clinicalCategory\": \"primary_anchor\", \"eliminationRatePct\": 40, \"isKillerCriterion\": true, \"funnelStage\": \"disease_indication\"}}}"`

func TestRunBuildsSingleAtomicQEB(t *testing.T) {
	s := testStage(t, []string{dataSourceResp, namingResp})
	out, warnings := s.Run(context.Background(), []Input{simpleInput()})
	assert.Empty(t, warnings)
	require.Len(t, out.QueryableBlocks, 1)

	qeb := out.QueryableBlocks[0]
	assert.Equal(t, "C001", qeb.CriterionID)
	assert.Contains(t, qeb.CombinedSQL, "condition_concept_id = 42")
	assert.Equal(t, model.QEBFullyQueryable, qeb.QueryableStatus)
	assert.Equal(t, "NSCLC Diagnosis", qeb.ClinicalName)
	assert.True(t, qeb.IsKillerCriterion)
	assert.Equal(t, model.QEBStateFinalized, qeb.State)
	require.Len(t, qeb.OmopConcepts, 1)
	require.Len(t, qeb.BiomedicalConcepts, 1)
	assert.Equal(t, "C_COND-42", qeb.BiomedicalConcepts[0].CdiscCode)
}

func TestRunReconciliationWarnsOnAtomicCountMismatch(t *testing.T) {
	in := simpleInput()
	in.Tree.Root = model.NewOperatorNode(model.OpAND, model.NewAtomicNode("C001-A1", "x"), model.NewAtomicNode("C001-A2", "y"))

	s := testStage(t, []string{dataSourceResp, namingResp})
	_, warnings := s.Run(context.Background(), []Input{in})
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0].Message, "atomic count mismatch")
}

func TestLowerNodeHandlesAllOperators(t *testing.T) {
	a := &model.Node{Kind: model.NodeAtomic, AtomicID: "a"}
	b := &model.Node{Kind: model.NodeAtomic, AtomicID: "b"}
	nodeToAtomic := map[*model.Node]*model.SQLAtomic{
		a: {SQL: "SELECT 1"},
		b: {SQL: "SELECT 2"},
	}

	assert.Contains(t, lowerNode(model.NewOperatorNode(model.OpAND, a, b), nodeToAtomic), "INTERSECT")
	assert.Contains(t, lowerNode(model.NewOperatorNode(model.OpOR, a, b), nodeToAtomic), "UNION")
	assert.Contains(t, lowerNode(model.NewOperatorNode(model.OpNOT, a), nodeToAtomic), "EXCEPT")
	assert.Contains(t, lowerNode(model.NewOperatorNode(model.OpEXCEPT, a, b), nodeToAtomic), "EXCEPT")
	assert.Contains(t, lowerNode(model.NewOperatorNode(model.OpIMPLICATION, a, b), nodeToAtomic), "UNION")
}

func TestDeriveQueryableStatusLookupTable(t *testing.T) {
	assert.Equal(t, model.QEBNotApplicable, deriveQueryableStatus(model.DataSourcePatientDecision, true))
	assert.Equal(t, model.QEBScreeningOnly, deriveQueryableStatus(model.DataSourceClinicalJudgment, true))
	assert.Equal(t, model.QEBHybridQueryable, deriveQueryableStatus(model.DataSourceClinicalNotes, true))
	assert.Equal(t, model.QEBLLMExtractable, deriveQueryableStatus(model.DataSourceClinicalNotes, false))
	assert.Equal(t, model.QEBFullyQueryable, deriveQueryableStatus(model.DataSourceEHRStructured, true))
	assert.Equal(t, model.QEBLLMExtractable, deriveQueryableStatus(model.DataSourceEHRStructured, false))
}
