package reflection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trialqeb/interpretpipe/pkg/llmgateway"
)

// Engine drives the LLM-backed correct step of generate → validate →
// reflect → correct. It never runs more than one correction pass per
// validation per atomic (spec.md §4.3's bounded recursion depth of 1).
type Engine struct {
	gateway *llmgateway.Gateway
}

// NewEngine builds a reflection Engine backed by gw.
func NewEngine(gw *llmgateway.Gateway) *Engine {
	return &Engine{gateway: gw}
}

// SQLCorrectionRequest is the structured payload the SQL-for-table
// correction prompt is built from (spec.md §4.3 domain 1: "re-prompt with
// {originalSQL, violation, table, criterionText}").
type SQLCorrectionRequest struct {
	OriginalSQL   string `json:"originalSql"`
	Violation     string `json:"violation"`
	Table         string `json:"table"`
	CriterionText string `json:"criterionText"`
}

type sqlCorrectionResponse struct {
	SQL string `json:"sql"`
}

// CorrectSQL re-prompts the LLM with the original SQL and the structural
// violation it failed, and returns a corrected SQL string if the model
// returns one different from the original. This is the single correction
// pass for validation domain 1.
func (e *Engine) CorrectSQL(ctx context.Context, req SQLCorrectionRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("reflection: marshal sql correction request: %w", err)
	}

	resp, err := e.gateway.Complete(ctx, "reflection_sql_correction", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: "You correct OMOP CDM SQL that violates table/column agreement rules. Return JSON: {\"sql\": \"<corrected select statement>\"}."},
			{Role: llmgateway.RoleUser, Content: string(payload)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("reflection: sql correction call: %w", err)
	}

	var out sqlCorrectionResponse
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return "", fmt.Errorf("reflection: decode sql correction response: %w", err)
	}
	if out.SQL == "" || out.SQL == req.OriginalSQL {
		return "", fmt.Errorf("reflection: correction did not produce a different sql statement")
	}
	return out.SQL, nil
}

// NewSQLCorrectionRequest builds the correction request payload for a
// failed SQL-for-table validation.
func NewSQLCorrectionRequest(originalSQL, violation, table, criterionText string) SQLCorrectionRequest {
	return SQLCorrectionRequest{OriginalSQL: originalSQL, Violation: violation, Table: table, CriterionText: criterionText}
}

// unmappedRecoveryResponse is the LLM's proposed alternative clinical
// phrasings for a term that failed to map to any OMOP concept.
type unmappedRecoveryResponse struct {
	Alternatives []string `json:"alternatives"`
}

// MaxUnmappedAlternatives bounds the alternative-phrasing recovery
// request (spec.md §4.3 domain 4, §4.7 step 5: "up to 3 alternatives").
const MaxUnmappedAlternatives = 3

// RecoverUnmappedTerm asks the LLM for up to MaxUnmappedAlternatives
// alternative clinical phrasings of term, for retrying vocabulary search
// when the original phrasing produced no OMOP mapping candidates.
func (e *Engine) RecoverUnmappedTerm(ctx context.Context, term string) ([]string, error) {
	resp, err := e.gateway.Complete(ctx, "reflection_unmapped_recovery", llmgateway.Request{
		JSONMode: true,
		Messages: []llmgateway.Message{
			{Role: llmgateway.RoleSystem, Content: fmt.Sprintf("You propose up to %d alternative clinical phrasings for a term that failed OMOP vocabulary lookup. Return JSON: {\"alternatives\": [\"...\"]}.", MaxUnmappedAlternatives)},
			{Role: llmgateway.RoleUser, Content: term},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reflection: unmapped-term recovery call: %w", err)
	}

	var out unmappedRecoveryResponse
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return nil, fmt.Errorf("reflection: decode unmapped-term recovery response: %w", err)
	}
	if len(out.Alternatives) > MaxUnmappedAlternatives {
		out.Alternatives = out.Alternatives[:MaxUnmappedAlternatives]
	}
	return out.Alternatives, nil
}
