package llmgateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteBatchPreservesOrderAndBoundsConcurrency(t *testing.T) {
	g := &Gateway{
		cfg: testGatewayConfig(t),
		providers: map[string]Provider{
			"primary": &stubProvider{name: "primary", fn: func(int) (*Response, error) { return &Response{Text: "ok"}, nil }},
		},
	}
	// Force the failover chain down to just "primary" for this test.
	g.cfg.LLMProviderRegistry = testSinglePrimaryRegistry()

	reqs := make([]BatchRequest, 0, 10)
	for i := 0; i < 10; i++ {
		reqs = append(reqs, BatchRequest{Key: fmt.Sprintf("item-%d", i), Request: Request{}})
	}

	results, err := g.CompleteBatch(context.Background(), "stage", reqs)
	require.NoError(t, err)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("item-%d", i), r.Key)
		require.NoError(t, r.Err)
		assert.Equal(t, "ok", r.Response.Text)
	}
}

func TestCompleteBatchReportsPerItemFailures(t *testing.T) {
	g := &Gateway{
		cfg: testGatewayConfig(t),
		providers: map[string]Provider{
			"primary": &stubProvider{name: "primary", fn: func(calls int) (*Response, error) {
				if calls%2 == 0 {
					return nil, &StatusError{Provider: "primary", StatusCode: 401}
				}
				return &Response{Text: "ok"}, nil
			}},
		},
	}
	g.cfg.LLMProviderRegistry = testSinglePrimaryRegistry()

	reqs := []BatchRequest{{Key: "a"}, {Key: "b"}, {Key: "c"}, {Key: "d"}}
	results, err := g.CompleteBatch(context.Background(), "stage", reqs)
	require.NoError(t, err)
	require.Len(t, results, 4)

	var failures int
	for _, r := range results {
		if r.Err != nil {
			failures++
		}
	}
	assert.Greater(t, failures, 0)
}
