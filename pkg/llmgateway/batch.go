package llmgateway

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchRequest pairs a Request with an opaque caller key, echoed back in
// its BatchResult. CompleteBatch reports results in the same order callers
// submitted them in, even though completions race each other under
// bounded concurrency.
type BatchRequest struct {
	Key     string
	Request Request
}

// BatchResult is one slot of a CompleteBatch result, aligned positionally
// with the input slice. Err is set instead of Response on a per-item
// failure; CompleteBatch itself only returns an error for something that
// prevents the batch from running at all (e.g. a cancelled context before
// any item starts).
type BatchResult struct {
	Key      string
	Response *Response
	Err      error
}

// CompleteBatch runs reqs concurrently, bounded by the gateway's
// configured MaxConcurrentLLMCalls, fanning each item through the same
// failover/retry path as Complete. Results preserve input order.
func (g *Gateway) CompleteBatch(ctx context.Context, stage string, reqs []BatchRequest) ([]BatchResult, error) {
	results := make([]BatchResult, len(reqs))

	eg, ctx := errgroup.WithContext(ctx)
	limit := g.cfg.Concurrency.MaxConcurrentLLMCalls
	if limit < 1 {
		limit = 1
	}
	eg.SetLimit(limit)

	for i, r := range reqs {
		i, r := i, r
		eg.Go(func() error {
			resp, err := g.Complete(ctx, stage, r.Request)
			results[i] = BatchResult{Key: r.Key, Response: resp, Err: err}
			return nil // per-item errors are reported in results, not propagated
		})
	}

	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
