package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/alexanderramin/defectlens/internal/domain"
)

// BatchResult is the outcome of one request in a batch. Exactly one of
// Record and Err is set.
type BatchResult struct {
	Ref    string
	Record *domain.DefectAnalysisRecord
	Err    error
}

// Batch runs independent analyses with at most concurrency in flight.
// Results keep the order of reqs. A failing item does not stop the others;
// cancelling ctx fails every item that has not completed.
func (p *Pipeline) Batch(ctx context.Context, reqs []Request, concurrency int) []BatchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			rec, err := p.Run(ctx, req)
			results[i] = BatchResult{Ref: req.ImageRef, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Records returns the successful records of a batch in order.
func Records(results []BatchResult) []*domain.DefectAnalysisRecord {
	out := make([]*domain.DefectAnalysisRecord, 0, len(results))
	for _, r := range results {
		if r.Record != nil {
			out = append(out, r.Record)
		}
	}
	return out
}
