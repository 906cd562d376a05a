// Package batch runs the replenishment policy across many SKUs
// concurrently (spec.md §5): proposal generation is a pure function of
// the snapshot read at the start, so SKUs are independent and safe to
// fan out, bounded by a worker limit, cooperatively cancelable between
// SKUs but never mid-SKU.
package batch

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pinggolf/stockledger/internal/logger"
)

// ProposeFunc computes one SKU's replenishment proposal. It must not
// depend on the order other SKUs are processed in.
type ProposeFunc func(ctx context.Context, sku string) (Proposal, error)

// Proposal is one SKU's outcome from a batch run. Extra is opaque to
// this package: callers put whatever detail their proposal call
// returned (e.g. a policy.Breakdown) there, wrapped by their ProposeFunc.
type Proposal struct {
	Sku   string
	Qty   int
	Extra any
}

// Result is one SKU's outcome, success or failure.
type Result struct {
	Sku      string
	Proposal Proposal
	Err      error
}

// Runner fans ProposeFunc out across SKUs with bounded concurrency.
type Runner struct {
	propose     ProposeFunc
	concurrency int
}

// NewRunner returns a Runner that calls propose for each SKU with at
// most concurrency calls in flight at once. concurrency <= 0 means
// unbounded (one goroutine per SKU).
func NewRunner(propose ProposeFunc, concurrency int) *Runner {
	return &Runner{propose: propose, concurrency: concurrency}
}

// Run proposes for every sku in skus. It never aborts the whole batch
// because one SKU failed — each failure is captured in that SKU's
// Result.Err and the rest continue. Only ctx cancellation (caller-driven,
// e.g. an operator abort) stops picking up new SKUs; a SKU already in
// flight always finishes (spec.md §5: "no cancellation mid-SKU").
// Results are returned in the same order as skus, regardless of
// completion order.
func (r *Runner) Run(ctx context.Context, skus []string) []Result {
	results := make([]Result, len(skus))
	indexOf := make(map[string]int, len(skus))
	for i, sku := range skus {
		indexOf[sku] = i
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(context.Background()) // gctx intentionally independent of caller cancellation mid-SKU
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}

	for _, sku := range skus {
		sku := sku
		select {
		case <-ctx.Done():
			mu.Lock()
			results[indexOf[sku]] = Result{Sku: sku, Err: ctx.Err()}
			mu.Unlock()
			continue
		default:
		}

		g.Go(func() error {
			proposal, err := r.propose(gctx, sku)
			mu.Lock()
			results[indexOf[sku]] = Result{Sku: sku, Proposal: proposal, Err: err}
			mu.Unlock()
			if err != nil {
				logger.Warn("BATCH", "propose failed for "+sku+": "+err.Error())
			}
			return nil // never short-circuit the group; each SKU's error is local
		})
	}
	g.Wait()

	return results
}

// Summary reports aggregate counts for an end-of-run log line.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	SkippedSkus []string
}

// Summarize reduces Run's results into a Summary; the skipped list is
// sorted by sku.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Err != nil {
			s.Failed++
			s.SkippedSkus = append(s.SkippedSkus, r.Sku)
			continue
		}
		s.Succeeded++
	}
	sort.Strings(s.SkippedSkus)
	return s
}
