// Package search holds the pieces shared by the image-search backends: result
// capping, failure handling and the backend registry.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	"github.com/JakeFAU/catalog-image-sourcer/internal/metrics"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// Collector accumulates usable candidates up to a cap, preserving provider
// order.
type Collector struct {
	max   int
	items []sourcing.Candidate
}

// NewCollector creates a collector capped at max (DefaultMaxCandidates when
// max is not positive).
func NewCollector(max int) *Collector {
	if max <= 0 {
		max = sourcing.DefaultMaxCandidates
	}
	return &Collector{max: max, items: make([]sourcing.Candidate, 0, max)}
}

// Add appends a candidate if it is usable. It reports false once the cap is
// reached so callers can stop iterating.
func (c *Collector) Add(imageURL, title string) bool {
	if len(c.items) >= c.max {
		return false
	}
	cand := sourcing.Candidate{ImageURL: imageURL, Title: title, Rank: len(c.items)}
	if cand.Usable() {
		c.items = append(c.items, cand)
	}
	return len(c.items) < c.max
}

// Candidates returns the collected results.
func (c *Collector) Candidates() []sourcing.Candidate {
	return c.items
}

// Fetch performs a GET through f and rejects non-200 responses.
func Fetch(ctx context.Context, f fetcher.Fetcher, rawURL string, headers http.Header) (fetcher.Response, error) {
	resp, err := f.Fetch(ctx, fetcher.Request{URL: rawURL, Headers: headers})
	if err != nil {
		return fetcher.Response{}, fmt.Errorf("fetch results: %w", err)
	}
	if resp.StatusCode != 0 && resp.StatusCode != http.StatusOK {
		return fetcher.Response{}, fmt.Errorf("fetch results: unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

// Fail converts a provider error into the Searcher contract: cancellation is
// returned, anything else is logged and yields an empty result.
func Fail(ctx context.Context, logger *zap.Logger, backend sourcing.Backend, query string, err error) ([]sourcing.Candidate, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	msg := "search failed"
	if errors.Is(err, context.DeadlineExceeded) {
		// A fetch timeout while the caller is still alive is a provider failure.
		msg = "search timed out"
	}
	logger.Warn(msg, zap.String("backend", string(backend)), zap.String("query", query), zap.Error(err))
	metrics.ObserveSearch(string(backend), metrics.ResultError, 0)
	return []sourcing.Candidate{}, nil
}

// Done records metrics for a completed search and returns its candidates.
func Done(backend sourcing.Backend, c *Collector) []sourcing.Candidate {
	cands := c.Candidates()
	result := metrics.ResultOK
	if len(cands) == 0 {
		result = metrics.ResultEmpty
	}
	metrics.ObserveSearch(string(backend), result, len(cands))
	return cands
}
