// Package fetcher defines the transport contract shared by the static (colly)
// and rendered (chromedp) fetchers used by the search backends.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Request captures everything needed to fetch a URL.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the result returned by a Fetcher implementation.
type Response struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the response Content-Type header, if any.
func (r Response) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// StatusError reports a response with a non-success HTTP status.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// Detector decides whether a static response needs a rendered retry.
type Detector interface {
	ShouldPromote(resp Response) bool
}

// Promoting fetches statically first and retries through a headless
// fetcher when the detector flags the page as a script shell.
type Promoting struct {
	static   Fetcher
	headless Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting wires a static and a headless fetcher. A nil headless fetcher
// or detector disables promotion.
func NewPromoting(static, headless Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{static: static, headless: headless, detector: detector, logger: logger}
}

// Fetch implements Fetcher.
func (p *Promoting) Fetch(ctx context.Context, req Request) (Response, error) {
	resp, err := p.static.Fetch(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	p.logger.Debug("promoting to headless fetch", zap.String("url", req.URL))
	rendered, err := p.headless.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, err
		}
		p.logger.Warn("headless fetch failed, keeping static body", zap.String("url", req.URL), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}
