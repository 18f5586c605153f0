// Package collyfetcher implements the static search and download transport
// using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	"github.com/JakeFAU/catalog-image-sourcer/internal/metrics"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 20 << 20
)

// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Config controls collector behavior.
type Config struct {
	// UserAgent pins a fixed agent; empty rotates a random one per request.
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Waiter delays a request until the target host may be contacted.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements fetcher.Fetcher and sourcing.Downloader using the Colly
// collector.
type Fetcher struct {
	cfg           Config
	limiter       Waiter
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. The limiter may be nil.
func New(cfg Config, limiter Waiter) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	if err := ctx.Err(); err != nil {
		return fetcher.Response{}, fmt.Errorf("colly fetch canceled: %w", err)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return fetcher.Response{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var (
		result   fetcher.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return fetcher.Response{}, err
	}
	if len(result.Body) > f.cfg.MaxBodyBytes {
		return fetcher.Response{}, fmt.Errorf("fetch %s: %w", request.URL, ErrBodyTooLarge)
	}
	return result, nil
}

// Download fetches an image body. HTML responses and empty bodies are
// rejected so a landing page never gets saved as an image.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (sourcing.Image, error) {
	resp, err := f.Fetch(ctx, fetcher.Request{URL: rawURL})
	if err != nil {
		metrics.ObserveDownload(rawURL, metrics.ResultError, 0)
		return sourcing.Image{}, err
	}
	if len(resp.Body) == 0 {
		metrics.ObserveDownload(rawURL, metrics.ResultEmpty, 0)
		return sourcing.Image{}, fmt.Errorf("download %s: %w", rawURL, sourcing.ErrEmptyBody)
	}
	contentType := resp.ContentType()
	if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
		metrics.ObserveDownload(rawURL, metrics.ResultError, len(resp.Body))
		return sourcing.Image{}, fmt.Errorf("download %s: unexpected content type %q", rawURL, contentType)
	}
	metrics.ObserveDownload(rawURL, metrics.ResultOK, len(resp.Body))
	return sourcing.Image{URL: resp.URL, ContentType: contentType, Body: resp.Body}, nil
}

func (f *Fetcher) buildCollector(
	request fetcher.Request,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	} else {
		extensions.RandomUserAgent(collector)
	}
	// One extra byte lets an oversized body be told apart from one that fits.
	collector.MaxBodySize = f.cfg.MaxBodyBytes + 1
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request fetcher.Request,
	start time.Time,
	result *fetcher.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = fetcher.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = &fetcher.StatusError{Code: r.StatusCode, Err: err}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
