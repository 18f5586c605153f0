package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second, MaxBodyBytes: 10}, nil)
	collector := f.buildCollector(fetcher.Request{URL: "https://example.com"}, time.Unix(0, 0), &fetcher.Response{}, new(error))
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.Equal(t, 11, collector.MaxBodySize)
	assert.True(t, collector.AllowURLRevisit)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	req := fetcher.Request{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result fetcher.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	require.EqualError(t, fetchErr, "status 403: Forbidden")
	var statusErr *fetcher.StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	collyReq := &colly.Request{Headers: &http.Header{}}
	copyHeaders(nil, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func TestFetchAgainstServer(t *testing.T) {
	t.Parallel()

	var gotAgents []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAgents = append(gotAgents, r.UserAgent())
		mu.Unlock()
		assert.Equal(t, "https://duckduckgo.com/", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	limiter := &countingWaiter{}
	f := New(Config{Timeout: time.Second}, limiter)
	req := fetcher.Request{URL: srv.URL + "/page", Headers: http.Header{"Referer": {"https://duckduckgo.com/"}}}

	for range 2 {
		resp, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "<html>ok</html>", string(resp.Body))
		assert.Equal(t, "text/html", resp.ContentType())
	}
	assert.Equal(t, 2, limiter.calls)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotAgents, 2)
	for _, ua := range gotAgents {
		assert.NotEmpty(t, ua)
	}
}

func TestFetchReportsHTTPErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Timeout: time.Second}, nil).Fetch(context.Background(), fetcher.Request{URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestFetchRespectsLimiterError(t *testing.T) {
	t.Parallel()

	f := New(Config{}, &countingWaiter{err: context.DeadlineExceeded})
	_, err := f.Fetch(context.Background(), fetcher.Request{URL: "http://127.0.0.1:1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}, nil).Fetch(ctx, fetcher.Request{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/apple.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG-bytes"))
		case "/empty.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
		case "/landing":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html></html>"))
		case "/huge.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: time.Second, MaxBodyBytes: 32}, nil)

	img, err := f.Download(context.Background(), srv.URL+"/apple.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, "\x89PNG-bytes", string(img.Body))
	assert.Equal(t, srv.URL+"/apple.png", img.URL)

	_, err = f.Download(context.Background(), srv.URL+"/empty.jpg")
	require.ErrorIs(t, err, sourcing.ErrEmptyBody)

	_, err = f.Download(context.Background(), srv.URL+"/landing")
	require.ErrorContains(t, err, "unexpected content type")

	_, err = f.Download(context.Background(), srv.URL+"/huge.jpg")
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type countingWaiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return w.err
}
