// Package yahoo scrapes Yahoo Images result pages.
package yahoo

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	"github.com/JakeFAU/catalog-image-sourcer/internal/search"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// DefaultBaseURL is the public endpoint.
const DefaultBaseURL = "https://images.search.yahoo.com"

// ResultMarker is present in every result page that carries thumbnails.
const ResultMarker = `data-src`

// Config controls the searcher.
type Config struct {
	BaseURL       string
	MaxCandidates int
}

// Searcher takes every lazily loaded thumbnail (img[data-src]) with its alt
// text as the title.
type Searcher struct {
	cfg     Config
	fetcher fetcher.Fetcher
	logger  *zap.Logger
}

// New builds a Searcher.
func New(cfg Config, f fetcher.Fetcher, logger *zap.Logger) *Searcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{cfg: cfg, fetcher: f, logger: logger}
}

// Search implements sourcing.Searcher.
func (s *Searcher) Search(ctx context.Context, query string) ([]sourcing.Candidate, error) {
	resp, err := search.Fetch(ctx, s.fetcher, s.cfg.BaseURL+"/search/images?p="+url.QueryEscape(query), nil)
	if err != nil {
		return search.Fail(ctx, s.logger, sourcing.BackendYahoo, query, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return search.Fail(ctx, s.logger, sourcing.BackendYahoo, query, fmt.Errorf("parse results: %w", err))
	}

	c := search.NewCollector(s.cfg.MaxCandidates)
	doc.Find("img[data-src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := strings.TrimSpace(sel.AttrOr("data-src", ""))
		alt := strings.TrimSpace(sel.AttrOr("alt", ""))
		return c.Add(src, alt)
	})
	return search.Done(sourcing.BackendYahoo, c), nil
}
