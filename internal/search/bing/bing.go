// Package bing scrapes Bing Images result pages.
package bing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	"github.com/JakeFAU/catalog-image-sourcer/internal/search"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// DefaultBaseURL is the public endpoint.
const DefaultBaseURL = "https://www.bing.com"

// ResultMarker is present in every result page that carries tiles.
const ResultMarker = `iusc`

// Config controls the searcher.
type Config struct {
	BaseURL       string
	MaxCandidates int
}

// Searcher reads the JSON metadata Bing embeds in the m attribute of each
// a.iusc result tile.
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

type tileMeta struct {
	MURL string `json:"murl"`
	T    string `json:"t"`
	Desc string `json:"desc"`
}

// Search implements sourcing.Searcher.
func (s *Searcher) Search(ctx context.Context, query string) ([]sourcing.Candidate, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("form", "HDRSC2")
	params.Set("first", "1")
	headers := http.Header{"Accept-Language": {"en-US,en;q=0.9"}}

	resp, err := search.Fetch(ctx, s.fetcher, s.cfg.BaseURL+"/images/search?"+params.Encode(), headers)
	if err != nil {
		return search.Fail(ctx, s.logger, sourcing.BackendBing, query, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return search.Fail(ctx, s.logger, sourcing.BackendBing, query, fmt.Errorf("parse results: %w", err))
	}

	c := search.NewCollector(s.cfg.MaxCandidates)
	doc.Find("a.iusc").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw, ok := sel.Attr("m")
		if !ok || raw == "" {
			return true
		}
		var meta tileMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			s.logger.Debug("skipping malformed tile", zap.String("query", query), zap.Error(err))
			return true
		}
		title := strings.TrimSpace(meta.T)
		if title == "" {
			title = strings.TrimSpace(meta.Desc)
		}
		return c.Add(strings.TrimSpace(meta.MURL), title)
	})
	return search.Done(sourcing.BackendBing, c), nil
}
