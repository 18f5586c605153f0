// Package duckduckgo implements the structured DuckDuckGo image search.
package duckduckgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-sourcer/internal/fetcher"
	"github.com/JakeFAU/catalog-image-sourcer/internal/search"
	"github.com/JakeFAU/catalog-image-sourcer/internal/sourcing"
)

// DefaultBaseURL is the public endpoint.
const DefaultBaseURL = "https://duckduckgo.com"

var errNoToken = errors.New("vqd token not found")

var vqdPattern = regexp.MustCompile(`vqd=["']?([0-9][0-9-]*)`)

// Config controls the searcher.
type Config struct {
	BaseURL       string
	MaxCandidates int
	Region        string
	SafeSearch    string
}

// Searcher queries DuckDuckGo images in two steps: a landing-page request
// yields the vqd token, then the JSON endpoint returns results.
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
	if cfg.Region == "" {
		cfg.Region = "us-en"
	}
	if cfg.SafeSearch == "" {
		cfg.SafeSearch = "1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{cfg: cfg, fetcher: f, logger: logger}
}

type response struct {
	Results []struct {
		Image string `json:"image"`
		Title string `json:"title"`
	} `json:"results"`
}

// Search implements sourcing.Searcher.
func (s *Searcher) Search(ctx context.Context, query string) ([]sourcing.Candidate, error) {
	token, err := s.token(ctx, query)
	if err != nil {
		return search.Fail(ctx, s.logger, sourcing.BackendDuckDuckGo, query, err)
	}

	params := url.Values{}
	params.Set("l", s.cfg.Region)
	params.Set("o", "json")
	params.Set("q", query)
	params.Set("vqd", token)
	params.Set("f", ",,,,,")
	params.Set("p", s.cfg.SafeSearch)
	headers := http.Header{
		"Referer": {s.cfg.BaseURL + "/"},
		"Accept":  {"application/json, text/javascript, */*; q=0.01"},
	}
	resp, err := search.Fetch(ctx, s.fetcher, s.cfg.BaseURL+"/i.js?"+params.Encode(), headers)
	if err != nil {
		return search.Fail(ctx, s.logger, sourcing.BackendDuckDuckGo, query, err)
	}

	var payload response
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return search.Fail(ctx, s.logger, sourcing.BackendDuckDuckGo, query, fmt.Errorf("decode results: %w", err))
	}

	c := search.NewCollector(s.cfg.MaxCandidates)
	for _, r := range payload.Results {
		if !c.Add(strings.TrimSpace(r.Image), strings.TrimSpace(r.Title)) {
			break
		}
	}
	return search.Done(sourcing.BackendDuckDuckGo, c), nil
}

func (s *Searcher) token(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("iax", "images")
	params.Set("ia", "images")
	resp, err := search.Fetch(ctx, s.fetcher, s.cfg.BaseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	m := vqdPattern.FindSubmatch(resp.Body)
	if m == nil {
		return "", errNoToken
	}
	return string(m[1]), nil
}
